// SPDX-License-Identifier: MPL-2.0

// Package config loads and validates servicebay configuration.
//
// Configuration lives in a CUE file resolved from an explicit path, the
// platform config directory (ConfigDir), or the current directory, in that
// order. Files are validated against an embedded CUE schema and merged
// over built-in defaults; SERVICEBAY_* environment variables override
// individual fields after the merge. Because environment overrides never
// pass through the schema, the decoded Config is re-validated before it is
// returned.
package config

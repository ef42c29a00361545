// SPDX-License-Identifier: MPL-2.0

// Package fsutil provides filesystem plumbing shared by the image and
// checkpoint packages: chunked context-aware file copies, streaming content
// digests, atomic file replacement, and path containment checks.
package fsutil

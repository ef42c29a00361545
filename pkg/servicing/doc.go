// SPDX-License-Identifier: MPL-2.0

// Package servicing defines the executor contract through which image
// handlers delegate bit-level container work (in-place mounts, unmounts,
// archive extraction, repacking) to external servicing tools.
//
// The package ships a default CLIExecutor that shells out to the standard
// tools for each format family (wimlib-imagex, guestmount, xorriso, 7z).
// Integrations with other backends implement the Executor interface.
package servicing

// SPDX-License-Identifier: MPL-2.0

// Package lockfile provides best-effort cross-process advisory locks for
// image artifacts. Locks are plain flock(2) holds on well-known lock files;
// the kernel releases them automatically when the owning process exits,
// so an orphaned zero-byte lock file is harmless.
//
// On platforms without flock support Acquire returns ErrUnavailable and
// callers proceed without cross-process protection.
package lockfile

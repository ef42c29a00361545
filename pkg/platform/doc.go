// SPDX-License-Identifier: MPL-2.0

// Package platform provides cross-platform compatibility utilities.
//
// This package contains utilities for handling platform-specific concerns:
// Windows reserved filenames that cannot appear inside serviced images, and
// detection of application sandboxes (Flatpak, Snap) that require servicing
// tools to be spawned on the host.
package platform

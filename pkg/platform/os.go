// SPDX-License-Identifier: MPL-2.0

package platform

// OS name constants for runtime.GOOS comparisons.
// Centralizes the string literals used by the config-dir resolution.
const (
	Windows = "windows"
	Darwin  = "darwin"
)

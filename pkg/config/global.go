// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride allows tests to redirect ConfigDir without touching
// the real user environment.
var configDirOverride string

// Reset clears the config directory override (for testing)
func Reset() {
	configDirOverride = ""
}

// SetConfigDirOverride sets a config directory override (for testing)
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}

// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"runtime"
	"testing"
)

// SetHomeDir points the platform home variable (HOME, or USERPROFILE on
// Windows) at dir and returns a cleanup that restores the original value.
// Config and checkpoint-store tests use it to redirect default directory
// resolution (ConfigDir, CheckpointsDir) into a temp directory:
//
//	tmpDir := t.TempDir()
//	t.Cleanup(testutil.SetHomeDir(t, tmpDir))
func SetHomeDir(t testing.TB, dir string) func() {
	t.Helper()

	switch runtime.GOOS {
	case "windows":
		return MustSetenv(t, "USERPROFILE", dir)
	default:
		return MustSetenv(t, "HOME", dir)
	}
}

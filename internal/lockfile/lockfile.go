// SPDX-License-Identifier: MPL-2.0

package lockfile

import (
	"errors"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// ErrUnavailable is returned by Acquire on platforms without flock support.
// Callers are expected to continue without cross-process protection.
var ErrUnavailable = errors.New("file locking not available on this platform")

// PathFor derives the lock file path for the given key (typically an
// absolute artifact path) inside dir. The key is digested so arbitrary
// paths map to flat, filesystem-safe file names.
func PathFor(dir, key string) string {
	name := digest.FromString(filepath.Clean(key)).Encoded()[:16] + ".lock"
	return filepath.Join(dir, name)
}

// SPDX-License-Identifier: MPL-2.0

//go:build linux

package lockfile

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// Lock holds a blocking exclusive flock on a lock file, serializing
// checkpoint and restore activity on one artifact across processes.
type Lock struct {
	file *os.File
}

// Acquire opens (or creates) the lock file at path and acquires a blocking
// exclusive flock. The call blocks until the lock is available.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	return &Lock{file: f}, nil
}

// Release unlocks the flock and closes the file descriptor. It is safe to
// call multiple times; subsequent calls are no-ops.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	// LOCK_UN before Close for explicitness; Close also releases the flock.
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		slog.Debug("flock unlock failed", "error", err)
	}
	if err := l.file.Close(); err != nil {
		slog.Debug("lock file close failed", "error", err)
	}
	l.file = nil
}

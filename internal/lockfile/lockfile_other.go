// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package lockfile

// Lock is the stub for platforms without flock support. Release is a no-op.
type Lock struct{}

// Acquire returns ErrUnavailable on platforms without flock support.
// Callers proceed without cross-process protection.
func Acquire(path string) (*Lock, error) {
	return nil, ErrUnavailable
}

// Release is a no-op on platforms without flock support.
func (l *Lock) Release() {}

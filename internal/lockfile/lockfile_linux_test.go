// SPDX-License-Identifier: MPL-2.0

//go:build linux

package lockfile

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquire_CreatesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "artifact.lock")
	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	defer lock.Release()

	if _, statErr := os.Stat(path); statErr != nil {
		t.Errorf("lock file not found at %s: %v", path, statErr)
	}
}

func TestAcquire_BlocksConcurrent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "artifact.lock")
	lockA, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() A: %v", err)
	}

	// Track whether goroutine B has acquired the lock.
	var acquired atomic.Bool

	done := make(chan struct{})
	go func() {
		defer close(done)
		lockB, bErr := Acquire(path)
		if bErr != nil {
			t.Errorf("Acquire() B: %v", bErr)
			return
		}
		acquired.Store(true)
		lockB.Release()
	}()

	// Give goroutine B time to attempt the lock. It should be blocked.
	time.Sleep(100 * time.Millisecond)
	if acquired.Load() {
		t.Fatal("goroutine B acquired the lock while A still held it")
	}

	// Release A; B should now acquire.
	lockA.Release()

	select {
	case <-done:
		if !acquired.Load() {
			t.Fatal("goroutine B never acquired the lock after A released")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for goroutine B to acquire the lock")
	}
}

func TestLock_Release_Idempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "artifact.lock")
	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	// Double-release must not panic.
	lock.Release()
	lock.Release()
}

func TestLock_Release_NilReceiver(t *testing.T) {
	t.Parallel()

	// Nil receiver must not panic.
	var lock *Lock
	lock.Release()
}

// SPDX-License-Identifier: MPL-2.0

package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/servicebay/servicebay/pkg/servicing"
)

// fakeExecutor records requests and materializes a canned file tree on mount
// and extract. Batch tasks drive it concurrently, so access is serialized.
type fakeExecutor struct {
	mu       sync.Mutex
	mounts   []servicing.MountRequest
	unmounts []servicing.UnmountRequest
	extracts []servicing.ExtractRequest
	repacks  []servicing.RepackRequest

	populate map[string]string // rel path -> content, written on mount/extract
	mountErr error
}

func (f *fakeExecutor) Mount(_ context.Context, req servicing.MountRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounts = append(f.mounts, req)
	if f.mountErr != nil {
		return f.mountErr
	}
	return f.populateTree(req.MountPoint)
}

func (f *fakeExecutor) Unmount(_ context.Context, req servicing.UnmountRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unmounts = append(f.unmounts, req)
	return nil
}

func (f *fakeExecutor) Extract(_ context.Context, req servicing.ExtractRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extracts = append(f.extracts, req)
	return f.populateTree(req.TargetDir)
}

func (f *fakeExecutor) Repack(_ context.Context, req servicing.RepackRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repacks = append(f.repacks, req)
	return nil
}

func (f *fakeExecutor) populateTree(dir string) error {
	for rel, content := range f.populate {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeExecutor) mountRequests() []servicing.MountRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]servicing.MountRequest(nil), f.mounts...)
}

func (f *fakeExecutor) unmountRequests() []servicing.UnmountRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]servicing.UnmountRequest(nil), f.unmounts...)
}

func (f *fakeExecutor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mounts) + len(f.unmounts) + len(f.extracts) + len(f.repacks)
}

func writeArtifacts(t *testing.T, n int) []string {
	t.Helper()

	dir := t.TempDir()
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("art%d.wim", i))
		if err := os.WriteFile(path, []byte("artifact content"), 0o644); err != nil {
			t.Fatalf("write artifact: %v", err)
		}
		paths = append(paths, path)
	}
	return paths
}

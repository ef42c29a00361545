// SPDX-License-Identifier: MPL-2.0

package image

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/servicebay/servicebay/pkg/servicing"
)

// fakeExecutor implements servicing.Executor in-process for handler
// tests. It records every request, can fail any method on command, and
// populates mount/staging trees with canned files so the file operations
// have something to work on.
type fakeExecutor struct {
	mounts   []servicing.MountRequest
	unmounts []servicing.UnmountRequest
	extracts []servicing.ExtractRequest
	repacks  []servicing.RepackRequest

	mountErr   error
	unmountErr error
	extractErr error
	repackErr  error

	// populate maps mount-relative paths to file contents written into
	// the mount or staging directory on a successful Mount or Extract.
	populate map[string]string
}

func (f *fakeExecutor) Mount(_ context.Context, req servicing.MountRequest) error {
	f.mounts = append(f.mounts, req)
	if f.mountErr != nil {
		return f.mountErr
	}
	return f.populateTree(req.MountPoint)
}

func (f *fakeExecutor) Unmount(_ context.Context, req servicing.UnmountRequest) error {
	f.unmounts = append(f.unmounts, req)
	return f.unmountErr
}

func (f *fakeExecutor) Extract(_ context.Context, req servicing.ExtractRequest) error {
	f.extracts = append(f.extracts, req)
	if f.extractErr != nil {
		return f.extractErr
	}
	return f.populateTree(req.TargetDir)
}

func (f *fakeExecutor) Repack(_ context.Context, req servicing.RepackRequest) error {
	f.repacks = append(f.repacks, req)
	return f.repackErr
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

func (f *fakeExecutor) calls() int {
	return len(f.mounts) + len(f.unmounts) + len(f.extracts) + len(f.repacks)
}

// writeArtifact creates an artifact file with the given contents and
// returns its path.
func writeArtifact(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write artifact %s: %v", name, err)
	}
	return path
}

// isoBytes builds the smallest byte layout that passes the optical-disc
// signature check: the standard identifier at the volume descriptor
// offset.
func isoBytes() []byte {
	data := make([]byte, isoMagicOffset+len(isoMagic))
	copy(data[isoMagicOffset:], isoMagic)
	return data
}

// ppkgBytes builds a byte layout that passes the provisioning-package
// signature check.
func ppkgBytes() []byte {
	return append([]byte(ppkgMagic), []byte("package payload")...)
}

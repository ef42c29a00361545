// SPDX-License-Identifier: MPL-2.0

package batch

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/servicebay/servicebay/pkg/image"
)

func TestInfoOp_NeverMounts(t *testing.T) {
	t.Parallel()

	proc, exec := newTestProcessor(t)
	artifacts := writeArtifacts(t, 2)

	results, err := proc.Process(context.Background(), artifacts, InfoOp(), ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	for _, r := range results {
		if r.Failed() {
			t.Fatalf("InfoOp failed for %s: %s", r.Artifact, r.Err)
		}
		info, ok := r.Payload.(*image.Info)
		if !ok {
			t.Fatalf("payload type = %T, want *image.Info", r.Payload)
		}
		if info.Format != image.FormatWIM {
			t.Errorf("Info.Format = %s, want %s", info.Format, image.FormatWIM)
		}
	}
	if n := exec.calls(); n != 0 {
		t.Errorf("executor calls = %d, want 0 for InfoOp", n)
	}
}

func TestListFilesOp_ReadOnlyAndDiscards(t *testing.T) {
	t.Parallel()

	proc, exec := newTestProcessor(t)
	exec.populate = map[string]string{"a.txt": "x", "sub/b.txt": "y"}
	artifacts := writeArtifacts(t, 1)

	results, err := proc.Process(context.Background(), artifacts, ListFilesOp(""), ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	res := results[0]
	if res.Failed() {
		t.Fatalf("ListFilesOp failed: %s", res.Err)
	}
	files, ok := res.Payload.([]string)
	if !ok {
		t.Fatalf("payload type = %T, want []string", res.Payload)
	}
	if want := []string{"a.txt", "sub/b.txt"}; !reflect.DeepEqual(files, want) {
		t.Errorf("files = %v, want %v", files, want)
	}

	mounts := exec.mountRequests()
	if len(mounts) != 1 || !mounts[0].ReadOnly {
		t.Errorf("mount requests = %+v, want one read-only mount", mounts)
	}
	unmounts := exec.unmountRequests()
	if len(unmounts) != 1 || unmounts[0].Commit {
		t.Errorf("unmount requests = %+v, want one discarding unmount", unmounts)
	}
}

func TestAddFileOp_CommitsOnSuccess(t *testing.T) {
	t.Parallel()

	proc, exec := newTestProcessor(t)
	artifacts := writeArtifacts(t, 1)

	src := filepath.Join(t.TempDir(), "payload.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	results, err := proc.Process(context.Background(), artifacts, AddFileOp(src, "conf/payload.txt"), ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	res := results[0]
	if res.Failed() {
		t.Fatalf("AddFileOp failed: %s", res.Err)
	}
	if res.Payload != "conf/payload.txt" {
		t.Errorf("payload = %v, want destination path", res.Payload)
	}

	mounts := exec.mountRequests()
	if len(mounts) != 1 || mounts[0].ReadOnly {
		t.Errorf("mount requests = %+v, want one read-write mount", mounts)
	}
	unmounts := exec.unmountRequests()
	if len(unmounts) != 1 || !unmounts[0].Commit {
		t.Errorf("unmount requests = %+v, want one committing unmount", unmounts)
	}
}

func TestRemoveFileOp_DiscardsOnFailure(t *testing.T) {
	t.Parallel()

	proc, exec := newTestProcessor(t)
	artifacts := writeArtifacts(t, 1)

	results, err := proc.Process(context.Background(), artifacts, RemoveFileOp("missing.txt"), ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	res := results[0]
	if !res.Failed() {
		t.Fatal("RemoveFileOp on a missing file did not fail")
	}

	unmounts := exec.unmountRequests()
	if len(unmounts) != 1 || unmounts[0].Commit {
		t.Errorf("unmount requests = %+v, want one discarding unmount after failure", unmounts)
	}
}

func TestRemoveFileOp_CommitsOnSuccess(t *testing.T) {
	t.Parallel()

	proc, exec := newTestProcessor(t)
	exec.populate = map[string]string{"stale.cfg": "old"}
	artifacts := writeArtifacts(t, 1)

	results, err := proc.Process(context.Background(), artifacts, RemoveFileOp("stale.cfg"), ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res := results[0]; res.Failed() {
		t.Fatalf("RemoveFileOp failed: %s", res.Err)
	}

	unmounts := exec.unmountRequests()
	if len(unmounts) != 1 || !unmounts[0].Commit {
		t.Errorf("unmount requests = %+v, want one committing unmount", unmounts)
	}
}

func TestExtractFileOp_PerArtifactSubdir(t *testing.T) {
	t.Parallel()

	proc, exec := newTestProcessor(t)
	exec.populate = map[string]string{"logs/setup.log": "log data"}
	artifacts := writeArtifacts(t, 2)
	dstDir := t.TempDir()

	results, err := proc.Process(context.Background(), artifacts, ExtractFileOp("logs/setup.log", dstDir), ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	for _, r := range results {
		if r.Failed() {
			t.Fatalf("ExtractFileOp failed for %s: %s", r.Artifact, r.Err)
		}
		want := filepath.Join(dstDir, filepath.Base(r.Artifact), "logs", "setup.log")
		if r.Payload != want {
			t.Errorf("payload = %v, want %s", r.Payload, want)
		}
		data, err := os.ReadFile(want)
		if err != nil {
			t.Fatalf("read extracted file: %v", err)
		}
		if string(data) != "log data" {
			t.Errorf("extracted content = %q, want %q", data, "log data")
		}
	}
}

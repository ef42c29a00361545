// SPDX-License-Identifier: MPL-2.0

package image

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/servicebay/servicebay/pkg/servicing"
)

func newMountedWIM(t *testing.T, fake *fakeExecutor, opts MountOptions) (*WIMHandler, string) {
	t.Helper()

	artifact := writeArtifact(t, t.TempDir(), "base.wim", []byte("wim bytes"))
	h, err := NewWIMHandler(artifact, fake)
	if err != nil {
		t.Fatalf("NewWIMHandler() error = %v", err)
	}

	mountPoint, err := h.Mount(context.Background(), opts)
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(mountPoint) })
	return h, mountPoint
}

func TestNewWIMHandler_MissingArtifact(t *testing.T) {
	t.Parallel()

	_, err := NewWIMHandler(filepath.Join(t.TempDir(), "absent.wim"), &fakeExecutor{})
	if !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("NewWIMHandler() error = %v, want ErrImageNotFound", err)
	}

	notFound, ok := errors.AsType[*ImageNotFoundError](err)
	if !ok {
		t.Fatalf("error type = %T, want *ImageNotFoundError", err)
	}
	if notFound.Path == "" {
		t.Error("ImageNotFoundError.Path is empty")
	}
}

func TestNewWIMHandler_NilExecutor(t *testing.T) {
	t.Parallel()

	artifact := writeArtifact(t, t.TempDir(), "base.wim", []byte("wim bytes"))
	if _, err := NewWIMHandler(artifact, nil); err == nil {
		t.Fatal("NewWIMHandler(nil executor) error = nil, want error")
	}
}

func TestMount_PassesRequestThrough(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{}
	h, mountPoint := newMountedWIM(t, fake, MountOptions{Selector: 2, ReadOnly: true})

	if len(fake.mounts) != 1 {
		t.Fatalf("executor mount invocations = %d, want 1", len(fake.mounts))
	}

	req := fake.mounts[0]
	if req.Artifact != h.Path() {
		t.Errorf("MountRequest.Artifact = %q, want %q", req.Artifact, h.Path())
	}
	if req.Kind != servicing.KindWIM {
		t.Errorf("MountRequest.Kind = %q, want %q", req.Kind, servicing.KindWIM)
	}
	if req.Selector != 2 {
		t.Errorf("MountRequest.Selector = %d, want 2", req.Selector)
	}
	if !req.ReadOnly {
		t.Error("MountRequest.ReadOnly = false, want true")
	}
	if req.MountPoint != mountPoint {
		t.Errorf("MountRequest.MountPoint = %q, want %q", req.MountPoint, mountPoint)
	}
}

func TestMount_Idempotent(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{}
	h, first := newMountedWIM(t, fake, MountOptions{})

	second, err := h.Mount(context.Background(), MountOptions{Selector: 3})
	if err != nil {
		t.Fatalf("second Mount() error = %v", err)
	}
	if second != first {
		t.Errorf("second Mount() = %q, want the first mount point %q", second, first)
	}
	if len(fake.mounts) != 1 {
		t.Errorf("executor mount invocations = %d, want exactly 1", len(fake.mounts))
	}
}

func TestMount_NegativeSelector(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{}
	artifact := writeArtifact(t, t.TempDir(), "base.wim", []byte("wim bytes"))
	h, err := NewWIMHandler(artifact, fake)
	if err != nil {
		t.Fatalf("NewWIMHandler() error = %v", err)
	}

	if _, err := h.Mount(context.Background(), MountOptions{Selector: -1}); !errors.Is(err, ErrMount) {
		t.Fatalf("Mount() error = %v, want ErrMount", err)
	}
	if fake.calls() != 0 {
		t.Errorf("executor invocations = %d, want 0", fake.calls())
	}
}

func TestMount_FailureRemovesOwnedDir(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{mountErr: errors.New("tool exploded")}
	artifact := writeArtifact(t, t.TempDir(), "base.wim", []byte("wim bytes"))
	h, err := NewWIMHandler(artifact, fake)
	if err != nil {
		t.Fatalf("NewWIMHandler() error = %v", err)
	}

	_, err = h.Mount(context.Background(), MountOptions{})
	if !errors.Is(err, ErrMount) {
		t.Fatalf("Mount() error = %v, want ErrMount", err)
	}

	if len(fake.mounts) != 1 {
		t.Fatalf("executor mount invocations = %d, want 1", len(fake.mounts))
	}
	if _, statErr := os.Stat(fake.mounts[0].MountPoint); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("mount dir still present after failed mount: stat = %v", statErr)
	}
	if h.Mounted() {
		t.Error("Mounted() = true after failed mount")
	}
}

func TestMount_HintDirSurvivesFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{mountErr: errors.New("tool exploded")}
	artifact := writeArtifact(t, t.TempDir(), "base.wim", []byte("wim bytes"))
	h, err := NewWIMHandler(artifact, fake)
	if err != nil {
		t.Fatalf("NewWIMHandler() error = %v", err)
	}

	hint := filepath.Join(t.TempDir(), "mnt")
	if _, err := h.Mount(context.Background(), MountOptions{MountPoint: hint}); !errors.Is(err, ErrMount) {
		t.Fatalf("Mount() error = %v, want ErrMount", err)
	}

	// Caller-provided directories are never removed by the handler.
	if _, statErr := os.Stat(hint); statErr != nil {
		t.Errorf("hint dir removed after failed mount: stat = %v", statErr)
	}
}

func TestUnmount_NotMountedIsNoOp(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{}
	artifact := writeArtifact(t, t.TempDir(), "base.wim", []byte("wim bytes"))
	h, err := NewWIMHandler(artifact, fake)
	if err != nil {
		t.Fatalf("NewWIMHandler() error = %v", err)
	}

	if err := h.Unmount(context.Background(), true); err != nil {
		t.Fatalf("Unmount() on unmounted handler error = %v, want nil", err)
	}
	if fake.calls() != 0 {
		t.Errorf("executor invocations = %d, want 0", fake.calls())
	}
}

func TestUnmount_CommitFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		mountOpts  MountOptions
		commit     bool
		wantCommit bool
	}{
		{name: "commit read-write", mountOpts: MountOptions{}, commit: true, wantCommit: true},
		{name: "discard read-write", mountOpts: MountOptions{}, commit: false, wantCommit: false},
		{name: "commit downgraded on read-only", mountOpts: MountOptions{ReadOnly: true}, commit: true, wantCommit: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := &fakeExecutor{}
			h, _ := newMountedWIM(t, fake, tt.mountOpts)

			if err := h.Unmount(context.Background(), tt.commit); err != nil {
				t.Fatalf("Unmount() error = %v", err)
			}
			if len(fake.unmounts) != 1 {
				t.Fatalf("executor unmount invocations = %d, want 1", len(fake.unmounts))
			}
			if fake.unmounts[0].Commit != tt.wantCommit {
				t.Errorf("UnmountRequest.Commit = %v, want %v", fake.unmounts[0].Commit, tt.wantCommit)
			}
		})
	}
}

func TestUnmount_RemovesOwnedDir(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{}
	h, mountPoint := newMountedWIM(t, fake, MountOptions{})

	if err := h.Unmount(context.Background(), false); err != nil {
		t.Fatalf("Unmount() error = %v", err)
	}
	if _, statErr := os.Stat(mountPoint); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("owned mount dir still present after unmount: stat = %v", statErr)
	}
}

func TestUnmount_ExecutorFailureStillCleansUp(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{unmountErr: errors.New("device busy")}
	h, mountPoint := newMountedWIM(t, fake, MountOptions{})

	err := h.Unmount(context.Background(), true)
	if !errors.Is(err, ErrMount) {
		t.Fatalf("Unmount() error = %v, want ErrMount", err)
	}

	if h.Mounted() {
		t.Error("Mounted() = true after failed unmount")
	}
	if _, statErr := os.Stat(mountPoint); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("owned mount dir still present: stat = %v", statErr)
	}

	// The handler is back in Unmounted; another unmount is a no-op.
	if err := h.Unmount(context.Background(), true); err != nil {
		t.Fatalf("second Unmount() error = %v, want nil", err)
	}
	if len(fake.unmounts) != 1 {
		t.Errorf("executor unmount invocations = %d, want 1", len(fake.unmounts))
	}
}

func TestFileOps_RequireMount(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{}
	artifact := writeArtifact(t, t.TempDir(), "base.wim", []byte("wim bytes"))
	h, err := NewWIMHandler(artifact, fake)
	if err != nil {
		t.Fatalf("NewWIMHandler() error = %v", err)
	}

	ctx := context.Background()
	host := filepath.Join(t.TempDir(), "host.txt")

	ops := []struct {
		name string
		call func() error
	}{
		{name: "list", call: func() error { _, err := h.ListFiles(""); return err }},
		{name: "add", call: func() error { return h.AddFile(ctx, host, "a.txt") }},
		{name: "remove", call: func() error { return h.RemoveFile("a.txt") }},
		{name: "extract", call: func() error { return h.ExtractFile(ctx, "a.txt", host) }},
	}

	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			err := op.call()
			if !errors.Is(err, ErrNotMounted) {
				t.Errorf("%s error = %v, want ErrNotMounted", op.name, err)
			}
			if !errors.Is(err, ErrMount) {
				t.Errorf("%s error = %v, want ErrMount in chain", op.name, err)
			}
		})
	}
}

func TestListFiles(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{populate: map[string]string{
		"b.txt":          "two",
		"a.txt":          "one",
		"sub/c.txt":      "three",
		"sub/deep/d.txt": "four",
	}}
	h, _ := newMountedWIM(t, fake, MountOptions{})

	t.Run("whole tree sorted", func(t *testing.T) {
		files, err := h.ListFiles("")
		if err != nil {
			t.Fatalf("ListFiles() error = %v", err)
		}
		want := []string{"a.txt", "b.txt", "sub/c.txt", "sub/deep/d.txt"}
		if !reflect.DeepEqual(files, want) {
			t.Errorf("ListFiles() = %v, want %v", files, want)
		}
	})

	t.Run("subtree", func(t *testing.T) {
		files, err := h.ListFiles("sub")
		if err != nil {
			t.Fatalf("ListFiles(sub) error = %v", err)
		}
		want := []string{"sub/c.txt", "sub/deep/d.txt"}
		if !reflect.DeepEqual(files, want) {
			t.Errorf("ListFiles(sub) = %v, want %v", files, want)
		}
	})

	t.Run("missing subtree", func(t *testing.T) {
		if _, err := h.ListFiles("nope"); !errors.Is(err, ErrOperation) {
			t.Errorf("ListFiles(nope) error = %v, want ErrOperation", err)
		}
	})
}

func TestFileOps_Roundtrip(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{populate: map[string]string{"seed.txt": "seeded"}}
	h, _ := newMountedWIM(t, fake, MountOptions{})

	ctx := context.Background()
	hostDir := t.TempDir()
	src := writeArtifact(t, hostDir, "payload.txt", []byte("payload"))

	if err := h.AddFile(ctx, src, "inject/payload.txt"); err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}

	files, err := h.ListFiles("")
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	want := []string{"inject/payload.txt", "seed.txt"}
	if !reflect.DeepEqual(files, want) {
		t.Fatalf("ListFiles() = %v, want %v", files, want)
	}

	out := filepath.Join(hostDir, "out", "payload.txt")
	if err := h.ExtractFile(ctx, "inject/payload.txt", out); err != nil {
		t.Fatalf("ExtractFile() error = %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("extracted content = %q, want %q", got, "payload")
	}

	if err := h.RemoveFile("inject/payload.txt"); err != nil {
		t.Fatalf("RemoveFile() error = %v", err)
	}
	if err := h.RemoveFile("inject/payload.txt"); !errors.Is(err, ErrOperation) {
		t.Errorf("RemoveFile() on missing file error = %v, want ErrOperation", err)
	}
}

func TestFileOps_PathEscapeRejected(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{populate: map[string]string{"a.txt": "one"}}
	h, _ := newMountedWIM(t, fake, MountOptions{})

	ctx := context.Background()
	host := filepath.Join(t.TempDir(), "host.txt")

	escapes := []string{"../outside.txt", "..", "sub/../../outside.txt"}
	for _, rel := range escapes {
		t.Run(rel, func(t *testing.T) {
			if _, err := h.ListFiles(rel); !errors.Is(err, ErrOperation) {
				t.Errorf("ListFiles(%q) error = %v, want ErrOperation", rel, err)
			}
			if err := h.AddFile(ctx, host, rel); !errors.Is(err, ErrOperation) {
				t.Errorf("AddFile(%q) error = %v, want ErrOperation", rel, err)
			}
			if err := h.RemoveFile(rel); !errors.Is(err, ErrOperation) {
				t.Errorf("RemoveFile(%q) error = %v, want ErrOperation", rel, err)
			}
			if err := h.ExtractFile(ctx, rel, host); !errors.Is(err, ErrOperation) {
				t.Errorf("ExtractFile(%q) error = %v, want ErrOperation", rel, err)
			}
		})
	}
}

func TestAddFile_WindowsReservedNameRejected(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{}
	h, mountPoint := newMountedWIM(t, fake, MountOptions{})

	ctx := context.Background()
	src := writeArtifact(t, t.TempDir(), "payload.txt", []byte("payload"))

	reserved := []string{"nul", "CON.txt", "Windows/System32/aux.log", `drivers\com1`}
	for _, dst := range reserved {
		t.Run(dst, func(t *testing.T) {
			if err := h.AddFile(ctx, src, dst); !errors.Is(err, ErrOperation) {
				t.Errorf("AddFile(%q) error = %v, want ErrOperation", dst, err)
			}
		})
	}

	// Names that merely contain a reserved prefix are fine.
	if err := h.AddFile(ctx, src, "configs/console.txt"); err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(mountPoint, "configs", "console.txt")); err != nil {
		t.Errorf("added file missing: %v", err)
	}
}

func TestFileOps_ReadOnlyMount(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{populate: map[string]string{"a.txt": "one"}}
	h, _ := newMountedWIM(t, fake, MountOptions{ReadOnly: true})

	ctx := context.Background()
	hostDir := t.TempDir()
	src := writeArtifact(t, hostDir, "payload.txt", []byte("payload"))

	if err := h.AddFile(ctx, src, "b.txt"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("AddFile() error = %v, want ErrReadOnly", err)
	}
	if err := h.RemoveFile("a.txt"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("RemoveFile() error = %v, want ErrReadOnly", err)
	}

	// Reads still work.
	if _, err := h.ListFiles(""); err != nil {
		t.Errorf("ListFiles() error = %v", err)
	}
	if err := h.ExtractFile(ctx, "a.txt", filepath.Join(hostDir, "a.txt")); err != nil {
		t.Errorf("ExtractFile() error = %v", err)
	}
}

func TestRemoveFile_MountRootRefused(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{populate: map[string]string{"a.txt": "one"}}
	h, mountPoint := newMountedWIM(t, fake, MountOptions{})

	for _, rel := range []string{"", "."} {
		if err := h.RemoveFile(rel); !errors.Is(err, ErrOperation) {
			t.Errorf("RemoveFile(%q) error = %v, want ErrOperation", rel, err)
		}
	}
	if _, err := os.Stat(mountPoint); err != nil {
		t.Fatalf("mount root removed: stat = %v", err)
	}
}

func TestInfo(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutor{}
	artifact := writeArtifact(t, t.TempDir(), "base.wim", []byte("wim bytes"))
	h, err := NewWIMHandler(artifact, fake)
	if err != nil {
		t.Fatalf("NewWIMHandler() error = %v", err)
	}

	info, err := h.Info()
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.Format != FormatWIM {
		t.Errorf("Info.Format = %q, want %q", info.Format, FormatWIM)
	}
	if info.SizeBytes != int64(len("wim bytes")) {
		t.Errorf("Info.SizeBytes = %d, want %d", info.SizeBytes, len("wim bytes"))
	}
	if info.SizeHuman == "" {
		t.Error("Info.SizeHuman is empty")
	}
	if info.Mounted {
		t.Error("Info.Mounted = true before mount")
	}
	if info.Metadata["mount_style"] != mountStyleInPlace {
		t.Errorf("Info.Metadata[mount_style] = %q, want %q", info.Metadata["mount_style"], mountStyleInPlace)
	}

	mountPoint, err := h.Mount(context.Background(), MountOptions{Selector: 2, ReadOnly: true})
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(mountPoint) })

	info, err = h.Info()
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if !info.Mounted {
		t.Error("Info.Mounted = false while mounted")
	}
	if info.MountPoint != mountPoint {
		t.Errorf("Info.MountPoint = %q, want %q", info.MountPoint, mountPoint)
	}
	if !info.ReadOnly {
		t.Error("Info.ReadOnly = false for a read-only mount")
	}
	if info.Metadata["selector"] != "2" {
		t.Errorf("Info.Metadata[selector] = %q, want %q", info.Metadata["selector"], "2")
	}
}

// SPDX-License-Identifier: MPL-2.0

package image

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/docker/go-units"

	"github.com/servicebay/servicebay/internal/fsutil"
	"github.com/servicebay/servicebay/pkg/platform"
	"github.com/servicebay/servicebay/pkg/servicing"
)

const (
	// mountStyleInPlace marks formats the executor mounts directly.
	mountStyleInPlace = "in-place"
	// mountStyleExtract marks formats exposed through an extracted staging
	// tree and repacked on commit.
	mountStyleExtract = "extract-repack"

	// mountDirPattern names the scoped temp directories created for mounts
	// without a caller-provided mount point.
	mountDirPattern = "servicebay-mount-*"
)

type (
	// mountFunc performs the format-specific attach step into mountPoint.
	mountFunc func(ctx context.Context, opts MountOptions, mountPoint string) error

	// unmountFunc performs the format-specific detach step for a session.
	unmountFunc func(ctx context.Context, sess *session, commit bool) error

	// HandlerOption configures a handler at construction.
	HandlerOption func(*baseHandler)

	// session tracks one active mount. ownedDir is true when the handler
	// created the mount directory and must remove it on every exit path.
	session struct {
		mountPoint string
		selector   int
		readOnly   bool
		ownedDir   bool
	}

	// baseHandler provides the common implementation for all format
	// handlers: the Unmounted/Mounted state machine, mount-directory
	// ownership, and the file operations on the mounted tree. Concrete
	// handlers embed this struct and inject their format's attach/detach
	// behavior as function fields; the bit-level container work goes
	// through the servicing.Executor.
	baseHandler struct {
		path       string // Absolute artifact path, resolved at construction
		format     Format
		mountStyle string
		exec       servicing.Executor
		logger     *slog.Logger

		mountFn   mountFunc
		unmountFn unmountFunc

		mu   sync.Mutex
		sess *session
	}
)

// WithLogger sets the logger used for lifecycle tracing.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(b *baseHandler) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// newBaseHandler resolves and stats the artifact path and prepares the
// shared handler state. The concrete constructor wires the format's
// attach/detach functions afterwards.
func newBaseHandler(path string, format Format, mountStyle string, executor servicing.Executor, opts ...HandlerOption) (*baseHandler, error) {
	if executor == nil {
		return nil, errors.New("image: executor must not be nil")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ImageNotFoundError{Path: path}
		}
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	b := &baseHandler{
		path:       abs,
		format:     format,
		mountStyle: mountStyle,
		exec:       executor,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Format returns the artifact's container format.
func (b *baseHandler) Format() Format { return b.format }

// Path returns the absolute artifact path.
func (b *baseHandler) Path() string { return b.path }

// Mounted reports whether the handler currently holds an active mount.
func (b *baseHandler) Mounted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sess != nil
}

// MountPoint returns the active mount point, or "" when unmounted.
func (b *baseHandler) MountPoint() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess == nil {
		return ""
	}
	return b.sess.mountPoint
}

// Mount exposes the artifact's contents at a directory and returns its
// path. A second Mount on an already-mounted handler returns the existing
// mount point without touching the executor again.
func (b *baseHandler) Mount(ctx context.Context, opts MountOptions) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sess != nil {
		b.logger.Debug("image already mounted", "path", b.path, "mount_point", b.sess.mountPoint)
		return b.sess.mountPoint, nil
	}

	if opts.Selector < 0 {
		return "", &MountError{Path: b.path, Op: "mount", Err: fmt.Errorf("selector %d must not be negative", opts.Selector)}
	}

	mountPoint, owned, err := b.resolveMountDir(opts.MountPoint)
	if err != nil {
		return "", &MountError{Path: b.path, Op: "mount", Err: err}
	}

	if err := b.mountFn(ctx, opts, mountPoint); err != nil {
		if owned {
			if rmErr := os.RemoveAll(mountPoint); rmErr != nil {
				b.logger.Warn("could not remove mount directory after failed mount", "dir", mountPoint, "error", rmErr)
			}
		}
		return "", &MountError{Path: b.path, Op: "mount", Err: err}
	}

	b.sess = &session{
		mountPoint: mountPoint,
		selector:   opts.Selector,
		readOnly:   opts.ReadOnly,
		ownedDir:   owned,
	}
	b.logger.Info("image mounted",
		"path", b.path, "format", b.format, "mount_point", mountPoint, "read_only", opts.ReadOnly)
	return mountPoint, nil
}

// resolveMountDir returns the directory to mount at and whether the
// handler owns it. A caller-provided hint is created if missing but never
// removed on unmount; without a hint the handler creates a scoped temp
// directory it owns.
func (b *baseHandler) resolveMountDir(hint string) (string, bool, error) {
	if hint != "" {
		abs, err := filepath.Abs(hint)
		if err != nil {
			return "", false, fmt.Errorf("resolve mount point: %w", err)
		}
		if err := fsutil.EnsureDir(abs); err != nil {
			return "", false, err
		}
		return abs, false, nil
	}

	dir, err := os.MkdirTemp("", mountDirPattern)
	if err != nil {
		return "", false, fmt.Errorf("create mount directory: %w", err)
	}
	return dir, true, nil
}

// Unmount tears the active mount down. Committing on a read-only session
// is downgraded to a discard: nothing was writable, so there is nothing to
// persist. Unmounting an unmounted handler is a warning no-op.
func (b *baseHandler) Unmount(ctx context.Context, commit bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sess == nil {
		b.logger.Warn("unmount requested but image is not mounted", "path", b.path)
		return nil
	}

	sess := b.sess
	if commit && sess.readOnly {
		b.logger.Warn("commit requested on read-only mount; nothing to persist", "path", b.path)
		commit = false
	}

	err := b.unmountFn(ctx, sess, commit)

	// The session ends and the owned mount directory goes away even when
	// the detach step fails; a half-torn-down mount must not leave the
	// handler stuck in Mounted.
	b.sess = nil
	if sess.ownedDir {
		if rmErr := os.RemoveAll(sess.mountPoint); rmErr != nil {
			b.logger.Warn("could not remove mount directory", "dir", sess.mountPoint, "error", rmErr)
		}
	}

	if err != nil {
		return &MountError{Path: b.path, Op: "unmount", Err: err}
	}

	b.logger.Info("image unmounted", "path", b.path, "commit", commit)
	return nil
}

// mountedSession returns the active session or a MountError wrapping
// ErrNotMounted. Callers must hold b.mu.
func (b *baseHandler) mountedSession(op string) (*session, error) {
	if b.sess == nil {
		return nil, &MountError{Path: b.path, Op: op, Err: ErrNotMounted}
	}
	return b.sess, nil
}

// ListFiles returns the slash-separated paths, relative to the mount
// point, of all regular files under rel, sorted.
func (b *baseHandler) ListFiles(rel string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess, err := b.mountedSession("list files")
	if err != nil {
		return nil, err
	}

	root, err := fsutil.WithinRoot(sess.mountPoint, rel)
	if err != nil {
		return nil, &OperationError{Path: b.path, Op: "list files", Err: err}
	}

	var files []string
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		relPath, err := filepath.Rel(sess.mountPoint, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(relPath))
		return nil
	})
	if walkErr != nil {
		return nil, &OperationError{Path: b.path, Op: "list files", Err: walkErr}
	}

	sort.Strings(files)
	return files, nil
}

// AddFile copies the host file src to the relative path dst inside the
// mounted tree, creating parent directories as needed. The serviced
// filesystems are Windows filesystems, so dst must not contain a Windows
// reserved name anywhere in its path.
func (b *baseHandler) AddFile(ctx context.Context, src, dst string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess, err := b.mountedSession("add file")
	if err != nil {
		return err
	}
	if sess.readOnly {
		return &OperationError{Path: b.path, Op: "add file", Err: ErrReadOnly}
	}
	if name := reservedPathComponent(dst); name != "" {
		return &OperationError{Path: b.path, Op: "add file", Err: fmt.Errorf("%q is a reserved filename on windows", name)}
	}

	target, err := fsutil.WithinRoot(sess.mountPoint, dst)
	if err != nil {
		return &OperationError{Path: b.path, Op: "add file", Err: err}
	}
	if err := fsutil.EnsureDir(filepath.Dir(target)); err != nil {
		return &OperationError{Path: b.path, Op: "add file", Err: err}
	}
	if _, err := fsutil.CopyFile(ctx, src, target); err != nil {
		return &OperationError{Path: b.path, Op: "add file", Err: err}
	}

	b.logger.Debug("file added", "path", b.path, "src", src, "dst", dst)
	return nil
}

// RemoveFile deletes the file or directory tree at the relative path rel
// inside the mounted tree. Removing a path that does not exist is an
// error; removing the mount root is refused.
func (b *baseHandler) RemoveFile(rel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess, err := b.mountedSession("remove file")
	if err != nil {
		return err
	}
	if sess.readOnly {
		return &OperationError{Path: b.path, Op: "remove file", Err: ErrReadOnly}
	}

	target, err := fsutil.WithinRoot(sess.mountPoint, rel)
	if err != nil {
		return &OperationError{Path: b.path, Op: "remove file", Err: err}
	}
	if target == sess.mountPoint {
		return &OperationError{Path: b.path, Op: "remove file", Err: errors.New("refusing to remove the mount root")}
	}
	if _, err := os.Stat(target); err != nil {
		return &OperationError{Path: b.path, Op: "remove file", Err: err}
	}
	if err := os.RemoveAll(target); err != nil {
		return &OperationError{Path: b.path, Op: "remove file", Err: err}
	}

	b.logger.Debug("file removed", "path", b.path, "rel", rel)
	return nil
}

// ExtractFile copies the file at the relative path src inside the mounted
// tree to the host path dst, creating dst's parent directories.
func (b *baseHandler) ExtractFile(ctx context.Context, src, dst string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess, err := b.mountedSession("extract file")
	if err != nil {
		return err
	}

	source, err := fsutil.WithinRoot(sess.mountPoint, src)
	if err != nil {
		return &OperationError{Path: b.path, Op: "extract file", Err: err}
	}
	if err := fsutil.EnsureDir(filepath.Dir(dst)); err != nil {
		return &OperationError{Path: b.path, Op: "extract file", Err: err}
	}
	if _, err := fsutil.CopyFile(ctx, source, dst); err != nil {
		return &OperationError{Path: b.path, Op: "extract file", Err: err}
	}

	b.logger.Debug("file extracted", "path", b.path, "src", src, "dst", dst)
	return nil
}

// Info describes the artifact and its mount state. It works whether or
// not the image is mounted.
func (b *baseHandler) Info() (*Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, err := os.Stat(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ImageNotFoundError{Path: b.path}
		}
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	info := &Info{
		Path:      b.path,
		Format:    b.format,
		SizeBytes: st.Size(),
		SizeHuman: units.HumanSize(float64(st.Size())),
		ModTime:   st.ModTime(),
		Metadata: map[string]string{
			"mount_style":      b.mountStyle,
			"default_selector": "1",
		},
	}
	if b.sess != nil {
		info.Mounted = true
		info.MountPoint = b.sess.mountPoint
		info.ReadOnly = b.sess.readOnly
		info.Metadata["selector"] = strconv.Itoa(b.sess.selector)
	}
	return info, nil
}

// --- Attach/Detach Behaviors ---

// inPlaceMount asks the executor to mount the artifact at mountPoint.
func (b *baseHandler) inPlaceMount(ctx context.Context, opts MountOptions, mountPoint string) error {
	return b.exec.Mount(ctx, servicing.MountRequest{
		Artifact:   b.path,
		Kind:       b.format.Kind(),
		Selector:   opts.Selector,
		MountPoint: mountPoint,
		ReadOnly:   opts.ReadOnly,
	})
}

// inPlaceUnmount asks the executor to detach the mount, committing or
// discarding pending changes per the caller's decision.
func (b *baseHandler) inPlaceUnmount(ctx context.Context, sess *session, commit bool) error {
	return b.exec.Unmount(ctx, servicing.UnmountRequest{
		Artifact:   b.path,
		Kind:       b.format.Kind(),
		MountPoint: sess.mountPoint,
		Commit:     commit,
	})
}

// stagedMount unpacks the artifact into mountPoint. Formats without an
// in-place mount style expose an extracted copy instead.
func (b *baseHandler) stagedMount(ctx context.Context, opts MountOptions, mountPoint string) error {
	return b.exec.Extract(ctx, servicing.ExtractRequest{
		Artifact:  b.path,
		Kind:      b.format.Kind(),
		Selector:  opts.Selector,
		TargetDir: mountPoint,
	})
}

// stagedUnmount repacks the staging tree into the artifact when
// committing. Discard never rewrites the container; the staging directory
// itself is removed by Unmount.
func (b *baseHandler) stagedUnmount(ctx context.Context, sess *session, commit bool) error {
	if !commit {
		return nil
	}
	return b.exec.Repack(ctx, servicing.RepackRequest{
		Artifact:  b.path,
		Kind:      b.format.Kind(),
		SourceDir: sess.mountPoint,
	})
}

// reservedPathComponent returns the first component of the slash- or
// backslash-separated path rel that is a reserved filename on Windows, or
// "" if there is none.
func reservedPathComponent(rel string) string {
	normalized := strings.ReplaceAll(rel, `\`, "/")
	for part := range strings.SplitSeq(normalized, "/") {
		if platform.IsWindowsReservedName(part) {
			return part
		}
	}
	return ""
}

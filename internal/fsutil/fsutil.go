// SPDX-License-Identifier: MPL-2.0

package fsutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

// copyBufferSize is the chunk size for streaming copies (1MB). Image
// artifacts routinely run into the gigabytes, so copies never buffer whole
// files in memory.
const copyBufferSize = 1 << 20

// ErrPathOutsideRoot is returned by WithinRoot when a relative path would
// resolve to a location outside the root directory.
var ErrPathOutsideRoot = errors.New("path escapes root directory")

// ctxReader wraps a reader and fails the next Read once ctx is done, so
// long-running copies observe cancellation between chunks.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

// Read implements io.Reader.
func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}

// Reader returns r wrapped so that reads fail once ctx is cancelled.
func Reader(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

// CopyFile copies src to dst in chunks, preserving the source file mode.
// The destination is truncated if it exists and fsynced before close so the
// bytes are durable when CopyFile returns. Returns the number of bytes
// copied.
func CopyFile(ctx context.Context, src, dst string) (_ int64, err error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer func() { _ = srcFile.Close() }() // Read-only file; close error non-critical

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat source file: %w", err)
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file: %w", err)
	}
	defer func() {
		if closeErr := dstFile.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close destination file: %w", closeErr)
		}
	}()

	n, err := io.CopyBuffer(dstFile, Reader(ctx, srcFile), make([]byte, copyBufferSize))
	if err != nil {
		return n, fmt.Errorf("failed to copy file contents: %w", err)
	}

	if err := dstFile.Sync(); err != nil {
		return n, fmt.Errorf("failed to sync destination file: %w", err)
	}

	return n, nil
}

// FileDigest streams the file at path through the canonical digest algorithm
// (sha256) and returns the digest together with the file size. The file is
// never loaded into memory as a whole.
func FileDigest(path string) (digest.Digest, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open file for digest: %w", err)
	}
	defer func() { _ = f.Close() }() // Read-only file; close error non-critical

	digester := digest.Canonical.Digester()
	n, err := io.CopyBuffer(digester.Hash(), f, make([]byte, copyBufferSize))
	if err != nil {
		return "", 0, fmt.Errorf("failed to digest file %s: %w", path, err)
	}

	return digester.Digest(), n, nil
}

// ReplaceFileFrom atomically replaces dst with the bytes read from r. The
// data is first written to a temporary file in dst's directory, fsynced, and
// then renamed over dst. A crash mid-write leaves dst untouched.
func ReplaceFileFrom(ctx context.Context, r io.Reader, dst string) (err error) {
	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName) // Best-effort cleanup of the partial temp file
		}
	}()

	// CreateTemp uses 0600; carry over the mode of the file being replaced
	// so the swap is invisible to permission checks.
	if info, statErr := os.Stat(dst); statErr == nil {
		if err = tmp.Chmod(info.Mode().Perm()); err != nil {
			return fmt.Errorf("failed to set temp file mode: %w", err)
		}
	}

	if _, err = io.CopyBuffer(tmp, Reader(ctx, r), make([]byte, copyBufferSize)); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err = os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("failed to rename temp file over destination: %w", err)
	}

	return nil
}

// WithinRoot joins rel onto root and verifies the result stays inside root.
// Absolute paths and ".." traversal that would escape root return
// ErrPathOutsideRoot. An empty rel resolves to root itself.
func WithinRoot(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%q: %w", rel, ErrPathOutsideRoot)
	}

	joined := filepath.Join(root, rel)

	// filepath.Join cleans the path, so a traversal that escapes root no
	// longer has root as a prefix afterwards.
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", rel, ErrPathOutsideRoot)
	}

	return joined, nil
}

// EnsureDir creates dir (and any missing parents) if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// SPDX-License-Identifier: MPL-2.0

package batch

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/servicebay/servicebay/pkg/image"
)

// InfoOp reports artifact metadata. It never mounts.
func InfoOp() Operation {
	return func(_ context.Context, h image.Handler) (any, error) {
		info, err := h.Info()
		if err != nil {
			return nil, err
		}
		return info, nil
	}
}

// ListFilesOp lists the files under rel, relative to the mount point; an
// empty rel lists the whole tree. The artifact is mounted read-only and the
// mount is always discarded.
func ListFilesOp(rel string) Operation {
	return func(ctx context.Context, h image.Handler) (any, error) {
		return runMounted(ctx, h, true, func() (any, error) {
			files, err := h.ListFiles(rel)
			if err != nil {
				return nil, err
			}
			return files, nil
		})
	}
}

// AddFileOp copies the host file src to dst inside each artifact. The mount
// is read-write; changes commit when the copy succeeds and are discarded when
// it fails.
func AddFileOp(src, dst string) Operation {
	return func(ctx context.Context, h image.Handler) (any, error) {
		return runMounted(ctx, h, false, func() (any, error) {
			if err := h.AddFile(ctx, src, dst); err != nil {
				return nil, err
			}
			return dst, nil
		})
	}
}

// RemoveFileOp deletes rel inside each artifact, committing on success and
// discarding on failure.
func RemoveFileOp(rel string) Operation {
	return func(ctx context.Context, h image.Handler) (any, error) {
		return runMounted(ctx, h, false, func() (any, error) {
			if err := h.RemoveFile(rel); err != nil {
				return nil, err
			}
			return rel, nil
		})
	}
}

// ExtractFileOp copies src out of each artifact into dstDir. Each extraction
// lands in a subdirectory named after the artifact so parallel tasks cannot
// collide; the payload is the written path.
func ExtractFileOp(src, dstDir string) Operation {
	return func(ctx context.Context, h image.Handler) (any, error) {
		return runMounted(ctx, h, true, func() (any, error) {
			dst := filepath.Join(dstDir, filepath.Base(h.Path()), filepath.FromSlash(src))
			if err := h.ExtractFile(ctx, src, dst); err != nil {
				return nil, err
			}
			return dst, nil
		})
	}
}

// runMounted wraps fn in the mount, operate, unmount pipeline. Read-only
// mounts always discard; read-write mounts commit only when fn succeeds, so
// a failed operation never persists partial changes.
func runMounted(ctx context.Context, h image.Handler, readOnly bool, fn func() (any, error)) (any, error) {
	if _, err := h.Mount(ctx, image.MountOptions{ReadOnly: readOnly}); err != nil {
		return nil, err
	}

	payload, opErr := fn()

	commit := opErr == nil && !readOnly
	if err := h.Unmount(ctx, commit); err != nil {
		if opErr != nil {
			return nil, errors.Join(opErr, err)
		}
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	return payload, nil
}

// SPDX-License-Identifier: MPL-2.0

package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/servicebay/servicebay/pkg/types"
)

var (
	// ErrCheckpointNotFound is the sentinel error wrapped by CheckpointNotFoundError.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrChecksumMismatch is the sentinel error wrapped by ChecksumMismatchError.
	ErrChecksumMismatch = errors.New("checkpoint checksum mismatch")

	// ErrStoreClosed is returned by operations on a closed Store.
	ErrStoreClosed = errors.New("checkpoint store is closed")
)

type (
	// Checkpoint is one full-copy backup of an artifact. The digest covers
	// the stored backup bytes (compressed when the store compresses), so
	// verification never needs to undo the storage encoding first.
	Checkpoint struct {
		ID          string                `json:"id"`
		Source      string                `json:"source"`
		BackupPath  string                `json:"backup_path"`
		Created     time.Time             `json:"created"`
		Description types.DescriptionText `json:"description,omitempty"`
		SizeBytes   int64                 `json:"size_bytes"`
		Digest      digest.Digest         `json:"digest"`
		Compressed  bool                  `json:"compressed,omitempty"`
	}

	// CheckpointNotFoundError is returned when no checkpoint exists for an ID.
	CheckpointNotFoundError struct {
		ID string
	}

	// ChecksumMismatchError is returned when a backup's bytes no longer
	// match the digest recorded at creation. The checkpoint is unusable
	// for restore.
	ChecksumMismatchError struct {
		ID       string
		Expected digest.Digest
		Actual   digest.Digest
	}

	// StoreOptions configures Open.
	StoreOptions struct {
		// Dir is the store's root directory. Backups, the index, and
		// advisory lock files live underneath it.
		Dir string
		// Compress stores backups zstd-compressed. Existing checkpoints
		// keep the encoding they were created with.
		Compress bool
		// Logger receives store activity. Nil means slog.Default().
		Logger *slog.Logger
	}
)

// Error implements the error interface.
func (e *CheckpointNotFoundError) Error() string {
	return fmt.Sprintf("checkpoint %q not found", e.ID)
}

// Unwrap returns ErrCheckpointNotFound so callers can use errors.Is for programmatic detection.
func (e *CheckpointNotFoundError) Unwrap() error { return ErrCheckpointNotFound }

// Error implements the error interface.
func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checkpoint %q backup does not match its recorded digest (expected %s, got %s)",
		e.ID, e.Expected, e.Actual)
}

// Unwrap returns ErrChecksumMismatch so callers can use errors.Is for programmatic detection.
func (e *ChecksumMismatchError) Unwrap() error { return ErrChecksumMismatch }

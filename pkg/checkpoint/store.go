// SPDX-License-Identifier: MPL-2.0

package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	"github.com/servicebay/servicebay/internal/fsutil"
	"github.com/servicebay/servicebay/internal/testutil"
	"github.com/servicebay/servicebay/pkg/types"
)

// Store owns a directory of full-copy backups plus a durable index.
// Mutating operations are serialized through a writer lock; reads share a
// reader lock so a backup can never disappear mid-verification.
type Store struct {
	dir       string
	backupDir string
	lockDir   string
	compress  bool
	clock     testutil.Clock
	logger    *slog.Logger

	mu     sync.RWMutex
	db     *badger.DB
	closed bool
}

// Open opens (or initializes) a checkpoint store rooted at opts.Dir.
func Open(opts StoreOptions) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("checkpoint: store directory must not be empty")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backupDir := filepath.Join(opts.Dir, "backups")
	lockDir := filepath.Join(opts.Dir, "locks")
	for _, dir := range []string{opts.Dir, backupDir, lockDir} {
		if err := fsutil.EnsureDir(dir); err != nil {
			return nil, err
		}
	}

	dbOpts := badger.DefaultOptions(filepath.Join(opts.Dir, "index"))
	dbOpts.Logger = nil // Badger's own logging is too chatty for a library
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint index: %w", err)
	}

	return &Store{
		dir:       opts.Dir,
		backupDir: backupDir,
		lockDir:   lockDir,
		compress:  opts.Compress,
		clock:     testutil.RealClock{},
		logger:    logger,
		db:        db,
	}, nil
}

// Close releases the index. Further operations return ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close checkpoint index: %w", err)
	}
	return nil
}

// Create streams a full copy of the artifact into the backup store while
// digesting the stored bytes, then records the checkpoint in the index. A
// failure during the copy removes the partial backup before the error
// propagates.
func (s *Store) Create(ctx context.Context, artifactPath string, description types.DescriptionText) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if valid, errs := description.IsValid(); !valid {
		return nil, errors.Join(errs...)
	}

	abs, err := filepath.Abs(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact path: %w", err)
	}

	src, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = src.Close() }() // Read-only file; close error non-critical

	id := uuid.NewString()
	name := id + ".bak"
	if s.compress {
		name += ".zst"
	}
	backupPath := filepath.Join(s.backupDir, name)

	size, dgst, err := s.writeBackup(ctx, src, backupPath)
	if err != nil {
		_ = os.Remove(backupPath) // A partial backup must not survive the failure
		return nil, err
	}

	cp := &Checkpoint{
		ID:          id,
		Source:      abs,
		BackupPath:  backupPath,
		Created:     s.clock.Now().UTC(),
		Description: description,
		SizeBytes:   size,
		Digest:      dgst,
		Compressed:  s.compress,
	}
	if err := s.putRecord(cp); err != nil {
		_ = os.Remove(backupPath)
		return nil, err
	}

	s.logger.Info("checkpoint created",
		"id", id, "source", abs, "size_bytes", size, "digest", dgst.String())
	return cp, nil
}

// writeBackup copies src into a new backup file. The returned digest
// covers the bytes as stored, and the returned size is the source
// artifact's byte count.
func (s *Store) writeBackup(ctx context.Context, src io.Reader, path string) (_ int64, _ digest.Digest, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, "", fmt.Errorf("create backup file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close backup file: %w", closeErr)
		}
	}()

	digester := digest.Canonical.Digester()
	stored := io.MultiWriter(f, digester.Hash())

	var target io.Writer = stored
	var enc *zstd.Encoder
	if s.compress {
		if enc, err = zstd.NewWriter(stored); err != nil {
			return 0, "", fmt.Errorf("create zstd encoder: %w", err)
		}
		target = enc
	}

	n, err := io.Copy(target, fsutil.Reader(ctx, src))
	if err != nil {
		if enc != nil {
			_ = enc.Close()
		}
		return n, "", fmt.Errorf("copy artifact to backup: %w", err)
	}
	if enc != nil {
		if err = enc.Close(); err != nil {
			return n, "", fmt.Errorf("flush zstd encoder: %w", err)
		}
	}
	if err = f.Sync(); err != nil {
		return n, "", fmt.Errorf("sync backup file: %w", err)
	}

	return n, digester.Digest(), nil
}

// Get returns the checkpoint record for an ID.
func (s *Store) Get(id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.getRecord(id)
}

// Restore copies the backup over the source artifact. The backup is
// re-verified against its recorded digest first; any mismatch aborts with
// a ChecksumMismatchError and the artifact stays untouched. The write
// goes through a temp file and rename, so a crash mid-restore never
// leaves a half-written artifact.
func (s *Store) Restore(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	cp, err := s.getRecord(id)
	if err != nil {
		return err
	}

	// Integrity gate: a corrupted backup must never reach the artifact.
	if err := s.verifyBackup(cp); err != nil {
		return err
	}

	f, err := os.Open(cp.BackupPath)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer func() { _ = f.Close() }() // Read-only file; close error non-critical

	var r io.Reader = f
	if cp.Compressed {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	if err := fsutil.ReplaceFileFrom(ctx, r, cp.Source); err != nil {
		return fmt.Errorf("restore artifact from backup: %w", err)
	}

	s.logger.Info("checkpoint restored", "id", id, "source", cp.Source)
	return nil
}

// Delete removes the checkpoint's backup file and index record.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.deleteLocked(id)
}

// deleteLocked removes one checkpoint. Callers must hold the writer lock.
func (s *Store) deleteLocked(id string) error {
	cp, err := s.getRecord(id)
	if err != nil {
		return err
	}

	if err := os.Remove(cp.BackupPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove backup file: %w", err)
	}
	if err := s.deleteRecord(id); err != nil {
		return err
	}

	s.logger.Info("checkpoint deleted", "id", id, "source", cp.Source)
	return nil
}

// List returns the checkpoints for an artifact path, newest first. An
// empty path lists every checkpoint in the store.
func (s *Store) List(artifactPath string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	all, err := s.listRecords()
	if err != nil {
		return nil, err
	}

	out := all
	if artifactPath != "" {
		abs, err := filepath.Abs(artifactPath)
		if err != nil {
			return nil, fmt.Errorf("resolve artifact path: %w", err)
		}
		out = out[:0:0]
		for _, cp := range all {
			if cp.Source == abs {
				out = append(out, cp)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Verify re-checks the backup bytes against the recorded digest without
// restoring anything.
func (s *Store) Verify(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	cp, err := s.getRecord(id)
	if err != nil {
		return err
	}
	return s.verifyBackup(cp)
}

// verifyBackup digests the stored backup and compares it to the record.
func (s *Store) verifyBackup(cp *Checkpoint) error {
	actual, _, err := fsutil.FileDigest(cp.BackupPath)
	if err != nil {
		return fmt.Errorf("digest backup: %w", err)
	}
	if actual != cp.Digest {
		return &ChecksumMismatchError{ID: cp.ID, Expected: cp.Digest, Actual: actual}
	}
	return nil
}

// CleanupOlderThan deletes every checkpoint created at or before
// now-age and returns how many were removed.
func (s *Store) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := s.clock.Now().Add(-age)
	all, err := s.listRecords()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, cp := range all {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if cp.Created.After(cutoff) {
			continue
		}
		if err := s.deleteLocked(cp.ID); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("expired checkpoints removed", "count", removed, "age", age)
	}
	return removed, nil
}

// --- Index Records ---

func (s *Store) putRecord(cp *Checkpoint) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("marshal checkpoint record: %w", err)
		}
		return txn.Set([]byte(cp.ID), data)
	})
}

func (s *Store) getRecord(id string) (*Checkpoint, error) {
	var cp Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &CheckpointNotFoundError{ID: id}
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *Store) deleteRecord(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(id))
	})
}

func (s *Store) listRecords() ([]*Checkpoint, error) {
	var out []*Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var cp Checkpoint
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cp)
			}); err != nil {
				return err
			}
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

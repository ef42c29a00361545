// SPDX-License-Identifier: MPL-2.0

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/servicebay/servicebay/internal/lockfile"
	"github.com/servicebay/servicebay/internal/testutil"
	"github.com/servicebay/servicebay/pkg/types"
)

const (
	// TxPending is the status while the transaction body runs.
	TxPending TxStatus = "pending"
	// TxCommitted is the status after the body returned cleanly.
	TxCommitted TxStatus = "committed"
	// TxRolledBack is the status after an error or panic forced a restore.
	TxRolledBack TxStatus = "rolled_back"
)

type (
	// TxStatus is the lifecycle state of a transaction.
	TxStatus string

	// Op is one named operation recorded inside a transaction.
	Op struct {
		Name string
		At   time.Time
	}

	// Tx is the scope handed to a transaction body. It carries the
	// pre-transaction checkpoint and an ordered log of the operations the
	// body performed, which ends up in the rollback diagnostics.
	Tx struct {
		id         string
		checkpoint *Checkpoint
		status     TxStatus
		started    time.Time
		finished   time.Time
		ops        []Op
		clock      testutil.Clock
		logger     *slog.Logger
	}

	// TxFunc is a transaction body.
	TxFunc func(tx *Tx) error

	// TxOptions configures Store.Transaction.
	TxOptions struct {
		// AutoCleanup deletes the transaction's checkpoint after a
		// successful commit. Off by default: the checkpoint then stays
		// available for a later manual restore.
		AutoCleanup bool
	}
)

// String returns the string representation of the TxStatus.
func (st TxStatus) String() string { return string(st) }

// ID returns the transaction's unique ID.
func (t *Tx) ID() string { return t.id }

// Checkpoint returns the pre-transaction checkpoint backing the rollback.
func (t *Tx) Checkpoint() *Checkpoint { return t.checkpoint }

// Status returns the transaction's current lifecycle state.
func (t *Tx) Status() TxStatus { return t.status }

// Record appends a named operation to the transaction's log.
func (t *Tx) Record(name string) {
	t.ops = append(t.ops, Op{Name: name, At: t.clock.Now().UTC()})
	t.logger.Debug("transaction operation", "tx", t.id, "op", name)
}

// Ops returns a copy of the recorded operation log.
func (t *Tx) Ops() []Op {
	out := make([]Op, len(t.ops))
	copy(out, t.ops)
	return out
}

// Transaction checkpoints the artifact, runs fn, and either commits or
// rolls back:
//
//   - fn returns nil: the transaction commits. With opts.AutoCleanup the
//     checkpoint is deleted afterwards.
//   - fn returns an error: the artifact is restored to its
//     pre-transaction bytes and fn's error comes back unchanged.
//   - fn panics: the artifact is restored and the panic re-raised.
//
// A rollback failure is logged but never replaces the original failure.
// Transactions are single-level and cover exactly one artifact; an
// advisory per-artifact file lock serializes transactions across
// processes on platforms that support it.
func (s *Store) Transaction(ctx context.Context, artifactPath string, description types.DescriptionText, opts TxOptions, fn TxFunc) (txErr error) {
	if lock, err := lockfile.Acquire(lockfile.PathFor(s.lockDir, artifactPath)); err == nil {
		defer lock.Release()
	} else if !errors.Is(err, lockfile.ErrUnavailable) {
		s.logger.Warn("could not acquire artifact lock; proceeding unguarded",
			"artifact", artifactPath, "error", err)
	}

	cp, err := s.Create(ctx, artifactPath, description)
	if err != nil {
		return fmt.Errorf("create transaction checkpoint: %w", err)
	}

	tx := &Tx{
		id:         uuid.NewString(),
		checkpoint: cp,
		status:     TxPending,
		started:    s.clock.Now().UTC(),
		clock:      s.clock,
		logger:     s.logger,
	}
	s.logger.Info("transaction started",
		"tx", tx.id, "artifact", cp.Source, "checkpoint", cp.ID)

	defer func() {
		tx.finished = s.clock.Now().UTC()

		if p := recover(); p != nil {
			s.rollback(ctx, tx)
			panic(p) // Re-raise once the artifact is back in shape
		}
		if txErr != nil {
			s.rollback(ctx, tx)
			return
		}

		tx.status = TxCommitted
		s.logger.Info("transaction committed",
			"tx", tx.id, "ops", len(tx.ops), "elapsed", tx.finished.Sub(tx.started))
		if opts.AutoCleanup {
			if err := s.Delete(ctx, cp.ID); err != nil {
				s.logger.Warn("could not clean up committed checkpoint",
					"tx", tx.id, "checkpoint", cp.ID, "error", err)
			}
		}
	}()

	return fn(tx)
}

// rollback restores the pre-transaction checkpoint. The original failure
// already belongs to the caller, so a restore error is only logged here.
func (s *Store) rollback(ctx context.Context, tx *Tx) {
	tx.status = TxRolledBack

	// The restore must run to completion even when the transaction failed
	// because the caller's context was cancelled.
	ctx = context.WithoutCancel(ctx)

	if err := s.Restore(ctx, tx.checkpoint.ID); err != nil {
		s.logger.Error("rollback restore failed; artifact may be in a modified state",
			"tx", tx.id, "checkpoint", tx.checkpoint.ID, "error", err)
		return
	}

	s.logger.Info("transaction rolled back",
		"tx", tx.id, "artifact", tx.checkpoint.Source, "ops", len(tx.ops))
}

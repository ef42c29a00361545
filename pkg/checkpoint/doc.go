// SPDX-License-Identifier: MPL-2.0

// Package checkpoint provides full-copy backup points for image artifacts
// with cryptographic integrity verification and transactional rollback.
//
// A Store owns a directory of backup files plus a durable index that
// survives restarts. Creating a checkpoint streams the artifact into the
// backup store while digesting it; restoring re-verifies the digest first
// and hard-fails on any mismatch, leaving the artifact untouched. The
// restore itself writes through a temp file and rename, so a crash
// mid-restore never leaves a half-written artifact.
//
// Transaction wraps a servicing run in a checkpoint scope:
//
//	err := store.Transaction(ctx, artifact, "inject drivers", checkpoint.TxOptions{}, func(tx *checkpoint.Tx) error {
//	    tx.Record("mount")
//	    // ... modify the artifact ...
//	    return nil
//	})
//
// A normal return commits; an error or panic escaping the function rolls
// the artifact back to its pre-transaction bytes and re-raises the
// original failure unchanged. Rollback failures are logged, never
// substituted for the first error.
package checkpoint

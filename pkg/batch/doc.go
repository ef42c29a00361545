// SPDX-License-Identifier: MPL-2.0

// Package batch fans image operations out across many independent artifacts
// on a bounded worker pool.
//
// Each artifact is processed by its own task with its own handler and mount
// point; nothing is shared between tasks. Failures are isolated at the task
// boundary: an operation's error or panic becomes a failed Result for that
// one artifact and the rest of the batch proceeds. A Process call therefore
// always returns the full result list, never a single error for a partial
// failure.
//
// Typical usage:
//
//	registry := image.DefaultRegistry(executor)
//	proc, err := batch.NewProcessor(registry, batch.WithWorkers(8))
//	if err != nil {
//		return err
//	}
//
//	results, err := proc.Process(ctx, artifacts, batch.AddFileOp("unattend.xml", "Windows/Panther/unattend.xml"), batch.ProcessOptions{})
//	if err != nil {
//		return err
//	}
//	if s := batch.Summarize(results); s.Failed > 0 {
//		return batch.SaveReport("batch-report.jsonl", results)
//	}
//
// Attaching a checkpoint store via WithStore and setting
// ProcessOptions.Checkpoint wraps every task in a rollback transaction, so a
// failed operation leaves its artifact byte-identical to its pre-batch state.
package batch

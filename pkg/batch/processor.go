// SPDX-License-Identifier: MPL-2.0

package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/servicebay/servicebay/pkg/checkpoint"
	"github.com/servicebay/servicebay/pkg/image"
)

// DefaultWorkers bounds the worker pool when neither the processor nor the
// per-call options override it.
const DefaultWorkers = 4

type (
	// Processor fans an operation out across independent artifacts on a
	// bounded worker pool. Every task constructs its own handler through the
	// registry and shares no mount state with its siblings; a task's error
	// or panic is converted into its Result and leaves the rest of the batch
	// untouched.
	Processor struct {
		registry *image.Registry
		store    *checkpoint.Store
		workers  int
		logger   *slog.Logger
	}

	// ProcessorOption configures a Processor.
	ProcessorOption func(*Processor)

	// ProcessOptions tunes a single Process call.
	ProcessOptions struct {
		// Workers overrides the processor's pool width when positive.
		Workers int
		// Checkpoint wraps each artifact's operation in a rollback
		// transaction so a failed task leaves its artifact byte-identical.
		// Requires a store attached via WithStore.
		Checkpoint bool
	}
)

// WithWorkers sets the processor's default pool width. Values below one are
// ignored.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithStore attaches a checkpoint store, enabling ProcessOptions.Checkpoint.
func WithStore(store *checkpoint.Store) ProcessorOption {
	return func(p *Processor) {
		p.store = store
	}
}

// WithLogger sets the logger used by the processor and propagated to the
// handlers it constructs. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProcessor creates a batch processor dispatching handlers through
// registry.
func NewProcessor(registry *image.Registry, opts ...ProcessorOption) (*Processor, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry must not be nil")
	}

	p := &Processor{
		registry: registry,
		workers:  DefaultWorkers,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process runs op against every artifact and returns one Result per artifact,
// ordered by completion. Failures never abort the batch: an operation's error
// or panic is recorded on its own Result and the remaining tasks proceed.
// Cancelling ctx stops scheduling: artifacts not yet started report the
// context error, while tasks already running finish their pipeline.
//
// The returned error reflects invalid invocations only, never task outcomes.
func (p *Processor) Process(ctx context.Context, artifacts []string, op Operation, opts ProcessOptions) ([]Result, error) {
	if op == nil {
		return nil, fmt.Errorf("operation must not be nil")
	}
	if opts.Checkpoint && p.store == nil {
		return nil, fmt.Errorf("checkpointing requested but no store attached")
	}

	workers := p.workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}

	p.logger.Debug("starting batch", "artifacts", len(artifacts), "workers", workers, "checkpoint", opts.Checkpoint)

	// Dispatched tasks run to completion even when ctx is cancelled;
	// cancellation only stops further scheduling.
	taskCtx := context.WithoutCancel(ctx)

	results := make(chan Result, len(artifacts))
	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup

	for _, artifact := range artifacts {
		if err := sem.Acquire(ctx, 1); err != nil {
			results <- Result{
				Artifact: artifact,
				Status:   StatusFailed,
				Err:      fmt.Sprintf("not scheduled: %v", err),
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results <- p.runOne(taskCtx, artifact, op, opts.Checkpoint)
		}()
	}

	wg.Wait()
	close(results)

	out := make([]Result, 0, len(artifacts))
	for res := range results {
		out = append(out, res)
	}

	summary := Summarize(out)
	p.logger.Info("batch complete",
		"artifacts", summary.Total, "succeeded", summary.Succeeded, "failed", summary.Failed)
	return out, nil
}

// runOne drives a single artifact's task and converts every failure mode,
// panics included, into the task's Result.
func (p *Processor) runOne(ctx context.Context, artifact string, op Operation, withTx bool) (res Result) {
	started := time.Now()
	res = Result{Artifact: artifact, Status: StatusSuccess}
	defer func() {
		res.Elapsed = time.Since(started)
		if r := recover(); r != nil {
			res.Status = StatusFailed
			res.Err = fmt.Sprintf("panic: %v", r)
			res.Payload = nil
			p.logger.Error("batch task panicked", "artifact", artifact, "panic", r)
		}
	}()

	payload, err := p.applyOne(ctx, artifact, op, withTx)
	if err != nil {
		p.logger.Warn("batch task failed", "artifact", artifact, "error", err)
		res.Status = StatusFailed
		res.Err = err.Error()
		return res
	}
	res.Payload = payload
	return res
}

func (p *Processor) applyOne(ctx context.Context, artifact string, op Operation, withTx bool) (any, error) {
	h, err := p.registry.Handler(artifact, image.WithLogger(p.logger))
	if err != nil {
		return nil, err
	}

	if !withTx {
		return op(ctx, h)
	}

	var payload any
	err = p.store.Transaction(ctx, artifact, "batch operation", checkpoint.TxOptions{AutoCleanup: true}, func(*checkpoint.Tx) error {
		var opErr error
		payload, opErr = op(ctx, h)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

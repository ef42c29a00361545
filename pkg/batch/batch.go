// SPDX-License-Identifier: MPL-2.0

package batch

import (
	"context"
	"time"

	"github.com/servicebay/servicebay/pkg/image"
)

type (
	// Status classifies the outcome of a single batch task.
	Status string

	// Operation is the unit of work applied to one artifact. The processor
	// hands it a freshly constructed handler; the operation owns the whole
	// mount, operate, unmount pipeline for that artifact. Convenience
	// constructors (InfoOp, ListFilesOp, AddFileOp, RemoveFileOp,
	// ExtractFileOp) cover the common cases.
	Operation func(ctx context.Context, h image.Handler) (any, error)

	// Result reports the outcome of one artifact's task. Exactly one of
	// Payload and Err is meaningful, selected by Status.
	Result struct {
		Artifact string        `json:"artifact"`
		Status   Status        `json:"status"`
		Payload  any           `json:"result,omitempty"`
		Err      string        `json:"error,omitempty"`
		Elapsed  time.Duration `json:"elapsed,omitempty"`
	}
)

const (
	// StatusSuccess marks a task whose operation completed without error.
	StatusSuccess Status = "success"
	// StatusFailed marks a task whose operation returned an error or
	// panicked, or that was never scheduled because the batch context was
	// cancelled first.
	StatusFailed Status = "failed"
)

// String returns the status value.
func (s Status) String() string { return string(s) }

// Failed reports whether the result carries a failure.
func (r Result) Failed() bool { return r.Status == StatusFailed }

// SPDX-License-Identifier: MPL-2.0

package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Summary aggregates a batch's results.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Elapsed sums the per-task durations; with parallel workers it exceeds
	// the batch's wall-clock time.
	Elapsed time.Duration `json:"elapsed"`
}

// Summarize counts successes and failures across results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Failed() {
			s.Failed++
		} else {
			s.Succeeded++
		}
		s.Elapsed += r.Elapsed
	}
	return s
}

// WriteReport streams results to w as JSON lines, one record per result.
func WriteReport(w io.Writer, results []Result) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode batch result: %w", err)
		}
	}
	return nil
}

// SaveReport writes the JSON-lines report to path, replacing any existing
// file.
func SaveReport(path string, results []Result) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close report file: %w", closeErr)
		}
	}()

	return WriteReport(f, results)
}

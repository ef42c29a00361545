// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCUEPath is returned when a CUEPath value is empty or
// whitespace-only.
var ErrInvalidCUEPath = errors.New("invalid CUE path")

// CUEPath addresses a definition or field inside a CUE document, for example
// "#Config" or "batch.max_workers".
type CUEPath string

// String returns the path as a plain string.
func (p CUEPath) String() string { return string(p) }

// Validate checks that the path is usable for a schema lookup.
func (p CUEPath) Validate() error {
	if strings.TrimSpace(string(p)) == "" {
		return fmt.Errorf("%w: path must be non-empty", ErrInvalidCUEPath)
	}
	return nil
}

// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidExitCode is the sentinel error wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

// Exit status bounds for POSIX processes. Servicing tools report their
// outcome inside this range.
const (
	minExitCode ExitCode = 0
	maxExitCode ExitCode = 255
)

type (
	// ExitCode represents the exit status of an external servicing tool.
	// The zero value (0) means the tool succeeded.
	ExitCode int

	// InvalidExitCodeError is returned when an ExitCode is outside the
	// 0-255 range.
	InvalidExitCodeError struct {
		Value ExitCode
	}
)

// String returns the decimal string representation of the ExitCode.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }

// IsSuccess returns true if the exit code indicates successful execution.
func (c ExitCode) IsSuccess() bool { return c == 0 }

// Validate returns an error if the ExitCode is outside the valid range.
func (c ExitCode) Validate() error {
	if c < minExitCode || c > maxExitCode {
		return &InvalidExitCodeError{Value: c}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("invalid exit code %d (must be in range %d-%d)", e.Value, minExitCode, maxExitCode)
}

// Unwrap returns ErrInvalidExitCode so callers can use errors.Is for programmatic detection.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

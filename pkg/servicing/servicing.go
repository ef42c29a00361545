// SPDX-License-Identifier: MPL-2.0

package servicing

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const (
	// KindWIM is the compressed-container format family (Windows Imaging).
	KindWIM Kind = "wim"
	// KindVHD is the virtual-disk format family (VHD and VHDX).
	KindVHD Kind = "vhd"
	// KindISO is the optical-disc format family (ISO-9660).
	KindISO Kind = "iso"
	// KindPPKG is the provisioning-package format family (zip-based).
	KindPPKG Kind = "ppkg"
)

var (
	// ErrInvalidKind is the sentinel error wrapped by InvalidKindError.
	ErrInvalidKind = errors.New("invalid format kind")

	// ErrInvalidRequest is the sentinel error wrapped by InvalidRequestError.
	ErrInvalidRequest = errors.New("invalid servicing request")

	// ErrUnsupportedRequest is the sentinel error wrapped by UnsupportedRequestError.
	ErrUnsupportedRequest = errors.New("unsupported servicing request")

	// ErrToolNotAvailable is the sentinel error wrapped by ToolNotAvailableError.
	ErrToolNotAvailable = errors.New("servicing tool not available")
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// Kind identifies the container format family a servicing request
	// targets. Executors dispatch on it to pick the right external tool.
	Kind string

	// InvalidKindError is returned when a Kind is not a recognized format family.
	InvalidKindError struct {
		Value Kind
	}

	// MountRequest asks the executor to expose an artifact's contents as a
	// writable (or read-only) directory tree at MountPoint, in place.
	MountRequest struct {
		// Artifact is the path to the container file on disk.
		Artifact string
		// Kind selects the format family.
		Kind Kind
		// Selector picks the sub-image or partition inside the container
		// (WIM image index, virtual-disk partition number). Zero means the
		// tool default (the first entry).
		Selector int
		// MountPoint is the directory the contents appear under.
		MountPoint string
		// ReadOnly mounts the artifact without write access.
		ReadOnly bool
	}

	// UnmountRequest asks the executor to tear down an in-place mount.
	UnmountRequest struct {
		// Artifact is the path to the container file on disk.
		Artifact string
		// Kind selects the format family.
		Kind Kind
		// MountPoint is the directory the artifact was mounted at.
		MountPoint string
		// Commit persists pending changes back into the container;
		// false discards them where the tool supports it.
		Commit bool
	}

	// ExtractRequest asks the executor to unpack an artifact's contents
	// into TargetDir. Used by format families without in-place mounts.
	ExtractRequest struct {
		// Artifact is the path to the container file on disk.
		Artifact string
		// Kind selects the format family.
		Kind Kind
		// Selector picks the sub-image inside the container. Zero means
		// the tool default.
		Selector int
		// TargetDir is the directory the contents are unpacked into.
		TargetDir string
	}

	// RepackRequest asks the executor to rebuild the artifact from the
	// contents of SourceDir, replacing the container file.
	RepackRequest struct {
		// Artifact is the path to the container file on disk.
		Artifact string
		// Kind selects the format family.
		Kind Kind
		// SourceDir is the directory tree to pack.
		SourceDir string
	}

	// InvalidRequestError is returned when a servicing request has invalid
	// fields. It wraps ErrInvalidRequest for errors.Is() compatibility and
	// collects the field-level validation errors.
	InvalidRequestError struct {
		Op          string
		FieldErrors []error
	}

	// UnsupportedRequestError is returned when an executor cannot serve an
	// operation for the requested format family (e.g. an in-place mount of
	// an archive-style format).
	UnsupportedRequestError struct {
		Kind Kind
		Op   string
	}

	// ToolNotAvailableError is returned when the external tool backing a
	// format family cannot be found on the system.
	ToolNotAvailableError struct {
		Tool   string
		Reason string
	}

	// Executor performs the bit-level container work image handlers
	// delegate: mounting, unmounting, extracting, and repacking artifacts.
	// Implementations must be safe for concurrent use by independent
	// handlers.
	Executor interface {
		// Mount exposes the artifact at the request's mount point.
		Mount(ctx context.Context, req MountRequest) error
		// Unmount tears down an in-place mount, committing or discarding
		// pending changes per the request.
		Unmount(ctx context.Context, req UnmountRequest) error
		// Extract unpacks the artifact's contents into the target directory.
		Extract(ctx context.Context, req ExtractRequest) error
		// Repack rebuilds the artifact from the source directory.
		Repack(ctx context.Context, req RepackRequest) error
	}
)

// String returns the string representation of the Kind.
func (k Kind) String() string { return string(k) }

// Validate returns an error if the Kind is not one of the defined format families.
func (k Kind) Validate() error {
	switch k {
	case KindWIM, KindVHD, KindISO, KindPPKG:
		return nil
	default:
		return &InvalidKindError{Value: k}
	}
}

// Error implements the error interface.
func (e *InvalidKindError) Error() string {
	return fmt.Sprintf("invalid format kind %q (valid: wim, vhd, iso, ppkg)", e.Value)
}

// Unwrap returns ErrInvalidKind so callers can use errors.Is for programmatic detection.
func (e *InvalidKindError) Unwrap() error { return ErrInvalidKind }

// Validate returns an error if any field of the MountRequest is invalid.
func (r MountRequest) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Artifact) == "" {
		errs = append(errs, errors.New("artifact path must be non-empty"))
	}
	if err := r.Kind.Validate(); err != nil {
		errs = append(errs, err)
	}
	if r.Selector < 0 {
		errs = append(errs, fmt.Errorf("selector %d must not be negative", r.Selector))
	}
	if strings.TrimSpace(r.MountPoint) == "" {
		errs = append(errs, errors.New("mount point must be non-empty"))
	}
	if len(errs) > 0 {
		return &InvalidRequestError{Op: "mount", FieldErrors: errs}
	}
	return nil
}

// Validate returns an error if any field of the UnmountRequest is invalid.
func (r UnmountRequest) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Artifact) == "" {
		errs = append(errs, errors.New("artifact path must be non-empty"))
	}
	if err := r.Kind.Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(r.MountPoint) == "" {
		errs = append(errs, errors.New("mount point must be non-empty"))
	}
	if len(errs) > 0 {
		return &InvalidRequestError{Op: "unmount", FieldErrors: errs}
	}
	return nil
}

// Validate returns an error if any field of the ExtractRequest is invalid.
func (r ExtractRequest) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Artifact) == "" {
		errs = append(errs, errors.New("artifact path must be non-empty"))
	}
	if err := r.Kind.Validate(); err != nil {
		errs = append(errs, err)
	}
	if r.Selector < 0 {
		errs = append(errs, fmt.Errorf("selector %d must not be negative", r.Selector))
	}
	if strings.TrimSpace(r.TargetDir) == "" {
		errs = append(errs, errors.New("target directory must be non-empty"))
	}
	if len(errs) > 0 {
		return &InvalidRequestError{Op: "extract", FieldErrors: errs}
	}
	return nil
}

// Validate returns an error if any field of the RepackRequest is invalid.
func (r RepackRequest) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Artifact) == "" {
		errs = append(errs, errors.New("artifact path must be non-empty"))
	}
	if err := r.Kind.Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(r.SourceDir) == "" {
		errs = append(errs, errors.New("source directory must be non-empty"))
	}
	if len(errs) > 0 {
		return &InvalidRequestError{Op: "repack", FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface for InvalidRequestError.
func (e *InvalidRequestError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, err := range e.FieldErrors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("invalid %s request: %s", e.Op, strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidRequest for errors.Is() compatibility.
func (e *InvalidRequestError) Unwrap() error { return ErrInvalidRequest }

// Error implements the error interface for UnsupportedRequestError.
func (e *UnsupportedRequestError) Error() string {
	return fmt.Sprintf("format kind %q does not support %s", e.Kind, e.Op)
}

// Unwrap returns ErrUnsupportedRequest for errors.Is() compatibility.
func (e *UnsupportedRequestError) Unwrap() error { return ErrUnsupportedRequest }

// Error implements the error interface for ToolNotAvailableError.
func (e *ToolNotAvailableError) Error() string {
	return fmt.Sprintf("servicing tool '%s' is not available: %s", e.Tool, e.Reason)
}

// Unwrap returns ErrToolNotAvailable for errors.Is() compatibility.
func (e *ToolNotAvailableError) Unwrap() error { return ErrToolNotAvailable }

// SPDX-License-Identifier: MPL-2.0

package image

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/servicebay/servicebay/pkg/servicing"
)

const (
	// FormatWIM is the compressed-container format (Windows Imaging).
	FormatWIM Format = "wim"
	// FormatVHD is the fixed/dynamic virtual-disk format.
	FormatVHD Format = "vhd"
	// FormatVHDX is the extended virtual-disk format. Serviced by the same
	// handler and tools as FormatVHD.
	FormatVHDX Format = "vhdx"
	// FormatISO is the optical-disc format (ISO-9660).
	FormatISO Format = "iso"
	// FormatPPKG is the provisioning-package format (zip container).
	FormatPPKG Format = "ppkg"
)

var (
	// ErrImageNotFound is the sentinel error wrapped by ImageNotFoundError.
	ErrImageNotFound = errors.New("image artifact not found")

	// ErrUnsupportedFormat is the sentinel error wrapped by UnsupportedFormatError.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrInvalidFormat is the sentinel error wrapped by InvalidFormatError.
	ErrInvalidFormat = errors.New("invalid image format")

	// ErrMount is the sentinel error wrapped by MountError.
	ErrMount = errors.New("image mount error")

	// ErrNotMounted is returned (inside a MountError) when an operation
	// requires a mounted image.
	ErrNotMounted = errors.New("image is not mounted")

	// ErrReadOnly is returned (inside an OperationError) when a write
	// operation hits a read-only mount.
	ErrReadOnly = errors.New("image is mounted read-only")

	// ErrOperation is the sentinel error wrapped by OperationError.
	ErrOperation = errors.New("image file operation error")

	// ErrValidation is the sentinel error wrapped by ValidationError.
	ErrValidation = errors.New("image validation error")
)

type (
	// Format identifies an image container format. Its string value doubles
	// as the file-extension indicator the registry dispatches on.
	Format string

	// InvalidFormatError is returned when a Format is not a recognized
	// container format.
	InvalidFormatError struct {
		Value Format
	}

	// ImageNotFoundError is returned when the artifact file does not exist
	// on disk.
	ImageNotFoundError struct {
		Path string
	}

	// UnsupportedFormatError is returned when no handler is registered for
	// an artifact's format indicator.
	UnsupportedFormatError struct {
		Path      string
		Indicator string
		Supported []string
	}

	// MountError is returned when mounting or unmounting fails, or when an
	// operation requires a mount state the handler is not in.
	MountError struct {
		Path string
		Op   string
		Err  error
	}

	// OperationError is returned when a file operation on a mounted image
	// fails: missing source, uncreatable destination, or a path escaping
	// the mount point.
	OperationError struct {
		Path string
		Op   string
		Err  error
	}

	// ValidationError is returned when an artifact fails the fixed-offset
	// signature check performed at handler construction.
	ValidationError struct {
		Path   string
		Format Format
		Reason string
	}

	// MountOptions configures a Handler.Mount call.
	MountOptions struct {
		// Selector picks the sub-image or partition inside the container
		// (compressed-container image index, virtual-disk partition). Zero
		// means the format's first entry.
		Selector int
		// MountPoint is an optional directory to mount at. Empty means the
		// handler creates a scoped temp directory and removes it again on
		// unmount; a caller-provided directory is never removed.
		MountPoint string
		// ReadOnly mounts without write access. Write operations and
		// commit-on-unmount are rejected or downgraded accordingly.
		ReadOnly bool
	}

	// Info describes an image artifact and its current mount state.
	Info struct {
		Path       string
		Format     Format
		SizeBytes  int64
		SizeHuman  string
		ModTime    time.Time
		Mounted    bool
		MountPoint string
		ReadOnly   bool
		// Metadata carries format-specific details such as the mount style
		// and the active selector.
		Metadata map[string]string
	}

	// Handler services one image artifact through a uniform lifecycle:
	// mount, operate on the contents as a plain file tree, unmount with an
	// explicit commit-or-discard decision. Implementations are safe for
	// concurrent use; each method call holds the handler's internal lock.
	Handler interface {
		// Mount exposes the artifact's contents at a directory and returns
		// its path. Mounting an already-mounted handler is a no-op that
		// returns the existing mount point.
		Mount(ctx context.Context, opts MountOptions) (string, error)
		// Unmount tears the mount down. commit persists pending changes
		// into the artifact; false discards them. Unmounting an unmounted
		// handler is a warning no-op.
		Unmount(ctx context.Context, commit bool) error
		// ListFiles returns the slash-separated relative paths of all
		// regular files under rel inside the mounted tree, sorted.
		ListFiles(rel string) ([]string, error)
		// AddFile copies the host file src to the relative path dst inside
		// the mounted tree, creating parent directories.
		AddFile(ctx context.Context, src, dst string) error
		// RemoveFile deletes the file or directory tree at the relative
		// path rel inside the mounted tree.
		RemoveFile(rel string) error
		// ExtractFile copies the file at the relative path src inside the
		// mounted tree to the host path dst.
		ExtractFile(ctx context.Context, src, dst string) error
		// Info describes the artifact. It works in any mount state.
		Info() (*Info, error)
		// Format returns the artifact's container format.
		Format() Format
		// Path returns the artifact's path on disk.
		Path() string
	}
)

// String returns the string representation of the Format.
func (f Format) String() string { return string(f) }

// Validate returns an error if the Format is not one of the defined
// container formats.
func (f Format) Validate() error {
	switch f {
	case FormatWIM, FormatVHD, FormatVHDX, FormatISO, FormatPPKG:
		return nil
	default:
		return &InvalidFormatError{Value: f}
	}
}

// Kind maps the Format to the servicing format family handling it.
// VHD and VHDX share the virtual-disk family.
func (f Format) Kind() servicing.Kind {
	switch f {
	case FormatWIM:
		return servicing.KindWIM
	case FormatVHD, FormatVHDX:
		return servicing.KindVHD
	case FormatISO:
		return servicing.KindISO
	case FormatPPKG:
		return servicing.KindPPKG
	default:
		return ""
	}
}

// Error implements the error interface.
func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid image format %q (valid: wim, vhd, vhdx, iso, ppkg)", e.Value)
}

// Unwrap returns ErrInvalidFormat so callers can use errors.Is for programmatic detection.
func (e *InvalidFormatError) Unwrap() error { return ErrInvalidFormat }

// Error implements the error interface.
func (e *ImageNotFoundError) Error() string {
	return fmt.Sprintf("image artifact %q not found", e.Path)
}

// Unwrap returns ErrImageNotFound so callers can use errors.Is for programmatic detection.
func (e *ImageNotFoundError) Unwrap() error { return ErrImageNotFound }

// Error implements the error interface.
func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported image format %q for %q (supported: %s)",
		e.Indicator, e.Path, strings.Join(e.Supported, ", "))
}

// Unwrap returns ErrUnsupportedFormat so callers can use errors.Is for programmatic detection.
func (e *UnsupportedFormatError) Unwrap() error { return ErrUnsupportedFormat }

// Error implements the error interface.
func (e *MountError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns ErrMount plus the underlying cause, so errors.Is matches
// both the sentinel and wrapped errors such as ErrNotMounted.
func (e *MountError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMount}
	}
	return []error{ErrMount, e.Err}
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	return fmt.Sprintf("%s on %q: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns ErrOperation plus the underlying cause.
func (e *OperationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrOperation}
	}
	return []error{ErrOperation, e.Err}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s artifact %q failed validation: %s", e.Format, e.Path, e.Reason)
}

// Unwrap returns ErrValidation so callers can use errors.Is for programmatic detection.
func (e *ValidationError) Unwrap() error { return ErrValidation }

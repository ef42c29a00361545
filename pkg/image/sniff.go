// SPDX-License-Identifier: MPL-2.0

package image

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// sniffMagic checks the artifact for a fixed-offset format signature.
// This reads a handful of bytes only; it is an identity check, not
// container parsing. A missing or mismatched signature yields a
// ValidationError.
func sniffMagic(path string, format Format, offset int64, magic []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact for validation: %w", err)
	}
	// Read-only file; close error non-critical
	defer func() { _ = f.Close() }()

	buf := make([]byte, len(magic))
	n, err := f.ReadAt(buf, offset)
	if n < len(magic) {
		if err == nil || errors.Is(err, io.EOF) {
			return &ValidationError{
				Path:   path,
				Format: format,
				Reason: fmt.Sprintf("artifact too small for a signature at offset %#x", offset),
			}
		}
		return fmt.Errorf("read artifact signature: %w", err)
	}
	if !bytes.Equal(buf, magic) {
		return &ValidationError{
			Path:   path,
			Format: format,
			Reason: fmt.Sprintf("signature mismatch at offset %#x", offset),
		}
	}
	return nil
}

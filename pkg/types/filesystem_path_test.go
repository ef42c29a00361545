// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"testing"
)

func TestFilesystemPath_Validate(t *testing.T) {
	t.Parallel()

	valid := []FilesystemPath{
		"/srv/images/install.wim",
		"config.cue",
		"C:\\Images\\install.wim",
		"/path/to/my image.vhdx",
		".",
	}
	for _, p := range valid {
		if err := p.Validate(); err != nil {
			t.Errorf("FilesystemPath(%q).Validate() = %v, want nil", p, err)
		}
	}

	invalid := []FilesystemPath{"", "   ", "\t"}
	for _, p := range invalid {
		err := p.Validate()
		if err == nil {
			t.Errorf("FilesystemPath(%q).Validate() = nil, want error", p)
			continue
		}
		if !errors.Is(err, ErrInvalidFilesystemPath) {
			t.Errorf("FilesystemPath(%q).Validate() error does not wrap ErrInvalidFilesystemPath: %v", p, err)
		}
		fpErr, isType := errors.AsType[*InvalidFilesystemPathError](err)
		if !isType {
			t.Errorf("error type = %T, want *InvalidFilesystemPathError", err)
		} else if fpErr.Value != p {
			t.Errorf("InvalidFilesystemPathError.Value = %q, want %q", fpErr.Value, p)
		}
	}
}

func TestFilesystemPath_String(t *testing.T) {
	t.Parallel()

	p := FilesystemPath("/srv/images/install.wim")
	if p.String() != "/srv/images/install.wim" {
		t.Errorf("FilesystemPath.String() = %q, want %q", p.String(), "/srv/images/install.wim")
	}
}

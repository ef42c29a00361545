// SPDX-License-Identifier: MPL-2.0

package image

import (
	"github.com/servicebay/servicebay/pkg/servicing"
)

// ppkgMagic is the zip local-file-header signature at the start of every
// provisioning package with at least one entry.
const ppkgMagic = "PK\x03\x04"

// PPKGHandler services provisioning-package artifacts (zip containers).
// Mounting extracts the package contents into a staging directory; an
// unmount with commit repacks the container from the staging tree,
// discard leaves the artifact untouched.
type PPKGHandler struct {
	*baseHandler
}

// NewPPKGHandler creates a handler for a provisioning-package artifact.
// The file must start with the zip local-file-header signature, so empty
// containers without entries are rejected.
func NewPPKGHandler(path string, executor servicing.Executor, opts ...HandlerOption) (*PPKGHandler, error) {
	b, err := newBaseHandler(path, FormatPPKG, mountStyleExtract, executor, opts...)
	if err != nil {
		return nil, err
	}
	if err := sniffMagic(b.path, FormatPPKG, 0, []byte(ppkgMagic)); err != nil {
		return nil, err
	}

	b.mountFn = b.stagedMount
	b.unmountFn = b.stagedUnmount
	return &PPKGHandler{baseHandler: b}, nil
}

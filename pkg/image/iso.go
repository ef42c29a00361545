// SPDX-License-Identifier: MPL-2.0

package image

import (
	"github.com/servicebay/servicebay/pkg/servicing"
)

const (
	// isoMagicOffset is where the ISO-9660 standard identifier sits: five
	// bytes into the first volume descriptor, which starts at sector 16 of
	// 2048-byte sectors.
	isoMagicOffset = 0x8001
	// isoMagic is the ISO-9660 standard identifier.
	isoMagic = "CD001"
)

// ISOHandler services optical-disc artifacts. Mounting extracts the disc
// contents into a staging directory; an unmount with commit rebuilds the
// container from the staging tree, discard leaves the artifact untouched.
type ISOHandler struct {
	*baseHandler
}

// NewISOHandler creates a handler for an optical-disc artifact. The file
// must carry the ISO-9660 volume descriptor signature.
func NewISOHandler(path string, executor servicing.Executor, opts ...HandlerOption) (*ISOHandler, error) {
	b, err := newBaseHandler(path, FormatISO, mountStyleExtract, executor, opts...)
	if err != nil {
		return nil, err
	}
	if err := sniffMagic(b.path, FormatISO, isoMagicOffset, []byte(isoMagic)); err != nil {
		return nil, err
	}

	b.mountFn = b.stagedMount
	b.unmountFn = b.stagedUnmount
	return &ISOHandler{baseHandler: b}, nil
}

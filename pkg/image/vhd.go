// SPDX-License-Identifier: MPL-2.0

package image

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/servicebay/servicebay/pkg/servicing"
)

// VHDHandler services virtual-disk artifacts (vhd and vhdx). The executor
// mounts the selected partition in place.
//
// Disk writes go through to the image file as they happen, so an unmount
// with discard cannot revert changes already flushed. Callers that need
// rollback take a checkpoint before mounting read-write.
type VHDHandler struct {
	*baseHandler
}

// NewVHDHandler creates a handler for a virtual-disk artifact. The format
// is derived from the file extension: .vhdx yields FormatVHDX, anything
// else FormatVHD. Both share the same servicing family.
func NewVHDHandler(path string, executor servicing.Executor, opts ...HandlerOption) (*VHDHandler, error) {
	format := FormatVHD
	if strings.EqualFold(filepath.Ext(path), ".vhdx") {
		format = FormatVHDX
	}

	b, err := newBaseHandler(path, format, mountStyleInPlace, executor, opts...)
	if err != nil {
		return nil, err
	}

	h := &VHDHandler{baseHandler: b}
	b.mountFn = b.inPlaceMount
	b.unmountFn = h.unmountWriteThrough
	return h, nil
}

// unmountWriteThrough detaches the disk mount. Discarding a read-write
// session gets a warning: flushed writes are already in the image file.
func (h *VHDHandler) unmountWriteThrough(ctx context.Context, sess *session, commit bool) error {
	if !commit && !sess.readOnly {
		h.logger.Warn("virtual-disk writes are write-through; discard cannot revert flushed changes",
			"path", h.path)
	}
	return h.inPlaceUnmount(ctx, sess, commit)
}

// SPDX-License-Identifier: MPL-2.0

package image

import (
	"github.com/servicebay/servicebay/pkg/servicing"
)

// WIMHandler services compressed-container artifacts. The executor mounts
// the selected sub-image in place; changes flow back into the container
// only through an unmount with commit.
type WIMHandler struct {
	*baseHandler
}

// NewWIMHandler creates a handler for a compressed-container artifact.
func NewWIMHandler(path string, executor servicing.Executor, opts ...HandlerOption) (*WIMHandler, error) {
	b, err := newBaseHandler(path, FormatWIM, mountStyleInPlace, executor, opts...)
	if err != nil {
		return nil, err
	}

	b.mountFn = b.inPlaceMount
	b.unmountFn = b.inPlaceUnmount
	return &WIMHandler{baseHandler: b}, nil
}

// SPDX-License-Identifier: MPL-2.0

package image

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/servicebay/servicebay/pkg/servicing"
)

type (
	// HandlerFactory constructs a format handler for an artifact path.
	HandlerFactory func(path string, opts ...HandlerOption) (Handler, error)

	// Registry maps file-extension indicators to handler factories and
	// dispatches artifact paths to the matching handler. Registration
	// happens up front; afterwards the registry is safe for concurrent
	// lookups.
	Registry struct {
		mu        sync.RWMutex
		factories map[string]HandlerFactory
	}
)

// NewRegistry creates an empty format registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]HandlerFactory)}
}

// Register binds a file-extension indicator (with or without the leading
// dot, matched case-insensitively) to a handler factory. Registering an
// indicator again replaces the previous factory.
func (r *Registry) Register(indicator string, factory HandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeIndicator(indicator)] = factory
}

// Supported returns the registered indicators, sorted.
func (r *Registry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories))
	for indicator := range r.factories {
		out = append(out, indicator)
	}
	sort.Strings(out)
	return out
}

// Handler constructs the handler for the artifact path by dispatching on
// its file extension. An unregistered extension yields an
// UnsupportedFormatError naming the supported indicators; a missing file
// yields an ImageNotFoundError from the handler constructor.
func (r *Registry) Handler(path string, opts ...HandlerOption) (Handler, error) {
	indicator := normalizeIndicator(filepath.Ext(path))

	r.mu.RLock()
	factory, ok := r.factories[indicator]
	r.mu.RUnlock()

	if !ok {
		return nil, &UnsupportedFormatError{
			Path:      path,
			Indicator: indicator,
			Supported: r.Supported(),
		}
	}
	return factory(path, opts...)
}

// DefaultRegistry builds a registry with the four built-in format
// families wired to the given executor.
func DefaultRegistry(executor servicing.Executor) *Registry {
	r := NewRegistry()
	r.Register("wim", func(path string, opts ...HandlerOption) (Handler, error) {
		return NewWIMHandler(path, executor, opts...)
	})
	r.Register("vhd", func(path string, opts ...HandlerOption) (Handler, error) {
		return NewVHDHandler(path, executor, opts...)
	})
	r.Register("vhdx", func(path string, opts ...HandlerOption) (Handler, error) {
		return NewVHDHandler(path, executor, opts...)
	})
	r.Register("iso", func(path string, opts ...HandlerOption) (Handler, error) {
		return NewISOHandler(path, executor, opts...)
	})
	r.Register("ppkg", func(path string, opts ...HandlerOption) (Handler, error) {
		return NewPPKGHandler(path, executor, opts...)
	})
	return r
}

// normalizeIndicator lowercases and strips the leading dot from an
// extension indicator.
func normalizeIndicator(indicator string) string {
	return strings.ToLower(strings.TrimPrefix(indicator, "."))
}

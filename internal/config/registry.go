package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MythologIQ/hearthlink-core/internal/registry"
	"github.com/MythologIQ/hearthlink-core/pkg/backend"
)

// ErrFactoryNotRegistered is returned by [FactoryRegistry.Create] when no
// constructor has been registered under the requested format.
var ErrFactoryNotRegistered = errors.New("config: backend factory not registered")

// backendFactory constructs a backend.Backend from a model's decrypted
// bytes, the same shape registry.BackendFactory expects.
type backendFactory func(path string, data []byte) (backend.Backend, error)

// FactoryRegistry maps a model format string (e.g. "gguf", "onnx",
// "reference") to the constructor that builds a backend for it. It is safe
// for concurrent use.
type FactoryRegistry struct {
	mu         sync.RWMutex
	factories  map[string]backendFactory
	defaultFmt string
}

// NewFactoryRegistry returns an empty, ready-to-use [FactoryRegistry].
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{factories: make(map[string]backendFactory)}
}

// Register associates format with factory. Subsequent calls with the same
// format overwrite the previous registration.
func (r *FactoryRegistry) Register(format string, factory func(path string, data []byte) (backend.Backend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[format] = factory
}

// SetDefault designates the format used by [FactoryRegistry.Resolve] when a
// model path's extension does not match any registered format.
func (r *FactoryRegistry) SetDefault(format string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultFmt = format
}

// Create instantiates a backend using the constructor registered under
// format. Returns [ErrFactoryNotRegistered] if no constructor has been
// registered for that format.
func (r *FactoryRegistry) Create(format, path string, data []byte) (backend.Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[format]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFactoryNotRegistered, format)
	}
	return factory(path, data)
}

// Resolve returns a [registry.BackendFactory] that dispatches to the
// constructor matching each model path's file extension, falling back to
// the format set via [FactoryRegistry.SetDefault] when the extension is
// unrecognised. Pass the result as Registry.Config.NewBackend.
func (r *FactoryRegistry) Resolve() registry.BackendFactory {
	return func(path string, data []byte) (backend.Backend, error) {
		format := strings.TrimPrefix(filepath.Ext(path), ".")
		r.mu.RLock()
		_, known := r.factories[format]
		def := r.defaultFmt
		r.mu.RUnlock()
		if !known {
			format = def
		}
		return r.Create(format, path, data)
	}
}

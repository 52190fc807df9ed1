package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/captionsync/internal/feedserver"
	"github.com/MrWong99/captionsync/internal/metadata"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// HistoryFactory builds a caption history store. Stores that hold resources
// may implement Close(); stores that can be probed may implement
// Ping(context.Context) error.
type HistoryFactory func(ctx context.Context, cfg HistoryConfig) (feedserver.HistoryStore, error)

// MetadataFactory builds a session metadata service.
type MetadataFactory func(cfg MetadataConfig) (metadata.Service, error)

// Registry maps backend names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	history  map[string]HistoryFactory
	metadata map[string]MetadataFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		history:  make(map[string]HistoryFactory),
		metadata: make(map[string]MetadataFactory),
	}
}

// RegisterHistory registers a history store factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterHistory(name string, factory HistoryFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[name] = factory
}

// RegisterMetadata registers a metadata service factory under name.
func (r *Registry) RegisterMetadata(name string, factory MetadataFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata[name] = factory
}

// CreateHistory builds the store selected by cfg.Backend. An empty backend
// selects "memory".
func (r *Registry) CreateHistory(ctx context.Context, cfg HistoryConfig) (feedserver.HistoryStore, error) {
	name := cfg.Backend
	if name == "" {
		name = HistoryMemory
	}
	r.mu.RLock()
	factory, ok := r.history[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: history/%q", ErrBackendNotRegistered, name)
	}
	return factory(ctx, cfg)
}

// CreateMetadata builds the service selected by cfg.Backend. An empty backend
// returns a nil service and no error.
func (r *Registry) CreateMetadata(cfg MetadataConfig) (metadata.Service, error) {
	if cfg.Backend == "" {
		return nil, nil
	}
	r.mu.RLock()
	factory, ok := r.metadata[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: metadata/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// Backends returns the registered names per kind, sorted.
func (r *Registry) Backends() (history, meta []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.history)), slices.Sorted(maps.Keys(r.metadata))
}

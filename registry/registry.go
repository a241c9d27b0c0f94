// Package registry keeps the debug lists of live kernel entities (threads,
// address spaces) in registration order.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicate is returned when a key is registered twice.
	ErrDuplicate = errors.New("registry: duplicate key")
	// ErrNotFound is returned when unregistering an unknown key.
	ErrNotFound = errors.New("registry: not found")
	// ErrInvalidKey is returned for an empty key.
	ErrInvalidKey = errors.New("registry: invalid key")
)

// Registry is an ordered, concurrency-safe map of live entities.
type Registry[V any] struct {
	mu      sync.RWMutex
	records map[string]V
	order   []string
}

// New creates an empty registry.
func New[V any]() *Registry[V] {
	return &Registry[V]{records: make(map[string]V)}
}

// Register adds v under key.
func (r *Registry[V]) Register(key string, v V) error {
	if key == "" {
		return ErrInvalidKey
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	r.records[key] = v
	r.order = append(r.order, key)
	return nil
}

// Unregister removes key.
func (r *Registry[V]) Unregister(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(r.records, key)
	for i, candidate := range r.order {
		if candidate == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Load returns the entity registered under key.
func (r *Registry[V]) Load(key string) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.records[key]
	return v, ok
}

// List returns the registered entities in registration order.
func (r *Registry[V]) List() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]V, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.records[key])
	}
	return out
}

// Len returns the number of registered entities.
func (r *Registry[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

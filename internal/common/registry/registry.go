// Package registry provides a generic, thread-safe keyed registry.
//
//	providers := registry.New[storage.Platform, Provider]()
//	providers.Register(storage.PlatformSpotify, spotify)
//	p, err := providers.Get(storage.PlatformSpotify)
package registry

import (
	"fmt"
	"sort"
	"sync"

	"melody-map/internal/common/errors"
)

// Registry maps keys to values under a RWMutex
type Registry[K ~string, V any] struct {
	entries map[K]V
	mu      sync.RWMutex
}

// New creates an empty registry
func New[K ~string, V any]() *Registry[K, V] {
	return &Registry[K, V]{
		entries: make(map[K]V),
	}
}

// Register adds or replaces the entry for key
func (r *Registry[K, V]) Register(key K, value V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = value
}

// Get returns the entry for key or a not_found AppError
func (r *Registry[K, V]) Get(key K) (V, error) {
	r.mu.RLock()
	value, exists := r.entries[key]
	r.mu.RUnlock()

	if !exists {
		var zero V
		return zero, errors.NotFoundError(fmt.Sprintf("registry entry %s", key))
	}
	return value, nil
}

// Keys returns the registered keys in sorted order. The slice is a copy.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]K, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// IsRegistered checks if key has an entry
func (r *Registry[K, V]) IsRegistered(key K) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[key]
	return exists
}

// Count returns the number of entries
func (r *Registry[K, V]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear removes all entries
func (r *Registry[K, V]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[K]V)
}

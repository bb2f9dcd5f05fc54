package providers

import (
	"melody-map/internal/circuitbreaker"
	"melody-map/internal/common/errors"
	"melody-map/internal/common/registry"
	"melody-map/internal/storage"
)

// Registry selects the Provider for a platform
type Registry struct {
	providers *registry.Registry[storage.Platform, Provider]
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: registry.New[storage.Platform, Provider]()}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.providers.Register(p.Platform(), p)
}

// Get returns the provider or a validation error for an unsupported platform
func (r *Registry) Get(platform storage.Platform) (Provider, error) {
	p, err := r.providers.Get(platform)
	if err != nil {
		return nil, errors.ValidationError("unsupported platform: " + string(platform)).WithCode("UNSUPPORTED_PLATFORM")
	}
	return p, nil
}

func (r *Registry) Supports(platform storage.Platform) bool {
	return r.providers.IsRegistered(platform)
}

// Platforms returns every registered platform in sorted order
func (r *Registry) Platforms() []storage.Platform {
	return r.providers.Keys()
}

// Refreshable returns the registered platforms whose provider supports refresh
func (r *Registry) Refreshable() []storage.Platform {
	var result []storage.Platform
	for _, platform := range r.providers.Keys() {
		p, err := r.providers.Get(platform)
		if err == nil && p.SupportsRefresh() {
			result = append(result, platform)
		}
	}
	return result
}

// BreakerStats reports the circuit breaker of every provider that has one
func (r *Registry) BreakerStats() []circuitbreaker.Stats {
	var stats []circuitbreaker.Stats
	for _, platform := range r.providers.Keys() {
		p, err := r.providers.Get(platform)
		if err != nil {
			continue
		}
		if b, ok := p.(interface{ BreakerStats() circuitbreaker.Stats }); ok {
			stats = append(stats, b.BreakerStats())
		}
	}
	return stats
}

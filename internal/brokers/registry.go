package brokers

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a broker from its config
type Factory func(config BrokerConfig) (Broker, error)

type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

func (r *Registry) Register(brokerType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[brokerType] = factory
}

// Create validates config and hands it to the factory registered for its type
func (r *Registry) Create(config BrokerConfig) (Broker, error) {
	r.mu.RLock()
	factory, exists := r.factories[config.GetType()]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("broker type %s not registered", config.GetType())
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return factory(config)
}

// GetAvailableTypes lists registered types in sorted order
func (r *Registry) GetAvailableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for brokerType := range r.factories {
		types = append(types, brokerType)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) IsRegistered(brokerType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[brokerType]
	return exists
}

package provider

import (
	"sort"
	"sync"

	"github.com/inletmsg/inlet/internal/logging"
)

// Registry manages the set of configured channel adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	log      *logging.Logger
}

// NewRegistry creates an adapter registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		log:      log.Sub("providers"),
	}
}

// Register adds an adapter to the registry, replacing any previous adapter
// of the same type.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Type()] = a
	r.log.Info().Str("provider", a.Type()).Msg("adapter registered")
}

// Get returns an adapter by type.
func (r *Registry) Get(providerType string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[providerType]
	return a, ok
}

// List returns all registered adapter types, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count returns the number of registered adapters.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

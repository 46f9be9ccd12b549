package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type DiscoveryFactory func(ctx context.Context) (Discovery, error)

// Registry routes to a discovery provider by name, so deployments can swap
// providers without touching the worker code.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]DiscoveryFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]DiscoveryFactory)}
}

func (r *Registry) Register(name string, f DiscoveryFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string) (Discovery, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown discovery provider: %s", name)
	}
	return f(ctx)
}

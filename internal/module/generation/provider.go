package generation

import (
	"context"
	"fmt"
	"sync"
)

// Provider is a single AI image generation backend.
type Provider interface {
	// Name returns the provider identifier used in routing and config.
	Name() string

	// Generate executes one generation call. Implementations must honor
	// ctx cancellation; a timed-out call may still complete remotely and
	// its result is discarded.
	Generate(ctx context.Context, req *Request) (*Result, error)

	// HealthCheck issues a lightweight probe request.
	HealthCheck(ctx context.Context) error

	// CostPerImage returns the provider's advertised per-image cost in
	// USD, used for result metadata.
	CostPerImage() float64
}

// Registry manages provider instances.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry creates a new provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register registers a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.Name()]; !ok {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return p, nil
}

// Names returns all registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

package provider

import (
	"fmt"
	"sync"
)

// Route is a resolved model route (spec §3 "ModelRoute").
type Route struct {
	Provider   string
	Model      string
	FullModel  string
}

// ResolveResult is what Resolve returns for a matched model string.
type ResolveResult struct {
	Provider      *Provider
	OriginalModel string
	TargetModel   string
}

// Registry holds provider records and the derived route table. Reads
// (Resolve, Get, List) take the read lock only; writes (Register, Update,
// Delete) take the write lock, per spec §5 "read-many, write-one".
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
	routes    map[string]Route
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*Provider),
		routes:    make(map[string]Route),
	}
}

// Register adds a new provider and its routes. Fails with ErrAlreadyExists
// if a provider of the same name is already registered.
func (r *Registry) Register(p *Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, p.Name)
	}
	r.providers[p.Name] = p
	r.addRoutesLocked(p)
	return nil
}

func (r *Registry) addRoutesLocked(p *Provider) {
	for _, m := range p.Models {
		full := p.Name + "," + m
		r.routes[full] = Route{Provider: p.Name, Model: m, FullModel: full}
		if _, exists := r.routes[m]; !exists {
			r.routes[m] = Route{Provider: p.Name, Model: m, FullModel: full}
		}
	}
}

func (r *Registry) removeRoutesLocked(p *Provider) {
	for _, m := range p.Models {
		full := p.Name + "," + m
		delete(r.routes, full)
		if route, ok := r.routes[m]; ok && route.Provider == p.Name {
			delete(r.routes, m)
		}
	}
}

// Get returns the named provider, or (nil, false).
func (r *Registry) Get(name string) (*Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// List returns every registered provider, in no particular order.
func (r *Registry) List() []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

// Update applies a partial mutation to a provider, identified by apply,
// and atomically rewrites the route table if Models changed. Fails with
// ErrNotFound if name isn't registered.
func (r *Registry) Update(name string, apply func(p *Provider)) (*Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	oldModels := append([]string(nil), p.Models...)
	apply(p)
	if !stringSliceEqual(oldModels, p.Models) {
		old := &Provider{Name: p.Name, Models: oldModels}
		r.removeRoutesLocked(old)
		r.addRoutesLocked(p)
	}
	return p, nil
}

// Delete removes a provider and its routes. Fails with ErrNotFound if name
// isn't registered.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	r.removeRoutesLocked(p)
	delete(r.providers, name)
	return nil
}

// Toggle sets the Enabled flag to enabled. Per Open Question 2 this has no effect on
// Resolve; it is bookkeeping only.
func (r *Registry) Toggle(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	p.Enabled = enabled
	return nil
}

// Resolve looks up modelName (either "provider,model" or a bare model) and
// returns the owning provider plus the bare target model (spec §4.1,
// invariant P4).
func (r *Registry) Resolve(modelName string) (*ResolveResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[modelName]
	if !ok {
		return nil, false
	}
	p, ok := r.providers[route.Provider]
	if !ok {
		return nil, false
	}
	return &ResolveResult{Provider: p, OriginalModel: modelName, TargetModel: route.Model}, true
}

// AvailableModelNames returns both the bare and "provider,model" forms for
// every registered model, for the admin /models-style listing.
func (r *Registry) AvailableModelNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, p := range r.providers {
		for _, m := range p.Models {
			out = append(out, m, p.Name+","+m)
		}
	}
	return out
}

// Routes returns every registered route.
func (r *Registry) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt)
	}
	return out
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

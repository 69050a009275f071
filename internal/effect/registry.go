package effect

import (
	"fmt"
	"strings"
	"sync"
)

// Provider is a registered root effect provider: a name bound to a
// reconciler for the lifetime of the registration.
type Provider struct {
	name string
	rec  Reconciler
}

// Name returns the provider's registered name.
func (p *Provider) Name() string { return p.name }

// Reconciler returns the provider's reconciler.
func (p *Provider) Reconciler() Reconciler { return p.rec }

// Registry holds registered effect providers and the sink interning table.
//
// Registration is expected to happen once per logical provider before any
// App runs. Re-registering a name while a prior registration is live is an
// error - the same invariant as any external-resource registry (one
// physical connection pool per key at a time).
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
	sinks     map[string]Sink
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*Provider),
		sinks:     make(map[string]Sink),
	}
}

// Register binds a reconciler under a name. Names must not contain "@"
// (reserved for derived child provider names).
func (r *Registry) Register(name string, rec Reconciler) (*Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("register provider: name must be non-empty")
	}
	if strings.Contains(name, "@") {
		return nil, fmt.Errorf("register provider %q: %q is reserved for derived child providers", name, "@")
	}
	if rec == nil {
		return nil, fmt.Errorf("register provider %q: reconciler must be non-nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, live := r.providers[name]; live {
		return nil, fmt.Errorf("register provider %q: already registered", name)
	}

	p := &Provider{name: name, rec: rec}
	r.providers[name] = p
	return p, nil
}

// Unregister removes a provider. Its interned sinks are released too.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.providers, name)
	for token := range r.sinks {
		if strings.HasPrefix(token, name+"/") {
			delete(r.sinks, token)
		}
	}
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (*Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// InternSink resolves a sink to its canonical instance. The interning
// table is keyed by the sink's stable token, with lifetime tied to
// provider registration - no weak references, no GC timing. Providers may
// construct fresh Sink values on every reconcile; all values carrying the
// same token collapse to the first one interned.
func (r *Registry) InternSink(s Sink) (Sink, error) {
	token := s.Token()
	if token == "" {
		return nil, fmt.Errorf("intern sink: empty token")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sinks[token]; ok {
		return existing, nil
	}
	r.sinks[token] = s
	return s, nil
}

// defaultRegistry is the process-wide registry used by the package-level
// registration API.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register registers a root effect provider in the process-wide registry.
// Expected to be called once per logical provider before any App runs.
func Register(name string, rec Reconciler) (*Provider, error) {
	return defaultRegistry.Register(name, rec)
}

package speech

import "sync"

// Factory constructs a controller for a scope. Each call must return a
// fully independent instance.
type Factory func(scope string) *Controller

// Registry holds one isolated controller per usage scope. Controllers
// for different scopes share no mutable state, so pausing one scope can
// never affect another.
type Registry struct {
	mu        sync.Mutex
	factory   Factory
	instances map[string]*Controller
}

// NewRegistry creates a registry backed by factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:   factory,
		instances: make(map[string]*Controller),
	}
}

// Instance returns the controller for scope, constructing it lazily on
// first use. Repeated calls with the same scope return the same
// instance.
func (r *Registry) Instance(scope string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.instances[scope]; ok {
		return c
	}
	c := r.factory(scope)
	r.instances[scope] = c
	return c
}

// Scopes returns the scopes with constructed controllers.
func (r *Registry) Scopes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	scopes := make([]string, 0, len(r.instances))
	for scope := range r.instances {
		scopes = append(scopes, scope)
	}
	return scopes
}

// Shutdown stops every constructed controller and forgets it.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	instances := r.instances
	r.instances = make(map[string]*Controller)
	r.mu.Unlock()

	for _, c := range instances {
		c.Stop()
	}
}

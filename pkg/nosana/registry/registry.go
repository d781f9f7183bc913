// Package registry centralizes the single module-level mutable state the
// sidecar has: the credential-name to ProviderClient map and the default
// pointer (spec.md §9 "Global mutable state"). Mutated only by the
// reconciler task; read with a lock-protected snapshot everywhere else.
package registry

import "sync"

// Registry holds the live ProviderClient set. It is intentionally generic
// over the client type (*provider.Client in production) to avoid a
// registry → provider import cycle with anything provider itself needs from
// here; production code instantiates Registry[*provider.Client].
type Registry[T any] struct {
	mu          sync.RWMutex
	clients     map[string]T
	defaultName string
	hasDefault  bool
}

// New builds an empty Registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{clients: make(map[string]T)}
}

// Get resolves a client by name, falling back to the default when name is
// empty (spec.md §4.7: "absence ⇒ default").
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	if name == "" {
		if !r.hasDefault {
			return zero, false
		}
		name = r.defaultName
	}
	c, ok := r.clients[name]
	return c, ok
}

// Names returns a snapshot of all registered client names.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	return names
}

// Set installs or replaces the client for name. If isDefault is true, name
// becomes the default; callers decide default selection per spec.md §4.5
// (legacy "default" entry wins; otherwise first-iteration-order promotion).
func (r *Registry[T]) Set(name string, client T, isDefault bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	if isDefault {
		r.defaultName = name
		r.hasDefault = true
	}
}

// Remove deletes name from the registry. If name was the default, the
// default pointer is cleared — callers must re-promote on the same tick per
// spec.md §4.5 step 6.
func (r *Registry[T]) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, name)
	if r.hasDefault && r.defaultName == name {
		r.hasDefault = false
		r.defaultName = ""
	}
}

// HasDefault reports whether a default client is currently set.
func (r *Registry[T]) HasDefault() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasDefault
}

// PromoteDefault sets name as the default without touching the client map;
// used when reconciliation finds no default but at least one client exists
// (spec.md §4.5 step 6).
func (r *Registry[T]) PromoteDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[name]; ok {
		r.defaultName = name
		r.hasDefault = true
	}
}

package mcpmgr

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds at most one Connection per provider name. It is pure
// bookkeeping; the Manager serializes lifecycle transitions per name.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add registers c. It fails with ErrDuplicateName when the name is taken.
func (r *Registry) Add(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.name]; ok {
		return fmt.Errorf("mcpmgr: %w: %q", ErrDuplicateName, c.name)
	}
	r.conns[c.name] = c
	return nil
}

// Remove deletes the entry for name. Absent names are ignored.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.conns, name)
	r.mu.Unlock()
}

// Find returns the connection registered under name.
func (r *Registry) Find(name string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[name]
	return c, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns every connection ordered by name.
func (r *Registry) List() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// ListEnabled returns List without disabled connections.
func (r *Registry) ListEnabled() []*Connection {
	all := r.List()
	out := all[:0]
	for _, c := range all {
		if !c.Disabled() {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

package stmtcache

import (
	"sync"
	"weak"
)

// Registry tracks live caches through weak pointers so that a pool can clear
// every cache of its sessions without keeping any of them alive. Entries
// whose cache was collected become inert until Cleanup prunes them.
type Registry struct {
	mu     sync.RWMutex
	caches []weak.Pointer[Cache]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Attach registers c. Attaching a cache twice is a no-op.
func (r *Registry) Attach(c *Cache) {
	wp := weak.Make(c)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.caches {
		if p == wp {
			return
		}
	}
	r.caches = append(r.caches, wp)
}

// Detach unregisters c.
func (r *Registry) Detach(c *Cache) {
	wp := weak.Make(c)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.caches {
		if p == wp {
			r.caches = append(r.caches[:i], r.caches[i+1:]...)
			return
		}
	}
}

// Clear empties every live cache and returns how many were cleared.
func (r *Registry) Clear() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.caches {
		if c := p.Value(); c != nil {
			c.Clear()
			n++
		}
	}
	return n
}

// Cleanup drops entries whose cache has been collected and returns how
// many were dropped.
func (r *Registry) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.caches[:0]
	for _, p := range r.caches {
		if p.Value() != nil {
			live = append(live, p)
		}
	}
	dropped := len(r.caches) - len(live)
	clear(r.caches[len(live):])
	r.caches = live
	return dropped
}

// Len returns the number of entries, including dead ones not yet pruned.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caches)
}

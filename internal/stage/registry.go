// File: internal/stage/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-stage connection registry.

package stage

import (
	"slices"
	"sync"
)

// Registry maps connection handles to the connections a stage owns.
type Registry struct {
	mu    sync.RWMutex
	conns map[uint64]*Conn
}

func newRegistry() *Registry {
	return &Registry{conns: make(map[uint64]*Conn)}
}

// Get returns the connection with handle id.
func (r *Registry) Get(id uint64) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Contains reports whether c is registered.
func (r *Registry) Contains(c *Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[c.id] == c
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the registered connections ordered by handle.
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Conn) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return out
}

// Usernames returns the authenticated users registered here.
func (r *Registry) Usernames() []string {
	var names []string
	for _, c := range r.Snapshot() {
		if u := c.Username(); u != "" {
			names = append(names, u)
		}
	}
	return names
}

func (r *Registry) put(c *Conn) {
	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
}

// putLocked and deleteLocked require r.mu held for writing.
func (r *Registry) putLocked(c *Conn) { r.conns[c.id] = c }

func (r *Registry) deleteLocked(c *Conn) bool {
	if r.conns[c.id] != c {
		return false
	}
	delete(r.conns, c.id)
	return true
}

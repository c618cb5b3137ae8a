// File: internal/session/attrs.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread-safe key/value attributes with optional per-key expiry.

package session

import (
	"maps"
	"slices"
	"sync"
	"time"
)

type entry struct {
	val    string
	expiry time.Time
}

// Attrs holds string attributes of one session.
type Attrs struct {
	mu    sync.RWMutex
	store map[string]entry
}

func newAttrs() *Attrs {
	return &Attrs{store: make(map[string]entry)}
}

// Set stores value under key, clearing any expiry.
func (a *Attrs) Set(key, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.store[key] = entry{val: value}
}

// Get returns the value of key unless it is missing or expired.
func (a *Attrs) Get(key string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.store[key]
	if !ok || (!e.expiry.IsZero() && time.Now().After(e.expiry)) {
		return "", false
	}
	return e.val, true
}

// Delete removes key.
func (a *Attrs) Delete(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.store, key)
}

// Expire makes key disappear after ttl.
func (a *Attrs) Expire(key string, ttl time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.store[key]; ok {
		e.expiry = time.Now().Add(ttl)
		a.store[key] = e
	}
}

// Snapshot copies the live attributes.
func (a *Attrs) Snapshot() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	now := time.Now()
	out := make(map[string]string, len(a.store))
	for k, e := range a.store {
		if e.expiry.IsZero() || now.Before(e.expiry) {
			out[k] = e.val
		}
	}
	return out
}

// Keys returns the live keys in order.
func (a *Attrs) Keys() []string {
	return slices.Sorted(maps.Keys(a.Snapshot()))
}

// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with dynamic update and reload listeners.

package control

import (
	"maps"
	"reflect"
	"slices"
	"sync"
)

// ReloadFunc receives the keys that changed and the store snapshot after
// the change.
type ReloadFunc func(changed []string, snapshot map[string]any)

// ConfigStore is a dynamic key/value map with snapshot reads and listeners.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []ReloadFunc
}

// NewConfigStore initializes a new config store with initial values.
func NewConfigStore(initial map[string]any) *ConfigStore {
	cs := &ConfigStore{config: make(map[string]any, len(initial))}
	maps.Copy(cs.config, initial)
	return cs
}

// Get returns one value.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return maps.Clone(cs.config)
}

// SetConfig merges newCfg and notifies listeners, in registration order on
// the calling goroutine, when any value changed. It returns the changed keys.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) []string {
	cs.mu.Lock()
	var changed []string
	for k, v := range newCfg {
		if old, ok := cs.config[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		cs.config[k] = v
		changed = append(changed, k)
	}
	slices.Sort(changed)
	snapshot := maps.Clone(cs.config)
	listeners := slices.Clone(cs.listeners)
	cs.mu.Unlock()

	if len(changed) == 0 {
		return nil
	}
	for _, fn := range listeners {
		fn(changed, snapshot)
	}
	return changed
}

// OnReload registers a listener.
func (cs *ConfigStore) OnReload(fn ReloadFunc) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

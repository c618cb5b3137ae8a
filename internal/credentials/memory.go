// File: internal/credentials/memory.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package credentials

import (
	"context"
	"sync"

	"github.com/momentics/hioload-chat/api"
)

// MemoryStore keeps users in a map for the life of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]api.User
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]api.User)}
}

func (m *MemoryStore) Lookup(_ context.Context, username string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	return u.Secret, ok, nil
}

func (m *MemoryStore) Store(_ context.Context, u api.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Username]; ok {
		return api.ErrAlreadyExists
	}
	m.users[u.Username] = u
	return nil
}

// Len returns the number of users.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

func (m *MemoryStore) Close() error { return nil }

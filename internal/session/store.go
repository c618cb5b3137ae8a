// File: internal/session/store.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe session store.

package session

import (
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/momentics/hioload-chat/api"
)

// DefaultShards is used when NewStore gets a non-positive count.
const DefaultShards = 16

// Store holds the live sessions, sharded by username hash.
type Store struct {
	shards []*shard
	mask   uint64
}

type shard struct {
	mu sync.RWMutex
	// username -> session ID -> session
	byUser map[string]map[string]*Session
}

// NewStore constructs a store with shardCount rounded up to a power of two.
func NewStore(shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = DefaultShards
	}
	m := nextPowerOfTwo(uint64(shardCount))
	shards := make([]*shard, m)
	for i := range shards {
		shards[i] = &shard{byUser: make(map[string]map[string]*Session)}
	}
	return &Store{shards: shards, mask: m - 1}
}

func (st *Store) shard(username string) *shard {
	return st.shards[xxhash.Sum64String(username)&st.mask]
}

// Create opens a session for username on connection connID.
func (st *Store) Create(username string, connID uint64, stage string) *Session {
	s := newSession(uuid.NewString(), username, connID, stage)
	sh := st.shard(username)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	m, ok := sh.byUser[username]
	if !ok {
		m = make(map[string]*Session)
		sh.byUser[username] = m
	}
	m[s.id] = s
	return s
}

// Get returns the session id of username.
func (st *Store) Get(username, id string) (*Session, bool) {
	sh := st.shard(username)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.byUser[username][id]
	return s, ok
}

// ByUser returns every live session of username.
func (st *Store) ByUser(username string) []*Session {
	sh := st.shard(username)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	out := make([]*Session, 0, len(sh.byUser[username]))
	for _, s := range sh.byUser[username] {
		out = append(out, s)
	}
	return out
}

// Remove cancels and deletes the session. It reports whether it existed.
func (st *Store) Remove(username, id string) bool {
	sh := st.shard(username)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	m := sh.byUser[username]
	s, ok := m[id]
	if !ok {
		return false
	}
	s.Cancel()
	delete(m, id)
	if len(m) == 0 {
		delete(sh.byUser, username)
	}
	return true
}

// Range calls fn for every session, one shard at a time.
func (st *Store) Range(fn func(*Session)) {
	for _, sh := range st.shards {
		sh.mu.RLock()
		for _, m := range sh.byUser {
			for _, s := range m {
				fn(s)
			}
		}
		sh.mu.RUnlock()
	}
}

// Len counts live sessions.
func (st *Store) Len() int {
	n := 0
	st.Range(func(*Session) { n++ })
	return n
}

// Snapshot lists sessions ordered by creation time, then ID.
func (st *Store) Snapshot() []api.SessionInfo {
	var out []api.SessionInfo
	st.Range(func(s *Session) { out = append(out, s.Info()) })
	slices.SortFunc(out, func(a, b api.SessionInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint64) uint64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}

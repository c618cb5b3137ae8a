// File: internal/session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Session of one authenticated connection.

package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-chat/api"
)

// Attribute keys used by the chat stages.
const (
	AttrRoom = "room"
)

// Session binds a username to the connection that logged in with it.
type Session struct {
	id       string
	username string
	connID   uint64
	created  time.Time

	stage atomic.Pointer[string]
	attrs *Attrs

	done chan struct{}
	once sync.Once
}

func newSession(id, username string, connID uint64, stage string) *Session {
	s := &Session{
		id:       id,
		username: username,
		connID:   connID,
		created:  time.Now(),
		attrs:    newAttrs(),
		done:     make(chan struct{}),
	}
	s.stage.Store(&stage)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Username returns the authenticated user.
func (s *Session) Username() string { return s.username }

// ConnID returns the handle of the owning connection.
func (s *Session) ConnID() uint64 { return s.connID }

// Stage returns the name of the stage the connection was last moved to.
func (s *Session) Stage() string { return *s.stage.Load() }

// SetStage records a migration.
func (s *Session) SetStage(name string) { s.stage.Store(&name) }

// Attrs exposes the session attributes.
func (s *Session) Attrs() *Attrs { return s.attrs }

// Cancel ends the session; idempotent.
func (s *Session) Cancel() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Info returns a serializable snapshot.
func (s *Session) Info() api.SessionInfo {
	return api.SessionInfo{
		ID:        s.id,
		Username:  s.username,
		ConnID:    s.connID,
		Stage:     s.Stage(),
		CreatedAt: s.created,
	}
}

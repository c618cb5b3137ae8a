// File: internal/chat/directory.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package chat

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/internal/stage"
)

// RoomPrefix prefixes the stage name of every room.
const RoomPrefix = "room/"

// RoomInfo describes one room for the admin surface.
type RoomInfo struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// Directory maps chat names to running room stages. Joins run under the
// read lock and deletions under the write lock, so a room is never stopped
// while a connection is being moved into it.
type Directory struct {
	mu     sync.RWMutex
	rooms  map[string]*stage.Stage
	names  map[*stage.Stage]string
	newFn  func(name string) (*stage.Stage, error)
	start  func(*stage.Stage)
	closed bool
}

// NewDirectory builds an empty directory. newRoom constructs the stage for
// a chat and start launches its loop.
func NewDirectory(newRoom func(name string) (*stage.Stage, error), start func(*stage.Stage)) *Directory {
	return &Directory{
		rooms: make(map[string]*stage.Stage),
		names: make(map[*stage.Stage]string),
		newFn: newRoom,
		start: start,
	}
}

// Create starts a room named name.
func (d *Directory) Create(name string) (*stage.Stage, error) {
	if err := validRoomName(name); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, api.ErrStageClosed
	}
	if _, ok := d.rooms[name]; ok {
		return nil, fmt.Errorf("chat %s: %w", name, api.ErrAlreadyExists)
	}
	st, err := d.newFn(name)
	if err != nil {
		return nil, fmt.Errorf("chat %s: %w", name, err)
	}
	d.rooms[name] = st
	d.names[st] = name
	d.start(st)
	return st, nil
}

// Lookup returns the stage of room name.
func (d *Directory) Lookup(name string) (*stage.Stage, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.rooms[name]
	return st, ok
}

// NameOf returns the chat name of a room stage.
func (d *Directory) NameOf(st *stage.Stage) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.names[st]
	return name, ok
}

// IsRoom reports whether st is a room stage of this directory.
func (d *Directory) IsRoom(st *stage.Stage) bool {
	_, ok := d.NameOf(st)
	return ok
}

// WithRoom runs fn with room name held against deletion.
func (d *Directory) WithRoom(name string, fn func(room *stage.Stage) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.rooms[name]
	if !ok {
		return fmt.Errorf("chat %s: %w", name, api.ErrNotFound)
	}
	return fn(st)
}

// Delete stops and removes an empty room.
func (d *Directory) Delete(name string) error {
	d.mu.Lock()
	st, ok := d.rooms[name]
	switch {
	case !ok:
		d.mu.Unlock()
		return fmt.Errorf("chat %s: %w", name, api.ErrNotFound)
	case st.Registry().Len() > 0:
		d.mu.Unlock()
		return fmt.Errorf("chat %s: %w", name, api.ErrRoomNotEmpty)
	}
	delete(d.rooms, name)
	delete(d.names, st)
	d.mu.Unlock()

	st.Stop()
	return nil
}

// Names lists room names in order.
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Sorted(maps.Keys(d.rooms))
}

// Stages returns every room stage ordered by name.
func (d *Directory) Stages() []*stage.Stage {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*stage.Stage, 0, len(d.rooms))
	for _, name := range slices.Sorted(maps.Keys(d.rooms)) {
		out = append(out, d.rooms[name])
	}
	return out
}

// Snapshot describes every room and its members.
func (d *Directory) Snapshot() []RoomInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]RoomInfo, 0, len(d.rooms))
	for _, name := range slices.Sorted(maps.Keys(d.rooms)) {
		out = append(out, RoomInfo{Name: name, Members: d.rooms[name].Registry().Usernames()})
	}
	return out
}

// Len returns the number of rooms.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

// Close stops every room and refuses new ones.
func (d *Directory) Close() {
	d.mu.Lock()
	d.closed = true
	rooms := make([]*stage.Stage, 0, len(d.rooms))
	for _, st := range d.rooms {
		rooms = append(rooms, st)
	}
	d.mu.Unlock()

	for _, st := range rooms {
		st.Stop()
	}
}

func validRoomName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty chat name: %w", api.ErrInvalidArgument)
	case strings.ContainsAny(name, "/;="):
		return fmt.Errorf("chat name %q: %w", name, api.ErrInvalidArgument)
	}
	return nil
}

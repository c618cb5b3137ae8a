// File: internal/stage/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection state shared by every stage that owns it over its lifetime.

package stage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/protocol"
)

var connSeq atomic.Uint64

// pendingWrite is one buffer of the pending write queue. buf shrinks as
// partial writes succeed.
type pendingWrite struct {
	buf []byte
}

// Conn is one accepted socket moving through the stage pipeline.
type Conn struct {
	id      uint64
	nc      api.NetConn
	fd      int
	remote  string
	created time.Time

	owner      atomic.Pointer[Stage]
	state      atomic.Int32
	lastActive atomic.Int64

	// rxMu serializes socket reads with appends to incoming, so bytes land
	// in stream order whichever loop performed the read.
	rxMu     sync.Mutex
	incoming []byte

	// inMu is held by the worker decoding this connection.
	inMu sync.Mutex
	raw  []byte
	asm  protocol.Assembler

	// outMu guards the pending write queue and is held across flushes.
	outMu           sync.Mutex
	out             *queue.Queue
	outBytes        int
	closeAfterFlush bool

	metaMu    sync.RWMutex
	username  string
	sessionID string
}

func newConn(nc api.NetConn, state api.ConnState, maxMessage int64) *Conn {
	c := &Conn{
		id:      connSeq.Add(1),
		nc:      nc,
		fd:      nc.RawFD(),
		remote:  nc.RemoteAddr(),
		created: time.Now(),
		out:     queue.New(),
	}
	c.asm.MaxMessageSize = maxMessage
	c.state.Store(int32(state))
	c.touch()
	return c
}

// ID returns the opaque connection handle.
func (c *Conn) ID() uint64 { return c.id }

// RemoteAddr describes the peer.
func (c *Conn) RemoteAddr() string { return c.remote }

// Owner returns the stage currently holding the registry entry.
func (c *Conn) Owner() *Stage { return c.owner.Load() }

// State returns the lifecycle state.
func (c *Conn) State() api.ConnState { return api.ConnState(c.state.Load()) }

// Closed reports whether the socket has been released.
func (c *Conn) Closed() bool { return c.State() == api.ConnClosed }

func (c *Conn) setState(s api.ConnState) { c.state.Store(int32(s)) }

// markClosed transitions to ConnClosed exactly once.
func (c *Conn) markClosed() bool {
	for {
		cur := c.state.Load()
		if api.ConnState(cur) == api.ConnClosed {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(api.ConnClosed)) {
			return true
		}
	}
}

func (c *Conn) touch() { c.lastActive.Store(time.Now().UnixNano()) }

// IdleFor returns the time since the last inbound bytes.
func (c *Conn) IdleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastActive.Load()))
}

// Username returns the authenticated user, if any.
func (c *Conn) Username() string {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	return c.username
}

// SessionID returns the session bound at login.
func (c *Conn) SessionID() string {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	return c.sessionID
}

// Authenticate records the user and session of a successful login.
func (c *Conn) Authenticate(username, sessionID string) {
	c.metaMu.Lock()
	c.username, c.sessionID = username, sessionID
	c.metaMu.Unlock()
}

// DisplayName is the username, or the peer address before login.
func (c *Conn) DisplayName() string {
	if u := c.Username(); u != "" {
		return u
	}
	return c.remote
}

// enqueue appends buffers to the pending write queue.
func (c *Conn) enqueue(bufs ...[]byte) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.Closed() {
		return api.ErrConnClosed
	}
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		c.out.Add(&pendingWrite{buf: b})
		c.outBytes += len(b)
	}
	return nil
}

// PendingWrites returns the number of queued buffers and bytes.
func (c *Conn) PendingWrites() (buffers, bytes int) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return c.out.Length(), c.outBytes
}

func (c *Conn) hasPending() bool {
	n, _ := c.PendingWrites()
	return n > 0
}

// release evicts the pending write queue and closes the socket while no
// read or flush can be in progress. Caller has already marked it closed.
func (c *Conn) release() error {
	c.rxMu.Lock()
	defer c.rxMu.Unlock()
	c.outMu.Lock()
	defer c.outMu.Unlock()
	c.out = queue.New()
	c.outBytes = 0
	c.incoming = nil
	return c.nc.Close()
}

// readInto performs one non-blocking read and appends what arrived.
func (c *Conn) readInto(scratch []byte) (int, error) {
	c.rxMu.Lock()
	defer c.rxMu.Unlock()
	if c.Closed() {
		return 0, api.ErrConnClosed
	}
	n, err := c.nc.Read(scratch)
	if n > 0 {
		c.incoming = append(c.incoming, scratch[:n]...)
		c.touch()
	}
	return n, err
}

// takeIncoming moves bytes read by the loops into the decode buffer.
// Caller holds inMu.
func (c *Conn) takeIncoming() {
	c.rxMu.Lock()
	in := c.incoming
	c.incoming = nil
	c.rxMu.Unlock()
	if len(in) == 0 {
		return
	}
	if len(c.raw) == 0 {
		c.raw = in
		return
	}
	c.raw = append(c.raw, in...)
}

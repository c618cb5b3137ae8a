// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"io"
	"sync"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/reactor"
)

// Conn is an in-memory api.NetConn. Tests play the peer with Feed, Hangup
// and Output; the stage sees a non-blocking socket.
type Conn struct {
	net    *Network
	fd     int
	remote string

	mu      sync.Mutex
	in      []byte
	out     []byte
	hangup  bool
	closed  bool
	budget  int // bytes Write accepts before blocking; negative is unlimited
	writes  int
	readErr error
}

// NewConn attaches a new connection to the network.
func (n *Network) NewConn(remote string) *Conn {
	c := &Conn{net: n, remote: remote, budget: -1}
	c.fd = n.attach(c)
	return c
}

// Read returns buffered peer bytes, io.EOF after Hangup, or ErrWouldBlock.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return 0, api.ErrConnClosed
	case c.readErr != nil:
		return 0, c.readErr
	case len(c.in) > 0:
		n := copy(p, c.in)
		c.in = c.in[n:]
		return n, nil
	case c.hangup:
		return 0, io.EOF
	}
	return 0, api.ErrWouldBlock
}

// Write accepts up to the remaining budget.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, api.ErrConnClosed
	}
	c.writes++
	n := len(p)
	if c.budget >= 0 {
		n = min(n, c.budget)
		c.budget -= n
	}
	c.out = append(c.out, p[:n]...)
	if n < len(p) {
		return n, api.ErrWouldBlock
	}
	return n, nil
}

// Close releases the connection. Closing twice is not an error.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Conn) RawFD() int         { return c.fd }
func (c *Conn) RemoteAddr() string { return c.remote }

func (c *Conn) readiness() reactor.Interest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	var r reactor.Interest
	if len(c.in) > 0 || c.hangup || c.readErr != nil {
		r |= reactor.EventRead
	}
	if c.budget != 0 {
		r |= reactor.EventWrite
	}
	return r
}

// Feed delivers bytes from the peer.
func (c *Conn) Feed(b []byte) {
	c.mu.Lock()
	c.in = append(c.in, b...)
	c.mu.Unlock()
	c.net.notify()
}

// Hangup makes further reads return io.EOF once buffered bytes are consumed.
func (c *Conn) Hangup() {
	c.mu.Lock()
	c.hangup = true
	c.mu.Unlock()
	c.net.notify()
}

// FailReads makes the next read return err.
func (c *Conn) FailReads(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	c.net.notify()
}

// SetWriteBudget limits how many more bytes Write accepts; negative lifts
// the limit.
func (c *Conn) SetWriteBudget(n int) {
	c.mu.Lock()
	c.budget = n
	c.mu.Unlock()
	c.net.notify()
}

// Output returns a copy of everything written so far.
func (c *Conn) Output() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.out...)
}

// Writes counts Write calls.
func (c *Conn) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// Closed reports whether the stage closed the connection.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Listener is an in-memory api.Listener fed by Network.Dial.
type Listener struct {
	net  *Network
	fd   int
	addr string

	mu      sync.Mutex
	pending []*Conn
	closed  bool
}

// NewListener attaches a listener to the network.
func (n *Network) NewListener(addr string) *Listener {
	l := &Listener{net: n, addr: addr}
	l.fd = n.attach(l)
	return l
}

// Accept pops the oldest dialed connection or returns ErrWouldBlock.
func (l *Listener) Accept() (api.NetConn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, api.ErrConnClosed
	}
	if len(l.pending) == 0 {
		return nil, api.ErrWouldBlock
	}
	c := l.pending[0]
	l.pending = l.pending[1:]
	return c, nil
}

func (l *Listener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *Listener) RawFD() int   { return l.fd }
func (l *Listener) Addr() string { return l.addr }

func (l *Listener) readiness() reactor.Interest {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed && len(l.pending) > 0 {
		return reactor.EventRead
	}
	return 0
}

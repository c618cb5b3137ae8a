// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the non-blocking socket abstraction (NetConn) driven by stage
// event loops, and the listener that feeds the reception stage.

package api

// NetConn abstracts a non-blocking full-duplex connection registered with a
// poller by its descriptor.
type NetConn interface {
	// Read reads what is available. It returns ErrWouldBlock when nothing
	// is buffered and io.EOF once the peer has closed.
	Read(p []byte) (n int, err error)

	// Write writes as much of p as the kernel accepts. A short count with a
	// nil error, or ErrWouldBlock, means the send buffer is full.
	Write(p []byte) (n int, err error)

	// Close releases the descriptor.
	Close() error

	// RawFD returns the underlying OS-level file descriptor.
	RawFD() int

	// RemoteAddr describes the peer for logs.
	RemoteAddr() string
}

// Listener accepts non-blocking connections.
type Listener interface {
	// Accept returns ErrWouldBlock when no connection is pending.
	Accept() (NetConn, error)
	Close() error
	RawFD() int
	Addr() string
}

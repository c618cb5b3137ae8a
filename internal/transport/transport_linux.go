// internal/transport/transport_linux.go
//go:build linux
// +build linux

//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux non-blocking TCP listener and connections over raw descriptors.

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-chat/api"
)

// DefaultBacklog is the listen(2) backlog.
const DefaultBacklog = 1024

type tcpListener struct {
	fd     int
	addr   string
	closed atomic.Bool
}

// Listen opens a non-blocking TCP listener on addr ("host:port").
func Listen(addr string, backlog int) (api.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	family := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := tcpAddr.IP.To4(); ip4 != nil || tcpAddr.IP == nil {
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		if ip4 != nil {
			copy(sa4.Addr[:], ip4)
		}
		sa = sa4
	} else {
		family = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa6.Addr[:], tcpAddr.IP.To16())
		sa = sa6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	bound := addr
	if local, err := unix.Getsockname(fd); err == nil {
		bound = sockaddrString(local)
	}
	return &tcpListener{fd: fd, addr: bound}, nil
}

// Accept accepts one pending connection without blocking.
func (l *tcpListener) Accept() (api.NetConn, error) {
	if l.closed.Load() {
		return nil, api.ErrConnClosed
	}
	nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
			return nil, api.ErrWouldBlock
		}
		return nil, fmt.Errorf("accept4: %w", err)
	}
	_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return &fdConn{fd: nfd, remote: sockaddrString(sa)}, nil
}

// Close closes the listening socket.
func (l *tcpListener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(l.fd)
}

func (l *tcpListener) RawFD() int   { return l.fd }
func (l *tcpListener) Addr() string { return l.addr }

// fdConn is a connected non-blocking TCP socket.
type fdConn struct {
	fd     int
	remote string
	closed atomic.Bool
}

// Read reads available bytes.
func (c *fdConn) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == nil && n == 0 && len(p) > 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, api.ErrWouldBlock
		default:
			return 0, fmt.Errorf("read fd %d: %w", c.fd, err)
		}
	}
}

// Write writes as much of p as the send buffer accepts.
func (c *fdConn) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(c.fd, p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, api.ErrWouldBlock
		default:
			return 0, fmt.Errorf("write fd %d: %w", c.fd, err)
		}
	}
}

// Close closes the socket once.
func (c *fdConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(c.fd)
}

func (c *fdConn) RawFD() int         { return c.fd }
func (c *fdConn) RemoteAddr() string { return c.remote }

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	}
	return "unknown"
}

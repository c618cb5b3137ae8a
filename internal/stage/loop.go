// File: internal/stage/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Event loop iteration: drain change requests, wait, then service accept,
// read and write readiness.

package stage

import (
	"errors"
	"io"
	"time"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/internal/concurrency"
	"github.com/momentics/hioload-chat/protocol"
	"github.com/momentics/hioload-chat/reactor"
)

const maxIdleSweepInterval = time.Second

// iterate runs one loop pass.
func (s *Stage) iterate() error {
	s.changes.Drain(s.apply)

	n, err := s.poller.Wait(s.events, s.waitTimeout())
	if err != nil {
		return err
	}
	listenFD := -1
	if s.cfg.Listener != nil {
		listenFD = s.cfg.Listener.RawFD()
	}
	for i := 0; i < n; i++ {
		ev := s.events[i]
		if ev.Fd == listenFD {
			s.acceptAll()
			continue
		}
		p, ok := s.polled[ev.Fd]
		if !ok {
			continue
		}
		s.service(p, ev.Ready)
	}
	s.sweepIdle()
	return nil
}

func (s *Stage) waitTimeout() int {
	idle := time.Duration(s.idleTimeout.Load())
	if idle <= 0 {
		return -1
	}
	interval := min(idle/2, maxIdleSweepInterval)
	return max(int(interval/time.Millisecond), 1)
}

// apply executes one change request. Only the loop goroutine calls it.
func (s *Stage) apply(ch change) {
	c := ch.conn
	s.applied.Add(1)
	switch ch.kind {
	case changeRegister:
		if c.Closed() || c.Owner() != s {
			return
		}
		interest := reactor.EventRead
		if c.hasPending() {
			interest |= reactor.EventWrite
		}
		if err := s.poller.Add(c.fd, interest); err != nil {
			s.log.Warn("register failed", "conn", c.id, "err", err)
			s.closeConn(c, err)
			return
		}
		s.polled[c.fd] = &polled{conn: c, interest: interest}

	case changeInterest:
		p, ok := s.polled[c.fd]
		if !ok || p.conn != c || c.Closed() || c.Owner() != s {
			return
		}
		s.setInterest(p, ch.interest)

	case changeCancel:
		s.forget(c)

	case changeClose:
		s.closeConn(c, ch.cause)
	}
}

// forget removes c from this poller if it is still registered here.
func (s *Stage) forget(c *Conn) {
	p, ok := s.polled[c.fd]
	if !ok || p.conn != c {
		return
	}
	delete(s.polled, c.fd)
	if err := s.poller.Remove(c.fd); err != nil && !c.Closed() {
		s.log.Debug("poller remove failed", "conn", c.id, "err", err)
	}
}

func (s *Stage) setInterest(p *polled, interest reactor.Interest) {
	if p.interest == interest {
		return
	}
	if err := s.poller.Modify(p.conn.fd, interest); err != nil {
		s.log.Warn("interest change failed", "conn", p.conn.id, "interest", interest, "err", err)
		s.closeConn(p.conn, err)
		return
	}
	p.interest = interest
}

// acceptAll drains the listener backlog.
func (s *Stage) acceptAll() {
	for {
		nc, err := s.cfg.Listener.Accept()
		if err != nil {
			if !errors.Is(err, api.ErrWouldBlock) {
				s.log.Warn("accept failed", "err", err)
			}
			return
		}
		state := api.ConnOpen
		if s.cfg.Upgrader != nil {
			state = api.ConnHandshaking
		}
		c := newConn(nc, state, s.cfg.MaxMessageSize)
		c.owner.Store(s)
		s.reg.put(c)
		if err := s.poller.Add(c.fd, reactor.EventRead); err != nil {
			s.log.Warn("register accepted connection failed", "conn", c.id, "err", err)
			s.closeConn(c, err)
			continue
		}
		s.polled[c.fd] = &polled{conn: c, interest: reactor.EventRead}
		s.accepted.Add(1)
		s.log.Debug("connection accepted", "conn", c.id, "remote", c.remote)
	}
}

// service handles one ready descriptor: read first, then write.
func (s *Stage) service(p *polled, ready reactor.Interest) {
	c := p.conn
	if c.Owner() != s {
		return
	}
	if ready&(reactor.EventRead|reactor.EventError) != 0 {
		s.read(c)
	}
	if c.Closed() || s.polled[c.fd] != p {
		return
	}
	if ready&reactor.EventWrite != 0 || (ready&reactor.EventError != 0 && p.interest&reactor.EventWrite != 0) {
		s.flush(p)
	}
}

// read performs one non-blocking read and hands the bytes to a worker.
func (s *Stage) read(c *Conn) {
	n, err := c.readInto(s.scratch)
	if n > 0 {
		s.bytesIn.Add(int64(n))
		s.submit(c)
	}
	switch {
	case err == nil, errors.Is(err, api.ErrWouldBlock):
	case errors.Is(err, io.EOF):
		s.closeConn(c, nil)
	default:
		s.closeConn(c, err)
	}
}

// submit queues a decode job for c on this stage's pool, blocking while
// the worker's queue is full.
func (s *Stage) submit(c *Conn) {
	if err := s.pool.Submit(c.id, func() { s.process(c) }); err != nil {
		if !errors.Is(err, concurrency.ErrExecutorClosed) {
			s.log.Warn("job submit failed", "conn", c.id, "err", err)
		}
	}
}

// kick schedules c on this stage without blocking the caller, used when a
// connection arrives with bytes left over from its previous stage.
func (s *Stage) kick(c *Conn) {
	task := func() { s.process(c) }
	if s.pool.TrySubmit(c.id, task) {
		return
	}
	go func() {
		if err := s.pool.Submit(c.id, task); err != nil && !errors.Is(err, concurrency.ErrExecutorClosed) {
			s.log.Warn("job submit failed", "conn", c.id, "err", err)
		}
	}()
}

// flush writes pending buffers until the queue empties or the socket
// would block. Partial writes stay at the queue head.
func (s *Stage) flush(p *polled) {
	c := p.conn
	c.outMu.Lock()
	if c.Closed() {
		c.outMu.Unlock()
		return
	}
	for c.out.Length() > 0 {
		pw := c.out.Peek().(*pendingWrite)
		n, err := c.nc.Write(pw.buf)
		if n > 0 {
			pw.buf = pw.buf[n:]
			c.outBytes -= n
			s.bytesOut.Add(int64(n))
		}
		if err != nil && !errors.Is(err, api.ErrWouldBlock) {
			c.outMu.Unlock()
			s.closeConn(c, err)
			return
		}
		if len(pw.buf) > 0 {
			c.outMu.Unlock()
			return
		}
		c.out.Remove()
	}
	closeNow := c.closeAfterFlush
	c.outMu.Unlock()

	if closeNow {
		s.closeConn(c, nil)
		return
	}
	s.setInterest(p, reactor.EventRead)
}

// closeConn cancels registration, evicts the write queue, releases the
// socket and runs the close hook of the last owner. Idempotent.
func (s *Stage) closeConn(c *Conn, cause error) {
	if !c.markClosed() {
		s.forget(c)
		return
	}
	s.forget(c)

	var owner *Stage
	for {
		o := c.Owner()
		if o == nil {
			break
		}
		o.reg.mu.Lock()
		if c.Owner() == o {
			o.reg.deleteLocked(c)
			o.reg.mu.Unlock()
			owner = o
			break
		}
		o.reg.mu.Unlock()
	}

	if err := c.release(); err != nil {
		s.log.Debug("socket close failed", "conn", c.id, "err", err)
	}
	if owner == nil {
		owner = s
	}
	owner.closed.Add(1)
	if owner != s {
		_ = owner.changes.Push(change{conn: c, kind: changeCancel})
	}

	attrs := []any{"conn", c.id, "remote", c.remote, "owner", owner.cfg.Name}
	var perr *protocol.ProtocolError
	switch {
	case cause == nil:
		s.log.Debug("connection closed", attrs...)
	case errors.As(cause, &perr):
		s.log.Info("connection closed on protocol error", append(attrs, "reason", perr.Reason)...)
	default:
		s.log.Debug("connection closed", append(attrs, "err", cause)...)
	}

	if hook := owner.cfg.OnClose; hook != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("close hook panicked", "conn", c.id, "panic", r)
				}
			}()
			hook(owner, c)
		}()
	}
}

// sweepIdle closes connections quiet for longer than the idle timeout.
func (s *Stage) sweepIdle() {
	idle := time.Duration(s.idleTimeout.Load())
	if idle <= 0 {
		return
	}
	now := time.Now()
	if now.Sub(s.lastIdle) < min(idle/2, maxIdleSweepInterval) {
		return
	}
	s.lastIdle = now
	for _, p := range s.polled {
		c := p.conn
		if c.Owner() != s || c.Closed() || c.IdleFor(now) < idle {
			continue
		}
		if c.State() == api.ConnClosing {
			s.closeConn(c, nil)
			continue
		}
		s.log.Info("closing idle connection", "conn", c.id, "idle", c.IdleFor(now).Round(time.Millisecond))
		if c.State() == api.ConnOpen {
			_ = c.enqueue(protocol.Enframe(protocol.ClosePayload(protocol.CloseGoingAway, "idle timeout"),
				protocol.OpcodeClose, 0, false)...)
		}
		if err := s.CloseAfterFlush(c); err != nil {
			s.closeConn(c, err)
		}
	}
}

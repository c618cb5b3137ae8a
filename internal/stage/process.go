// File: internal/stage/process.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker side of a stage: handshake, frame decoding and command dispatch.

package stage

import (
	"errors"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/command"
	"github.com/momentics/hioload-chat/protocol"
)

// process consumes whatever the loops have read for c. Jobs for one
// connection run in order on one worker, and inMu keeps a job on another
// stage's pool from overlapping after a migration.
func (s *Stage) process(c *Conn) {
	c.inMu.Lock()
	defer c.inMu.Unlock()
	if c.Closed() {
		return
	}
	c.takeIncoming()

	if c.State() == api.ConnHandshaking {
		if !s.handshake(c) {
			return
		}
	}

	h := protocol.Handlers{
		Text:    func(msg string) error { return s.dispatch(c, msg) },
		Binary:  func(msg []byte) error { return s.dispatch(c, string(msg)) },
		Control: func(op byte, payload []byte) error { return s.control(c, op, payload) },
	}
	for len(c.raw) > 0 && c.State() == api.ConnOpen {
		// A command earlier in this buffer may have moved c on; the rest
		// belongs to the new owner.
		if owner := c.Owner(); owner != s {
			if owner != nil {
				owner.kick(c)
			}
			return
		}
		f, n, err := protocol.DecodeFrame(c.raw, c.asm.MaxMessageSize)
		if err != nil {
			s.fail(c, err)
			return
		}
		if f == nil {
			break
		}
		c.raw = c.raw[n:]
		if err := c.asm.Push(f, h); err != nil {
			s.fail(c, err)
			return
		}
	}
	if len(c.raw) == 0 {
		c.raw = nil
	}
}

// handshake runs the opening handshake over buffered bytes and reports
// whether frame decoding may continue.
func (s *Stage) handshake(c *Conn) bool {
	if s.cfg.Upgrader == nil {
		c.state.CompareAndSwap(int32(api.ConnHandshaking), int32(api.ConnOpen))
		return true
	}
	resp, consumed, err := s.cfg.Upgrader.Upgrade(c.raw)
	if err == nil && consumed == 0 {
		return false
	}
	c.raw = c.raw[consumed:]
	if err != nil {
		s.log.Info("handshake rejected", "conn", c.id, "remote", c.remote, "err", err)
		c.raw = nil
		if serr := s.SendRaw(c, resp); serr != nil {
			return false
		}
		_ = s.CloseAfterFlush(c)
		return false
	}
	if !c.state.CompareAndSwap(int32(api.ConnHandshaking), int32(api.ConnOpen)) {
		return false
	}
	if err := s.SendRaw(c, resp); err != nil {
		return false
	}
	s.log.Debug("handshake complete", "conn", c.id, "remote", c.remote)
	return true
}

// dispatch parses one reassembled message and hands it to the owner's
// dispatcher.
func (s *Stage) dispatch(c *Conn, msg string) error {
	s.messages.Add(1)
	cmd, err := command.Parse(msg)
	if err != nil {
		return s.Send(c, command.Failure(err.Error()))
	}
	s.cfg.Dispatcher.Dispatch(s, c, cmd)
	return nil
}

// control answers PING with PONG and completes the closing handshake.
func (s *Stage) control(c *Conn, op byte, payload []byte) error {
	switch op {
	case protocol.OpcodePing:
		return s.sendFrames(c, protocol.OpcodePong, payload)
	case protocol.OpcodeClose:
		var reply []byte
		if len(payload) >= 2 {
			reply = protocol.ClosePayload(protocol.CloseCode(payload), "")
		}
		if err := s.sendFrames(c, protocol.OpcodeClose, reply); err != nil {
			return err
		}
		return s.CloseAfterFlush(c)
	}
	return nil
}

// fail closes c after a protocol violation, sending a CLOSE frame with the
// matching status code when the error carries one.
func (s *Stage) fail(c *Conn, err error) {
	if errors.Is(err, api.ErrConnClosed) {
		return
	}
	c.raw = nil
	c.asm.Reset()
	var perr *protocol.ProtocolError
	if !errors.As(err, &perr) {
		s.log.Warn("connection processing failed", "conn", c.id, "err", err)
		_ = s.Close(c, err)
		return
	}
	s.log.Info("protocol violation", "conn", c.id, "remote", c.remote, "reason", perr.Reason)
	if serr := s.sendFrames(c, protocol.OpcodeClose, protocol.ClosePayload(perr.CloseCode, perr.Reason)); serr != nil {
		_ = s.Close(c, err)
		return
	}
	_ = s.CloseAfterFlush(c)
}

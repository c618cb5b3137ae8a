// File: protocol/assembler.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection reassembly of fragmented messages and opcode dispatch.

package protocol

// Handlers receives completed messages from an Assembler.
// A nil callback silently drops messages of that kind.
type Handlers struct {
	Text    func(msg string) error
	Binary  func(msg []byte) error
	Control func(opcode byte, payload []byte) error
}

// Assembler accumulates data frame payloads until FIN and remembers the
// opcode of the message in progress. It is not safe for concurrent use;
// the owning connection serializes access.
type Assembler struct {
	// MaxMessageSize caps the reassembled payload; zero means DefaultMaxMessageSize.
	MaxMessageSize int64

	buf    []byte
	opcode byte
}

// InProgress returns the opcode of a partially received message.
func (a *Assembler) InProgress() (byte, bool) {
	return a.opcode, a.opcode != OpcodeContinuation
}

// Buffered returns the number of payload bytes accumulated so far.
func (a *Assembler) Buffered() int {
	return len(a.buf)
}

// Reset drops any partially assembled message.
func (a *Assembler) Reset() {
	a.buf = nil
	a.opcode = OpcodeContinuation
}

// Deframe decodes exactly one frame from raw and feeds it to Push.
func (a *Assembler) Deframe(raw []byte, h Handlers) error {
	f, n, err := DecodeFrame(raw, a.limit())
	if err != nil {
		return err
	}
	if f == nil {
		return ErrIncompleteFrame
	}
	if n != len(raw) {
		return ErrTrailingBytes
	}
	return a.Push(f, h)
}

// Push feeds one decoded frame. Control frames are dispatched immediately
// and may arrive between fragments of a data message.
func (a *Assembler) Push(f *Frame, h Handlers) error {
	if IsControl(f.Opcode) {
		if h.Control == nil {
			return nil
		}
		return h.Control(f.Opcode, f.Payload)
	}

	switch {
	case f.Opcode == OpcodeContinuation && a.opcode == OpcodeContinuation:
		return ErrUnexpectedContinue
	case f.Opcode != OpcodeContinuation && a.opcode != OpcodeContinuation:
		return ErrInterleavedMessage
	}
	if int64(len(a.buf)+len(f.Payload)) > a.limit() {
		a.Reset()
		return ErrMessageTooLarge
	}

	a.buf = append(a.buf, f.Payload...)
	if f.Opcode != OpcodeContinuation {
		a.opcode = f.Opcode
	}
	if !f.Fin {
		return nil
	}

	msg, op := a.buf, a.opcode
	a.Reset()
	switch op {
	case OpcodeText:
		if h.Text != nil {
			return h.Text(string(msg))
		}
	case OpcodeBinary:
		if h.Binary != nil {
			return h.Binary(msg)
		}
	}
	return nil
}

func (a *Assembler) limit() int64 {
	if a.MaxMessageSize > 0 {
		return a.MaxMessageSize
	}
	return DefaultMaxMessageSize
}

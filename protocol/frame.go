// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket frame decoding and masking logic over raw byte slices.
//
// Decoding is streaming-safe: a caller holding a partially received frame
// gets (nil, 0, nil) and retries once more bytes arrive.

package protocol

import (
	"encoding/binary"
	"fmt"
)

// Frame represents one decoded WebSocket frame.
type Frame struct {
	Fin        bool  // FIN bit
	Opcode     byte  // Operation code
	Masked     bool  // Whether the frame was masked
	PayloadLen int64 // Actual payload length
	MaskKey    [4]byte
	Payload    []byte // Unmasked copy owned by the frame
}

// ProtocolError is a fatal violation of the wire protocol.
// The connection that produced it must be closed.
type ProtocolError struct {
	Reason    string
	CloseCode int
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// Protocol violations reported by the decoder and assembler.
var (
	ErrUnmaskedFrame       = &ProtocolError{Reason: "unmasked frame", CloseCode: CloseProtocolError}
	ErrLengthOutOfBounds   = &ProtocolError{Reason: "length out of bounds", CloseCode: CloseProtocolError}
	ErrFrameTooLarge       = &ProtocolError{Reason: "frame too large", CloseCode: CloseMessageTooBig}
	ErrMessageTooLarge     = &ProtocolError{Reason: "message too large", CloseCode: CloseMessageTooBig}
	ErrReservedOpcode      = &ProtocolError{Reason: "reserved opcode", CloseCode: CloseProtocolError}
	ErrInvalidControlFrame = &ProtocolError{Reason: "invalid control frame", CloseCode: CloseProtocolError}
	ErrUnexpectedContinue  = &ProtocolError{Reason: "continuation without message in progress", CloseCode: CloseProtocolError}
	ErrInterleavedMessage  = &ProtocolError{Reason: "new message before previous one completed", CloseCode: CloseProtocolError}
	ErrTrailingBytes       = &ProtocolError{Reason: "trailing bytes after frame", CloseCode: CloseProtocolError}
	ErrIncompleteFrame     = &ProtocolError{Reason: "incomplete frame", CloseCode: CloseProtocolError}
)

// DecodeFrame parses one inbound (client to server) frame from the head of raw.
// It returns the frame and the number of bytes consumed. If raw does not yet
// hold a complete frame it returns (nil, 0, nil). A positive maxPayload caps
// the accepted payload length.
func DecodeFrame(raw []byte, maxPayload int64) (*Frame, int, error) {
	if len(raw) < 2 {
		return nil, 0, nil
	}
	fin := raw[0]&FinBit != 0
	opcode := raw[0] & OpcodeMsk
	if raw[1]&MaskBit == 0 {
		return nil, 0, ErrUnmaskedFrame
	}
	if !validOpcode(opcode) {
		return nil, 0, ErrReservedOpcode
	}

	length := int64(raw[1] & LengthMsk)
	offset := 2
	switch length {
	case lengthCode16:
		if len(raw) < offset+2 {
			return nil, 0, nil
		}
		length = int64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case lengthCode64:
		if len(raw) < offset+8 {
			return nil, 0, nil
		}
		v := binary.BigEndian.Uint64(raw[offset:])
		if v>>63 != 0 {
			return nil, 0, ErrLengthOutOfBounds
		}
		length = int64(v)
		offset += 8
	}

	if IsControl(opcode) && (!fin || length > MaxControlPayloadLen) {
		return nil, 0, ErrInvalidControlFrame
	}
	if maxPayload > 0 && length > maxPayload {
		return nil, 0, ErrFrameTooLarge
	}

	if len(raw) < offset+4 {
		return nil, 0, nil
	}
	var key [4]byte
	copy(key[:], raw[offset:offset+4])
	offset += 4

	if int64(len(raw)-offset) < length {
		return nil, 0, nil
	}
	total := offset + int(length)
	payload := make([]byte, length)
	copy(payload, raw[offset:total])
	Mask(payload, key)

	return &Frame{
		Fin:        fin,
		Opcode:     opcode,
		Masked:     true,
		PayloadLen: length,
		MaskKey:    key,
		Payload:    payload,
	}, total, nil
}

// Mask XORs buf in place with key. Applying it twice restores the input.
func Mask(buf []byte, key [4]byte) {
	for i := range buf {
		buf[i] ^= key[i&3]
	}
}

func validOpcode(op byte) bool {
	switch op {
	case OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
		return true
	}
	return false
}

// OpcodeName returns a printable opcode name for logs.
func OpcodeName(op byte) string {
	switch op {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	}
	return fmt.Sprintf("opcode(0x%x)", op)
}

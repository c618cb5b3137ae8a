// File: protocol/frame_codec.go
// Package protocol implements the fragmenting frame encoder.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server to client frames are written unmasked as RFC 6455 requires.
// Masking stays available as a flag for client-side tooling and tests.

package protocol

import (
	"crypto/rand"
	"encoding/binary"
)

// EncodeFrame appends one frame carrying payload to dst and returns the
// extended slice. A non-nil key masks the payload copy written to dst; the
// caller's payload is left untouched.
func EncodeFrame(dst []byte, fin bool, opcode byte, payload []byte, key *[4]byte) []byte {
	var b0 byte
	if fin {
		b0 = FinBit
	}
	b0 |= opcode & OpcodeMsk

	var maskBit byte
	if key != nil {
		maskBit = MaskBit
	}

	plen := len(payload)
	switch {
	case plen <= MaxControlPayloadLen:
		dst = append(dst, b0, byte(plen)|maskBit)
	case plen <= 0xFFFF:
		dst = append(dst, b0, lengthCode16|maskBit)
		dst = binary.BigEndian.AppendUint16(dst, uint16(plen))
	default:
		dst = append(dst, b0, lengthCode64|maskBit)
		dst = binary.BigEndian.AppendUint64(dst, uint64(plen))
	}

	if key == nil {
		return append(dst, payload...)
	}
	dst = append(dst, key[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	Mask(dst[start:], *key)
	return dst
}

// Enframe splits payload into frames of at most maxSize payload bytes.
// The first frame carries opcode, the rest are continuations, and only the
// last has FIN set. maxSize <= 0 produces a single frame. An empty payload
// still yields one frame. With mask set every frame gets a fresh random key.
func Enframe(payload []byte, opcode byte, maxSize int, mask bool) [][]byte {
	if maxSize <= 0 || maxSize > len(payload) {
		maxSize = len(payload)
	}
	count := 1
	if maxSize > 0 {
		count = (len(payload) + maxSize - 1) / maxSize
	}

	frames := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		lo := i * maxSize
		hi := min(lo+maxSize, len(payload))
		op := byte(OpcodeContinuation)
		if i == 0 {
			op = opcode
		}
		chunk := payload[lo:hi]
		var key *[4]byte
		if mask {
			key = newMaskKey()
		}
		buf := make([]byte, 0, MaxFrameHeaderLen+len(chunk))
		frames = append(frames, EncodeFrame(buf, i == count-1, op, chunk, key))
	}
	return frames
}

// ClosePayload builds a CLOSE frame body from a status code and reason.
func ClosePayload(code int, reason string) []byte {
	if code == 0 {
		return nil
	}
	buf := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(reason)), uint16(code))
	buf = append(buf, reason...)
	if len(buf) > MaxControlPayloadLen {
		buf = buf[:MaxControlPayloadLen]
	}
	return buf
}

// CloseCode extracts the status code of a CLOSE frame body.
// An empty body yields CloseNoStatusRcvd.
func CloseCode(payload []byte) int {
	if len(payload) < 2 {
		return CloseNoStatusRcvd
	}
	return int(binary.BigEndian.Uint16(payload))
}

func newMaskKey() *[4]byte {
	var key [4]byte
	// crypto/rand.Read never returns an error since go1.24.
	_, _ = rand.Read(key[:])
	return &key
}

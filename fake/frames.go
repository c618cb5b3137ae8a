// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/hioload-chat/protocol"
)

// TestKey is the sample Sec-WebSocket-Key from RFC 6455.
const TestKey = "dGhlIHNhbXBsZSBub25jZQ=="

// UpgradeRequest is a well-formed opening request carrying TestKey.
func UpgradeRequest() []byte {
	return []byte("GET /chat HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + TestKey + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n")
}

// ClientText encodes payload as one masked text frame.
func ClientText(payload string) []byte {
	return ClientFrame(true, protocol.OpcodeText, []byte(payload))
}

// ClientFrame encodes one masked frame as a browser would send it.
func ClientFrame(fin bool, opcode byte, payload []byte) []byte {
	key := [4]byte{0x11, 0x22, 0x33, 0x44}
	return protocol.EncodeFrame(nil, fin, opcode, payload, &key)
}

// ServerFrame is one decoded frame written by a stage.
type ServerFrame struct {
	Fin     bool
	Opcode  byte
	Payload []byte
}

// ParseServerFrames decodes consecutive unmasked frames and returns the
// bytes of any trailing partial frame.
func ParseServerFrames(b []byte) ([]ServerFrame, []byte, error) {
	var frames []ServerFrame
	for len(b) >= 2 {
		if b[1]&protocol.MaskBit != 0 {
			return frames, b, fmt.Errorf("server frame is masked")
		}
		hdr := 2
		n := uint64(b[1] & protocol.LengthMsk)
		switch n {
		case 126:
			if len(b) < 4 {
				return frames, b, nil
			}
			n, hdr = uint64(binary.BigEndian.Uint16(b[2:])), 4
		case 127:
			if len(b) < 10 {
				return frames, b, nil
			}
			n, hdr = binary.BigEndian.Uint64(b[2:]), 10
		}
		if uint64(len(b)-hdr) < n {
			return frames, b, nil
		}
		end := hdr + int(n)
		frames = append(frames, ServerFrame{
			Fin:     b[0]&protocol.FinBit != 0,
			Opcode:  b[0] & protocol.OpcodeMsk,
			Payload: append([]byte(nil), b[hdr:end]...),
		})
		b = b[end:]
	}
	return frames, b, nil
}

// Messages reassembles the text and binary messages in b, skipping
// control frames.
func Messages(b []byte) []string {
	frames, _, _ := ParseServerFrames(b)
	var out []string
	var cur []byte
	for _, f := range frames {
		if protocol.IsControl(f.Opcode) {
			continue
		}
		cur = append(cur, f.Payload...)
		if f.Fin {
			out = append(out, string(cur))
			cur = nil
		}
	}
	return out
}

// Controls returns the control frames in b.
func Controls(b []byte) []ServerFrame {
	frames, _, _ := ParseServerFrames(b)
	var out []ServerFrame
	for _, f := range frames {
		if protocol.IsControl(f.Opcode) {
			out = append(out, f)
		}
	}
	return out
}

// SplitHandshake separates a 101/400 response from the frames after it.
func SplitHandshake(b []byte) (head string, rest []byte) {
	for i := 0; i+4 <= len(b); i++ {
		if string(b[i:i+4]) == "\r\n\r\n" {
			return string(b[:i+4]), b[i+4:]
		}
	}
	return "", b
}

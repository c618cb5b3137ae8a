package protocol_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-chat/protocol"
)

type captured struct {
	opcode byte
	data   []byte
	calls  int
}

func (c *captured) handlers() protocol.Handlers {
	return protocol.Handlers{
		Text: func(msg string) error {
			c.opcode, c.data = protocol.OpcodeText, []byte(msg)
			c.calls++
			return nil
		},
		Binary: func(msg []byte) error {
			c.opcode, c.data = protocol.OpcodeBinary, msg
			c.calls++
			return nil
		},
	}
}

func randomPayload(n int) []byte {
	p := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(p)
	return p
}

func TestEnframeDeframeRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 13, 125, 126, 1000, 65535, 65536, 70000}
	maxSizes := []int{1, 13, 125, 126, 65535, 65536}
	for _, opcode := range []byte{protocol.OpcodeText, protocol.OpcodeBinary} {
		for _, maxSize := range maxSizes {
			for _, size := range sizes {
				payload := randomPayload(size)
				frames := protocol.Enframe(payload, opcode, maxSize, true)

				var a protocol.Assembler
				var got captured
				for _, f := range frames {
					require.NoError(t, a.Deframe(f, got.handlers()))
				}
				require.Equal(t, 1, got.calls, "max=%d size=%d", maxSize, size)
				assert.Equal(t, opcode, got.opcode)
				assert.True(t, bytes.Equal(payload, got.data), "max=%d size=%d", maxSize, size)
			}
		}
	}
}

func TestEnframeFrameLayout(t *testing.T) {
	frames := protocol.Enframe([]byte("abcdefghij"), protocol.OpcodeText, 4, false)
	require.Len(t, frames, 3)

	assert.Equal(t, []byte{0x01, 4, 'a', 'b', 'c', 'd'}, frames[0])
	assert.Equal(t, []byte{0x00, 4, 'e', 'f', 'g', 'h'}, frames[1])
	assert.Equal(t, []byte{0x80, 2, 'i', 'j'}, frames[2])
}

func TestEnframeUnmaskedByDefault(t *testing.T) {
	frames := protocol.Enframe([]byte("hello"), protocol.OpcodeText, 125, false)
	require.Len(t, frames, 1)
	assert.Equal(t, byte(0), frames[0][1]&protocol.MaskBit)
	assert.Equal(t, "hello", string(frames[0][2:]))
}

func TestEnframeEmptyPayload(t *testing.T) {
	frames := protocol.Enframe(nil, protocol.OpcodeText, 100, false)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x81, 0x00}, frames[0])
}

func TestEnframeLengthCodes(t *testing.T) {
	cases := []struct {
		size   int
		code   byte
		header int
	}{
		{125, 125, 2},
		{126, 126, 4},
		{65535, 126, 4},
		{65536, 127, 10},
	}
	for _, tc := range cases {
		f := protocol.Enframe(make([]byte, tc.size), protocol.OpcodeBinary, 0, false)[0]
		assert.Equal(t, tc.code, f[1]&protocol.LengthMsk, "size %d", tc.size)
		assert.Len(t, f, tc.header+tc.size)
	}
}

func TestMaskIsInvolution(t *testing.T) {
	keys := [][4]byte{{0, 0, 0, 0}, {0xDE, 0xAD, 0xBE, 0xEF}, {1, 2, 3, 4}, {0xFF, 0xFF, 0xFF, 0xFF}}
	for _, key := range keys {
		orig := randomPayload(257)
		buf := append([]byte(nil), orig...)
		protocol.Mask(buf, key)
		protocol.Mask(buf, key)
		assert.Equal(t, orig, buf)
	}
}

func TestFragmentationTransparency(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	for _, n := range []int{1, 2, 5} {
		size := (len(payload) + n - 1) / n
		frames := protocol.Enframe(payload, protocol.OpcodeBinary, size, true)
		require.Len(t, frames, n)

		var a protocol.Assembler
		var got captured
		for i, f := range frames {
			require.NoError(t, a.Deframe(f, got.handlers()))
			if i < n-1 {
				op, ok := a.InProgress()
				assert.True(t, ok)
				assert.Equal(t, byte(protocol.OpcodeBinary), op)
				assert.Equal(t, 0, got.calls)
			}
		}
		assert.Equal(t, 1, got.calls)
		assert.Equal(t, byte(protocol.OpcodeBinary), got.opcode)
		assert.Equal(t, payload, got.data)
		_, ok := a.InProgress()
		assert.False(t, ok)
	}
}

func TestControlFrameBetweenFragments(t *testing.T) {
	first := protocol.Enframe([]byte("hel"), protocol.OpcodeText, 0, true)[0]
	first[0] &^= protocol.FinBit
	key := [4]byte{9, 8, 7, 6}
	ping := protocol.EncodeFrame(nil, true, protocol.OpcodePing, []byte("p"), &key)
	last := protocol.EncodeFrame(nil, true, protocol.OpcodeContinuation, []byte("lo"), &key)

	var a protocol.Assembler
	var text string
	var controls []byte
	h := protocol.Handlers{
		Text:    func(m string) error { text = m; return nil },
		Control: func(op byte, _ []byte) error { controls = append(controls, op); return nil },
	}
	require.NoError(t, a.Deframe(first, h))
	require.NoError(t, a.Deframe(ping, h))
	require.NoError(t, a.Deframe(last, h))
	assert.Equal(t, "hello", text)
	assert.Equal(t, []byte{protocol.OpcodePing}, controls)
}

func TestUnmaskedFrameRejected(t *testing.T) {
	for _, size := range []int{0, 5, 200, 70000} {
		f := protocol.Enframe(make([]byte, size), protocol.OpcodeText, 0, false)[0]
		var a protocol.Assembler
		err := a.Deframe(f, protocol.Handlers{})
		require.Error(t, err)
		assert.ErrorIs(t, err, protocol.ErrUnmaskedFrame)

		var perr *protocol.ProtocolError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "unmasked frame", perr.Reason)
	}
}

func TestLengthOutOfBounds(t *testing.T) {
	raw := []byte{0x82, protocol.MaskBit | 127}
	raw = binary.BigEndian.AppendUint64(raw, 1<<63)
	raw = append(raw, 1, 2, 3, 4)

	_, _, err := protocol.DecodeFrame(raw, 0)
	assert.ErrorIs(t, err, protocol.ErrLengthOutOfBounds)
}

func TestFrameTooLarge(t *testing.T) {
	f := protocol.Enframe(make([]byte, 300), protocol.OpcodeBinary, 0, true)[0]
	_, _, err := protocol.DecodeFrame(f, 200)
	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
}

func TestDecodeFrameIncomplete(t *testing.T) {
	f := protocol.Enframe(randomPayload(300), protocol.OpcodeBinary, 0, true)[0]
	for _, cut := range []int{0, 1, 2, 3, 7, len(f) - 1} {
		got, n, err := protocol.DecodeFrame(f[:cut], 0)
		require.NoError(t, err, "cut %d", cut)
		assert.Nil(t, got)
		assert.Zero(t, n)
	}

	got, n, err := protocol.DecodeFrame(append(f, 0x81), 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, len(f), n)
}

func TestDeframeRejectsTrailingBytes(t *testing.T) {
	f := protocol.Enframe([]byte("x"), protocol.OpcodeText, 0, true)[0]
	var a protocol.Assembler
	assert.ErrorIs(t, a.Deframe(append(f, 0), protocol.Handlers{}), protocol.ErrTrailingBytes)
	assert.ErrorIs(t, a.Deframe(f[:3], protocol.Handlers{}), protocol.ErrIncompleteFrame)
}

func TestContinuationWithoutStart(t *testing.T) {
	key := [4]byte{1, 1, 1, 1}
	f := protocol.EncodeFrame(nil, true, protocol.OpcodeContinuation, []byte("x"), &key)
	var a protocol.Assembler
	assert.ErrorIs(t, a.Deframe(f, protocol.Handlers{}), protocol.ErrUnexpectedContinue)
}

func TestInvalidControlFrames(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	fragmented := protocol.EncodeFrame(nil, false, protocol.OpcodePing, nil, &key)
	_, _, err := protocol.DecodeFrame(fragmented, 0)
	assert.ErrorIs(t, err, protocol.ErrInvalidControlFrame)

	oversized := protocol.EncodeFrame(nil, true, protocol.OpcodeClose, make([]byte, 126), &key)
	_, _, err = protocol.DecodeFrame(oversized, 0)
	assert.ErrorIs(t, err, protocol.ErrInvalidControlFrame)
}

func TestMessageTooLarge(t *testing.T) {
	a := protocol.Assembler{MaxMessageSize: 10}
	frames := protocol.Enframe(make([]byte, 12), protocol.OpcodeText, 6, true)
	require.NoError(t, a.Deframe(frames[0], protocol.Handlers{}))
	assert.ErrorIs(t, a.Deframe(frames[1], protocol.Handlers{}), protocol.ErrMessageTooLarge)
}

func TestClosePayload(t *testing.T) {
	p := protocol.ClosePayload(protocol.CloseNormalClosure, "bye")
	assert.Equal(t, protocol.CloseNormalClosure, protocol.CloseCode(p))
	assert.Equal(t, "bye", string(p[2:]))
	assert.Equal(t, protocol.CloseNoStatusRcvd, protocol.CloseCode(nil))
	assert.Nil(t, protocol.ClosePayload(0, ""))
}

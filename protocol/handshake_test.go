package protocol_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-chat/protocol"
)

const sampleRequest = "GET /chat HTTP/1.1\r\n" +
	"Host: server.example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: keep-alive, Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Origin: http://example.com\r\n" +
	"Sec-WebSocket-Version: 13\r\n\r\n"

func TestComputeAcceptKey(t *testing.T) {
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", protocol.ComputeAcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestUpgradeSuccess(t *testing.T) {
	u := protocol.NewUpgrader()
	trailing := "\x81\x80"
	resp, n, err := u.Upgrade([]byte(sampleRequest + trailing))
	require.NoError(t, err)
	assert.Equal(t, len(sampleRequest), n)
	assert.Equal(t, "HTTP/1.1 101 Switching Protocols\r\n"+
		"Connection: Upgrade\r\n"+
		"Upgrade: websocket\r\n"+
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n\r\n", string(resp))
}

func TestUpgradeNeedsMoreBytes(t *testing.T) {
	u := protocol.NewUpgrader()
	resp, n, err := u.Upgrade([]byte(sampleRequest[:40]))
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Zero(t, n)
}

func TestUpgradeRejections(t *testing.T) {
	cases := []struct {
		name    string
		request string
		reason  string
	}{
		{
			name:    "post method",
			request: strings.Replace(sampleRequest, "GET", "POST", 1),
			reason:  "method POST not allowed",
		},
		{
			name:    "http 1.0",
			request: strings.Replace(sampleRequest, "HTTP/1.1", "HTTP/1.0", 1),
			reason:  "unsupported version HTTP/1.0",
		},
		{
			name:    "missing key",
			request: strings.Replace(sampleRequest, "Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n", "", 1),
			reason:  "missing Sec-WebSocket-Key header",
		},
		{
			name:    "wrong version",
			request: strings.Replace(sampleRequest, "Version: 13", "Version: 8", 1),
			reason:  `Sec-WebSocket-Version value "8" not allowed`,
		},
		{
			name:    "malformed header",
			request: strings.Replace(sampleRequest, "Host: server.example.com", "Host server.example.com", 1),
			reason:  `malformed header line "Host server.example.com"`,
		},
		{
			name:    "malformed request line",
			request: "GET\r\n\r\n",
			reason:  `malformed request line "GET"`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, n, err := protocol.NewUpgrader().Upgrade([]byte(tc.request))
			require.Error(t, err)
			var herr *protocol.HandshakeError
			require.True(t, errors.As(err, &herr))
			assert.Equal(t, tc.reason, herr.Reason)
			assert.Equal(t, len(tc.request), n)
			assert.Equal(t, "HTTP/1.1 400 Bad Request\r\nDescription: "+tc.reason+"\r\n\r\n", string(resp))
		})
	}
}

func TestUpgradeHeadersTooLarge(t *testing.T) {
	u := &protocol.Upgrader{Policy: protocol.DefaultHeaderPolicy(), MaxHeaderSize: 64}
	resp, n, err := u.Upgrade([]byte(strings.Repeat("A", 65)))
	require.Error(t, err)
	assert.Equal(t, 65, n)
	assert.True(t, strings.HasPrefix(string(resp), "HTTP/1.1 400 Bad Request\r\n"))
}

func TestHeaderPolicyOrigins(t *testing.T) {
	u := &protocol.Upgrader{Policy: protocol.DefaultHeaderPolicy().WithOrigins([]string{"http://localhost:4200"})}
	_, _, err := u.Upgrade([]byte(sampleRequest))
	require.Error(t, err)

	allowed := strings.Replace(sampleRequest, "http://example.com", "http://localhost:4200", 1)
	_, _, err = u.Upgrade([]byte(allowed))
	assert.NoError(t, err)
}

func TestAtLeastHTTP11(t *testing.T) {
	cases := map[string]bool{
		"HTTP/1.1": true,
		"HTTP/2":   true,
		"HTTP/1.0": false,
		"HTTP/0.9": false,
		"HTTPS/1":  false,
		"HTTP/x.y": false,
	}
	for v, want := range cases {
		assert.Equal(t, want, protocol.AtLeastHTTP11(v), v)
	}
}

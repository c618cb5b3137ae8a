// File: protocol/handshake.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Opening handshake: request parsing over raw bytes, header whitelist
// validation, Sec-WebSocket-Accept computation and response building.

package protocol

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"maps"
	"net/textproto"
	"slices"
	"strconv"
	"strings"
)

const (
	WebSocketGUID           = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	MaxHandshakeHeadersSize = 8192
	HeaderHost              = "Host"
	HeaderOrigin            = "Origin"
	HeaderConnection        = "Connection"
	HeaderUpgrade           = "Upgrade"
	HeaderSecWebSocketKey   = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer   = "Sec-WebSocket-Version"
	AnyValue                = "*"
)

var headerTerminator = []byte("\r\n\r\n")

// HandshakeError describes why an opening request was rejected.
type HandshakeError struct {
	Reason string
}

func (e *HandshakeError) Error() string {
	return "handshake rejected: " + e.Reason
}

func rejectf(format string, args ...any) *HandshakeError {
	return &HandshakeError{Reason: fmt.Sprintf(format, args...)}
}

// Request is a parsed opening request.
type Request struct {
	Method  string
	Target  string
	Version string
	Header  textproto.MIMEHeader
}

// ParseRequest parses the request line and header lines of head. Header
// lines are split on ": "; repeated names keep every value.
func ParseRequest(head []byte) (*Request, error) {
	lines := strings.Split(strings.TrimRight(string(head), "\r\n"), "\r\n")
	parts := strings.Fields(lines[0])
	if len(parts) != 3 {
		return nil, rejectf("malformed request line %q", lines[0])
	}
	req := &Request{
		Method:  parts[0],
		Target:  parts[1],
		Version: parts[2],
		Header:  make(textproto.MIMEHeader, len(lines)-1),
	}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, rejectf("malformed header line %q", line)
		}
		req.Header.Add(name, strings.TrimSpace(value))
	}
	return req, nil
}

// AtLeastHTTP11 reports whether version is HTTP/1.1 or newer.
func AtLeastHTTP11(version string) bool {
	v, ok := strings.CutPrefix(version, "HTTP/")
	if !ok {
		return false
	}
	majorStr, minorStr, _ := strings.Cut(v, ".")
	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return false
	}
	minor := 0
	if minorStr != "" {
		if minor, err = strconv.Atoi(minorStr); err != nil {
			return false
		}
	}
	return major > 1 || (major == 1 && minor >= 1)
}

// ComputeAcceptKey returns base64(SHA-1(clientKey + GUID)).
func ComputeAcceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// HeaderRule lists the values a whitelisted header may carry.
type HeaderRule struct {
	Allowed  []string
	Required bool
}

// HeaderPolicy maps whitelisted header names to their rules. Headers not in
// the policy are accepted as-is.
type HeaderPolicy map[string]HeaderRule

// DefaultHeaderPolicy accepts any host and origin and expects a standard
// version 13 upgrade.
func DefaultHeaderPolicy() HeaderPolicy {
	return HeaderPolicy{
		HeaderHost:            {Allowed: []string{AnyValue}},
		HeaderOrigin:          {Allowed: []string{AnyValue}},
		HeaderConnection:      {Allowed: []string{"Upgrade"}},
		HeaderUpgrade:         {Allowed: []string{"websocket"}},
		HeaderSecWebSocketVer: {Allowed: []string{"13"}},
		HeaderSecWebSocketKey: {Allowed: []string{AnyValue}, Required: true},
	}
}

// WithOrigins returns a copy of p that only admits the listed origins.
// An empty list leaves the origin rule unchanged.
func (p HeaderPolicy) WithOrigins(origins []string) HeaderPolicy {
	out := make(HeaderPolicy, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	if len(origins) > 0 {
		out[HeaderOrigin] = HeaderRule{Allowed: origins}
	}
	return out
}

// Validate checks the request line and every whitelisted header.
func (p HeaderPolicy) Validate(req *Request) error {
	if req.Method != "GET" {
		return rejectf("method %s not allowed", req.Method)
	}
	if !AtLeastHTTP11(req.Version) {
		return rejectf("unsupported version %s", req.Version)
	}
	for _, name := range slices.Sorted(maps.Keys(p)) {
		rule := p[name]
		values := req.Header.Values(name)
		if len(values) == 0 {
			if rule.Required {
				return rejectf("missing %s header", name)
			}
			continue
		}
		for _, v := range values {
			if !rule.admits(v) {
				return rejectf("%s value %q not allowed", name, v)
			}
		}
	}
	if req.Header.Get(HeaderSecWebSocketKey) == "" {
		return rejectf("missing %s header", HeaderSecWebSocketKey)
	}
	return nil
}

// admits matches any comma-separated token of value case-insensitively.
func (r HeaderRule) admits(value string) bool {
	for _, allowed := range r.Allowed {
		if allowed == AnyValue {
			return true
		}
		for _, tok := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), allowed) {
				return true
			}
		}
	}
	return false
}

// SwitchingProtocolsResponse builds the 101 response for clientKey.
func SwitchingProtocolsResponse(clientKey string) []byte {
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"Sec-WebSocket-Accept: " + ComputeAcceptKey(clientKey) + "\r\n\r\n")
}

// BadRequestResponse builds the 400 response carrying reason.
func BadRequestResponse(reason string) []byte {
	reason = strings.NewReplacer("\r", " ", "\n", " ").Replace(reason)
	return []byte("HTTP/1.1 400 Bad Request\r\nDescription: " + reason + "\r\n\r\n")
}

// Upgrader completes opening handshakes from buffered request bytes.
type Upgrader struct {
	Policy        HeaderPolicy
	MaxHeaderSize int
}

// NewUpgrader returns an Upgrader with the default policy and size limit.
func NewUpgrader() *Upgrader {
	return &Upgrader{Policy: DefaultHeaderPolicy(), MaxHeaderSize: MaxHandshakeHeadersSize}
}

// Upgrade inspects the bytes received so far. While the request terminator
// is missing it returns consumed == 0 and no error. Otherwise it returns the
// response to write and the number of request bytes consumed; bytes beyond
// that belong to the frame stream. A rejected request yields a 400 response
// together with a *HandshakeError.
func (u *Upgrader) Upgrade(buf []byte) (response []byte, consumed int, err error) {
	limit := u.MaxHeaderSize
	if limit <= 0 {
		limit = MaxHandshakeHeadersSize
	}
	idx := bytes.Index(buf, headerTerminator)
	if idx < 0 {
		if len(buf) > limit {
			herr := rejectf("request headers exceed %d bytes", limit)
			return BadRequestResponse(herr.Reason), len(buf), herr
		}
		return nil, 0, nil
	}
	consumed = idx + len(headerTerminator)
	if idx > limit {
		herr := rejectf("request headers exceed %d bytes", limit)
		return BadRequestResponse(herr.Reason), consumed, herr
	}

	req, err := ParseRequest(buf[:idx])
	if err == nil {
		policy := u.Policy
		if policy == nil {
			policy = DefaultHeaderPolicy()
		}
		err = policy.Validate(req)
	}
	if err != nil {
		reason := err.Error()
		if herr, ok := err.(*HandshakeError); ok {
			reason = herr.Reason
		}
		return BadRequestResponse(reason), consumed, err
	}
	return SwitchingProtocolsResponse(req.Header.Get(HeaderSecWebSocketKey)), consumed, nil
}

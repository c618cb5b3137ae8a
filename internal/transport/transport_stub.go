//go:build !linux
// +build !linux

// File: internal/transport/transport_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for platforms without the epoll pipeline.

package transport

import (
	"fmt"

	"github.com/momentics/hioload-chat/api"
)

// DefaultBacklog is the listen(2) backlog.
const DefaultBacklog = 1024

// Listen returns an error for unsupported platforms.
func Listen(addr string, backlog int) (api.Listener, error) {
	return nil, fmt.Errorf("transport: listen %s: %w", addr, api.ErrNotSupported)
}

// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "context"

// GracefulShutdown is implemented by components that own goroutines or
// descriptors and must release them before the process exits.
type GracefulShutdown interface {
	// Shutdown stops accepting work, waits for in-flight work within ctx,
	// and releases resources.
	Shutdown(ctx context.Context) error
}

// File: internal/credentials/open.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package credentials

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/momentics/hioload-chat/api"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Open builds the named backend. dsn is a database path for sqlite and a
// host:port for redis; memory ignores it.
func Open(ctx context.Context, backend, dsn string, log *slog.Logger) (api.CredentialStore, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		return OpenSQLite(ctx, dsn, log)
	case BackendRedis:
		return NewRedisStore(ctx, dsn, log)
	}
	return nil, fmt.Errorf("credential backend %q: %w", backend, api.ErrNotSupported)
}

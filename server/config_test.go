package server

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-chat/api"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Credentials.Backend)
	assert.Equal(t, "password", cfg.Credentials.Seed["admin"])
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
listen_addr: 127.0.0.1:9001
admin_addr: 127.0.0.1:9002
workers: 8
idle_timeout: 90s
allowed_origins: [https://chat.example]
log_level: debug
credentials:
  backend: sqlite
  dsn: /var/lib/chat/users.db
  hasher: bcrypt
  seed:
    ops: secret
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9001", cfg.ListenAddr)
	assert.Equal(t, "127.0.0.1:9002", cfg.AdminAddr)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
	assert.Equal(t, []string{"https://chat.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "sqlite", cfg.Credentials.Backend)
	assert.Equal(t, map[string]string{"ops": "secret"}, cfg.Credentials.Seed)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultConfig().QueueSize, cfg.QueueSize)

	assert.Equal(t, map[string]any{
		KeyLogLevel:    "debug",
		KeyIdleTimeout: 90 * time.Second,
	}, cfg.Reloadable())
}

func TestLoadConfigEmptyFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "listen_port: 80\n"},
		{"bad duration", "idle_timeout: soon\n"},
		{"bad level", "log_level: loud\n"},
		{"dsn missing", "credentials: {backend: redis}\n"},
		{"unknown backend", "credentials: {backend: ldap}\n"},
		{"unknown hasher", "credentials: {hasher: md5}\n"},
		{"negative", "workers: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateWrapsInvalidArgument(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = ""
	cfg.IdleTimeout = -time.Second
	err := cfg.Validate()
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.ErrorContains(t, err, "listen_addr")
	assert.ErrorContains(t, err, "idle_timeout")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "examples", "chatserver.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Credentials.Backend)
	assert.Equal(t, "127.0.0.1:8081", cfg.AdminAddr)
}

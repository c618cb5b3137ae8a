// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server configuration: defaults, YAML loading and validation.

package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/internal/credentials"
)

// Reloadable keys published to the control store.
const (
	KeyLogLevel    = "log_level"
	KeyIdleTimeout = "idle_timeout"
)

// CredentialsConfig selects and seeds the credential backend.
type CredentialsConfig struct {
	Backend string            `yaml:"backend"` // memory, sqlite or redis
	DSN     string            `yaml:"dsn"`     // sqlite path or redis host:port
	Hasher  string            `yaml:"hasher"`  // plain or bcrypt
	Seed    map[string]string `yaml:"seed"`    // username -> password, added when absent
}

// Config holds all server-side configuration parameters.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`       // chat TCP bind address, e.g. ":8080"
	AdminAddr       string        `yaml:"admin_addr"`        // admin HTTP address; empty disables it
	Backlog         int           `yaml:"backlog"`           // listen(2) backlog
	Workers         int           `yaml:"workers"`           // worker goroutines per stage
	QueueSize       int           `yaml:"queue_size"`        // job queue capacity per stage
	ReadBufferSize  int           `yaml:"read_buffer_size"`  // bytes per socket read
	MaxFramePayload int           `yaml:"max_frame_payload"` // outbound fragmentation threshold
	MaxMessageSize  int64         `yaml:"max_message_size"`  // inbound reassembly limit
	IdleTimeout     time.Duration `yaml:"idle_timeout"`      // 0 disables
	PinThreads      bool          `yaml:"pin_threads"`       // lock stage loops to CPUs
	AllowedOrigins  []string      `yaml:"allowed_origins"`   // empty admits any origin
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`

	Credentials CredentialsConfig `yaml:"credentials"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":8080",
		Backlog:         1024,
		Workers:         4,
		QueueSize:       1024,
		ReadBufferSize:  16 * 1024,
		MaxFramePayload: 64 * 1024,
		MaxMessageSize:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        "info",
		Credentials: CredentialsConfig{
			Backend: credentials.BackendMemory,
			Hasher:  credentials.HashPlain,
			Seed:    credentials.DefaultSeed,
		},
	}
}

// LoadConfig reads path over DefaultConfig. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.Workers < 0 || c.QueueSize < 0 || c.ReadBufferSize < 0 || c.MaxFramePayload < 0 || c.MaxMessageSize < 0 {
		errs = append(errs, errors.New("sizes and counts must not be negative"))
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, errors.New("idle_timeout must not be negative"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.Credentials.Backend {
	case "", credentials.BackendMemory:
	case credentials.BackendSQLite, credentials.BackendRedis:
		if c.Credentials.DSN == "" {
			errs = append(errs, fmt.Errorf("credentials.dsn is required for %s", c.Credentials.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown credentials.backend %q", c.Credentials.Backend))
	}
	switch c.Credentials.Hasher {
	case "", credentials.HashPlain, credentials.HashBcrypt:
	default:
		errs = append(errs, fmt.Errorf("unknown credentials.hasher %q", c.Credentials.Hasher))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", api.ErrInvalidArgument, errors.Join(errs...))
	}
	return nil
}

// Reloadable returns the keys a running server applies on reload.
func (c *Config) Reloadable() map[string]any {
	return map[string]any{
		KeyLogLevel:    strings.ToLower(c.LogLevel),
		KeyIdleTimeout: c.IdleTimeout,
	}
}

// LoadReloadable is a control.LoadFunc over LoadConfig.
func LoadReloadable(path string) (map[string]any, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg.Reloadable(), nil
}

// ParseLevel maps debug, info, warn and error to slog levels. Empty is info.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", s, err)
	}
	return lvl, nil
}

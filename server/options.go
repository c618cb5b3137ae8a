// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"log/slog"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/reactor"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger sets the logger handed to every component.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithLevelVar lets reloads of log_level adjust the handler's level.
func WithLevelVar(lv *slog.LevelVar) ServerOption {
	return func(s *Server) {
		s.level = lv
	}
}

// WithCredentialStore injects a store instead of opening the configured
// backend. The caller keeps ownership and closes it.
func WithCredentialStore(cs api.CredentialStore) ServerOption {
	return func(s *Server) {
		s.creds = cs
	}
}

// WithHasher overrides credentials.hasher.
func WithHasher(h api.PasswordHasher) ServerOption {
	return func(s *Server) {
		s.hasher = h
	}
}

// WithListener serves chat on ln instead of listening on ListenAddr.
func WithListener(ln api.Listener) ServerOption {
	return func(s *Server) {
		s.listener = ln
	}
}

// WithPollerFactory overrides the platform poller, mainly for tests.
func WithPollerFactory(f reactor.Factory) ServerOption {
	return func(s *Server) {
		s.newPoller = f
	}
}

// WithConfigFile enables hot reload of path while the server runs.
func WithConfigFile(path string) ServerOption {
	return func(s *Server) {
		s.configPath = path
	}
}

// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server facade: opens the credential backend and the chat listener,
// assembles the staged chat service and runs it together with the admin
// endpoint, the config watcher and the metrics collector.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/control"
	"github.com/momentics/hioload-chat/internal/chat"
	"github.com/momentics/hioload-chat/internal/credentials"
	"github.com/momentics/hioload-chat/internal/session"
	"github.com/momentics/hioload-chat/internal/transport"
	"github.com/momentics/hioload-chat/protocol"
	"github.com/momentics/hioload-chat/reactor"
)

// Name and Version identify the service on the admin endpoint.
const (
	Name    = "hioload-chat"
	Version = "0.3.0"
)

const (
	openTimeout     = 10 * time.Second
	metricsInterval = time.Second
)

var ErrAlreadyRunning = errors.New("server already running")

// Server is the high-level facade over the chat pipeline.
type Server struct {
	cfg        *Config
	log        *slog.Logger
	level      *slog.LevelVar
	configPath string

	creds     api.CredentialStore
	ownCreds  bool
	hasher    api.PasswordHasher
	listener  api.Listener
	ownLn     bool
	newPoller reactor.Factory

	svc      *chat.Service
	sessions *session.Store
	store    *control.ConfigStore
	metrics  *control.MetricsRegistry
	probes   *control.DebugProbes

	admin   *http.Server
	adminLn net.Listener

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopErr   error
}

// New builds the Server. Nothing serves until Run.
func New(cfg *Config, opts ...ServerOption) (s *Server, err error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s = &Server{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.level != nil {
		lvl, _ := ParseLevel(cfg.LogLevel)
		s.level.Set(lvl)
	}
	defer func() {
		if err != nil {
			s.release()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	if err := s.openCredentials(ctx); err != nil {
		return nil, err
	}

	if s.listener == nil {
		if s.listener, err = transport.Listen(cfg.ListenAddr, cfg.Backlog); err != nil {
			return nil, fmt.Errorf("chat listener: %w", err)
		}
		s.ownLn = true
	}
	if cfg.AdminAddr != "" {
		if s.adminLn, err = net.Listen("tcp", cfg.AdminAddr); err != nil {
			return nil, fmt.Errorf("admin listener: %w", err)
		}
	}

	up := protocol.NewUpgrader()
	up.Policy = up.Policy.WithOrigins(cfg.AllowedOrigins)

	s.sessions = session.NewStore(session.DefaultShards)
	s.svc, err = chat.NewService(chat.Config{
		Listener:        s.listener,
		Upgrader:        up,
		Credentials:     s.creds,
		Hasher:          s.hasher,
		Sessions:        s.sessions,
		Workers:         cfg.Workers,
		QueueSize:       cfg.QueueSize,
		ReadBufferSize:  cfg.ReadBufferSize,
		MaxFramePayload: cfg.MaxFramePayload,
		MaxMessageSize:  cfg.MaxMessageSize,
		IdleTimeout:     cfg.IdleTimeout,
		PinThreads:      cfg.PinThreads,
		NewPoller:       s.newPoller,
		Logger:          s.log,
	})
	if err != nil {
		return nil, err
	}

	s.metrics = control.NewMetricsRegistry()
	s.probes = control.NewDebugProbes()
	s.registerProbes()
	s.store = control.NewConfigStore(cfg.Reloadable())
	s.store.OnReload(s.applyReload)
	if s.adminLn != nil {
		s.admin = &http.Server{
			Handler:           s.routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s, nil
}

func (s *Server) openCredentials(ctx context.Context) error {
	cc := s.cfg.Credentials
	if s.creds == nil {
		cs, err := credentials.Open(ctx, cc.Backend, cc.DSN, s.log)
		if err != nil {
			return fmt.Errorf("credential store: %w", err)
		}
		s.creds, s.ownCreds = cs, true
	}
	if s.hasher == nil {
		h, err := credentials.NewHasher(cc.Hasher)
		if err != nil {
			return err
		}
		s.hasher = h
	}
	n, err := credentials.Seed(ctx, s.creds, s.hasher, cc.Seed)
	if err != nil {
		return fmt.Errorf("seed credentials: %w", err)
	}
	if n > 0 {
		s.log.Info("seeded users", "count", n, "backend", cc.Backend)
	}
	return nil
}

// release closes what New opened.
func (s *Server) release() {
	if s.adminLn != nil {
		s.adminLn.Close()
	}
	if s.ownLn && s.listener != nil {
		s.listener.Close()
	}
	if s.ownCreds && s.creds != nil {
		s.creds.Close()
	}
}

// Addr returns the bound chat address.
func (s *Server) Addr() string { return s.listener.Addr() }

// AdminAddr returns the bound admin address, or "" when disabled.
func (s *Server) AdminAddr() string {
	if s.adminLn == nil {
		return ""
	}
	return s.adminLn.Addr().String()
}

// Service exposes the chat pipeline.
func (s *Server) Service() *chat.Service { return s.svc }

// Control returns the reloadable configuration store.
func (s *Server) Control() *control.ConfigStore { return s.store }

// Metrics returns the metrics registry.
func (s *Server) Metrics() *control.MetricsRegistry { return s.metrics }

// Probes returns the debug probes served at /debug/state.
func (s *Server) Probes() *control.DebugProbes { return s.probes }

// Info describes the running service.
func (s *Server) Info() api.ServiceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return api.ServiceInfo{Name: Name, Version: Version, StartedAt: s.startedAt}
}

// Run serves until ctx is cancelled or Shutdown is called, then shuts
// down within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.startedAt = time.Now()
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.svc.Start(); err != nil {
		return err
	}
	s.log.Info("chat server started", "addr", s.Addr(), "admin", s.AdminAddr())

	if s.admin != nil {
		s.goRun(func() {
			if err := s.admin.Serve(s.adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("admin server failed", "err", err)
			}
		})
	}
	if s.configPath != "" {
		w := control.NewConfigWatcher(s.configPath, LoadReloadable, s.store, s.log)
		s.goRun(func() {
			if err := w.Run(ctx); err != nil {
				s.log.Error("config watcher stopped", "err", err)
			}
		})
	}
	s.goRun(func() { s.collectMetrics(ctx) })

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(sctx)
}

func (s *Server) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Shutdown stops the chat stages, the admin endpoint and the background
// goroutines, then closes the listener and an owned credential store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()

		var errs []error
		if err := s.svc.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("chat service: %w", err))
		}
		if s.admin != nil {
			if err := s.admin.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("admin: %w", err))
			}
		} else if s.adminLn != nil {
			s.adminLn.Close()
		}
		s.wg.Wait()
		if s.ownLn {
			s.listener.Close()
		}
		if s.ownCreds {
			if err := s.creds.Close(); err != nil {
				errs = append(errs, fmt.Errorf("credential store: %w", err))
			}
		}
		s.stopErr = errors.Join(errs...)
		s.log.Info("chat server stopped")
	})
	return s.stopErr
}

// applyReload runs for every changed set of reloadable keys.
func (s *Server) applyReload(changed []string, snap map[string]any) {
	for _, key := range changed {
		switch key {
		case KeyLogLevel:
			name, _ := snap[key].(string)
			lvl, err := ParseLevel(name)
			if err != nil {
				s.log.Warn("ignoring log level", "err", err)
				continue
			}
			if s.level != nil {
				s.level.Set(lvl)
			}
			s.log.Info("log level changed", "level", lvl.String())
		case KeyIdleTimeout:
			d, _ := snap[key].(time.Duration)
			s.svc.SetIdleTimeout(d)
			s.log.Info("idle timeout changed", "idle_timeout", d)
		}
	}
	s.metrics.Add("config.reloads", 1)
}

func (s *Server) registerProbes() {
	control.RegisterPlatformProbes(s.probes)
	s.probes.RegisterProbe("service", func() any { return s.Info() })
	s.probes.RegisterProbe("stages", func() any { return s.svc.Stats() })
	s.probes.RegisterProbe("rooms", func() any { return s.svc.Rooms().Snapshot() })
	s.probes.RegisterProbe("sessions", func() any { return s.sessions.Len() })
	s.probes.RegisterProbe("metrics", func() any { return s.metrics.GetSnapshot() })
	s.probes.RegisterProbe("config", func() any { return s.store.GetSnapshot() })
}

// collectMetrics copies stage counters into the registry once a second.
func (s *Server) collectMetrics(ctx context.Context) {
	t := time.NewTicker(metricsInterval)
	defer t.Stop()
	for {
		s.sample()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Server) sample() {
	var conns int
	var msgs, in, out int64
	for _, st := range s.svc.Stats() {
		conns += st.Connections
		msgs += st.Messages
		in += st.BytesIn
		out += st.BytesOut
		s.metrics.Set("stage."+st.Name+".connections", st.Connections)
	}
	s.metrics.Set("connections", conns)
	s.metrics.Set("messages", msgs)
	s.metrics.Set("bytes_in", in)
	s.metrics.Set("bytes_out", out)
	s.metrics.Set("rooms", s.svc.Rooms().Len())
	s.metrics.Set("sessions", s.sessions.Len())
}

// File: internal/chat/service.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Service wires the reception, lobby and room stages together and owns
// their lifecycles.

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/internal/session"
	"github.com/momentics/hioload-chat/internal/stage"
	"github.com/momentics/hioload-chat/protocol"
	"github.com/momentics/hioload-chat/reactor"
)

// Stage names.
const (
	ReceptionStage = "reception"
	LobbyStage     = "lobby"
)

// Config assembles a Service. Credentials and Hasher are required.
type Config struct {
	// Listener is polled by the reception stage. Nil leaves reception
	// without an accept path, for callers that Adopt connections.
	Listener api.Listener
	Upgrader *protocol.Upgrader

	Credentials api.CredentialStore
	Hasher      api.PasswordHasher
	Sessions    *session.Store

	// Stage settings shared by every stage.
	Workers         int
	QueueSize       int
	ReadBufferSize  int
	MaxFramePayload int
	MaxMessageSize  int64
	IdleTimeout     time.Duration
	PinThreads      bool

	NewPoller reactor.Factory
	Logger    *slog.Logger
}

// Service is the running chat pipeline.
type Service struct {
	cfg Config
	log *slog.Logger

	creds    api.CredentialStore
	hasher   api.PasswordHasher
	sessions *session.Store

	reception *stage.Stage
	lobby     *stage.Stage
	rooms     *Directory

	lobbyH *lobbyHandler

	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cpus    atomic.Int32
	idle    atomic.Int64
	started atomic.Bool
	stopped sync.Once
}

// NewService builds the stages. Nothing runs until Start.
func NewService(cfg Config) (*Service, error) {
	if cfg.Credentials == nil || cfg.Hasher == nil {
		return nil, fmt.Errorf("chat service: %w: credential store and hasher are required", api.ErrInvalidArgument)
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewStore(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Listener != nil && cfg.Upgrader == nil {
		cfg.Upgrader = protocol.NewUpgrader()
	}

	svc := &Service{
		cfg:      cfg,
		log:      cfg.Logger,
		creds:    cfg.Credentials,
		hasher:   cfg.Hasher,
		sessions: cfg.Sessions,
	}
	svc.idle.Store(int64(cfg.IdleTimeout))
	svc.runCtx, svc.cancel = context.WithCancel(context.Background())
	svc.lobbyH = &lobbyHandler{svc: svc}
	svc.rooms = NewDirectory(svc.newRoom, svc.startStage)

	var err error
	rc := svc.stageConfig(ReceptionStage)
	rc.Listener = cfg.Listener
	rc.Upgrader = cfg.Upgrader
	rc.Dispatcher = &receptionHandler{svc: svc}
	if svc.reception, err = stage.New(rc); err != nil {
		return nil, err
	}

	lc := svc.stageConfig(LobbyStage)
	lc.Dispatcher = svc.lobbyH
	lc.OnClose = svc.onClose
	if svc.lobby, err = stage.New(lc); err != nil {
		svc.reception.Stop()
		return nil, err
	}
	return svc, nil
}

func (svc *Service) stageConfig(name string) stage.Config {
	return stage.Config{
		Name:            name,
		Workers:         svc.cfg.Workers,
		QueueSize:       svc.cfg.QueueSize,
		ReadBufferSize:  svc.cfg.ReadBufferSize,
		MaxFramePayload: svc.cfg.MaxFramePayload,
		MaxMessageSize:  svc.cfg.MaxMessageSize,
		IdleTimeout:     time.Duration(svc.idle.Load()),
		Pin:             svc.cfg.PinThreads,
		CPU:             int(svc.cpus.Add(1) - 1),
		NewPoller:       svc.cfg.NewPoller,
		Logger:          svc.log,
	}
}

func (svc *Service) newRoom(name string) (*stage.Stage, error) {
	cfg := svc.stageConfig(RoomPrefix + name)
	cfg.Dispatcher = &roomHandler{svc: svc}
	cfg.OnClose = svc.onClose
	return stage.New(cfg)
}

// startStage launches the loop of st on its own goroutine.
func (svc *Service) startStage(st *stage.Stage) {
	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		if err := st.Run(svc.runCtx); err != nil {
			svc.log.Error("stage exited", "stage", st.Name(), "err", err)
		}
	}()
}

// Start runs the reception and lobby loops.
func (svc *Service) Start() error {
	if !svc.started.CompareAndSwap(false, true) {
		return fmt.Errorf("chat service already started")
	}
	svc.startStage(svc.lobby)
	svc.startStage(svc.reception)
	svc.log.Info("chat service started", "workers", svc.cfg.Workers)
	return nil
}

// Shutdown stops accepting, then stops every stage and closes their
// connections. It waits for the loops or for ctx.
func (svc *Service) Shutdown(ctx context.Context) error {
	svc.stopped.Do(func() {
		svc.reception.Stop()
		svc.rooms.Close()
		svc.lobby.Stop()
		svc.cancel()
	})
	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		svc.log.Info("chat service stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reception returns the entry stage.
func (svc *Service) Reception() *stage.Stage { return svc.reception }

// Lobby returns the lobby stage.
func (svc *Service) Lobby() *stage.Stage { return svc.lobby }

// Rooms returns the room directory.
func (svc *Service) Rooms() *Directory { return svc.rooms }

// Sessions returns the session store.
func (svc *Service) Sessions() *session.Store { return svc.sessions }

// Stats returns counters of every stage, rooms last.
func (svc *Service) Stats() []api.StageStats {
	out := []api.StageStats{svc.reception.Stats(), svc.lobby.Stats()}
	for _, st := range svc.rooms.Stages() {
		out = append(out, st.Stats())
	}
	return out
}

// SetIdleTimeout applies d to running stages and to rooms created later.
func (svc *Service) SetIdleTimeout(d time.Duration) {
	svc.idle.Store(int64(d))
	svc.reception.SetIdleTimeout(d)
	svc.lobby.SetIdleTimeout(d)
	for _, st := range svc.rooms.Stages() {
		st.SetIdleTimeout(d)
	}
}

// onClose runs on the last owner of a closed connection.
func (svc *Service) onClose(st *stage.Stage, c *stage.Conn) {
	if svc.rooms.IsRoom(st) {
		st.Multiplex(nil, leftMessage(c))
	}
	if id := c.SessionID(); id != "" {
		svc.sessions.Remove(c.Username(), id)
	}
	svc.log.Debug("member disconnected", "stage", st.Name(), "conn", c.ID(), "user", c.Username())
}

// session returns the session bound to c, if it is still live.
func (svc *Service) session(c *stage.Conn) (*session.Session, bool) {
	id := c.SessionID()
	if id == "" {
		return nil, false
	}
	return svc.sessions.Get(c.Username(), id)
}

func leftMessage(c *stage.Conn) string {
	return "Member left: " + c.DisplayName()
}

func joinedMessage(c *stage.Conn) string {
	return c.DisplayName() + " has joined the chat"
}

// File: internal/stage/stage.go
// Package stage implements the poller-driven stage pipeline.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Stage owns one poller, one connection registry, one change-request
// queue and one worker pool. Its loop goroutine is the only code that
// touches the poller; workers and other stages talk to it through the
// change queue. Connections migrate between stages with Handoff.

package stage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/command"
	"github.com/momentics/hioload-chat/internal/concurrency"
	"github.com/momentics/hioload-chat/protocol"
	"github.com/momentics/hioload-chat/reactor"
)

var stageSeq atomic.Uint64

// Defaults applied by New.
const (
	DefaultReadBufferSize  = 4096
	DefaultMaxFramePayload = 1 << 16
	DefaultQueueSize       = 1024
	maxEventsPerWait       = 256
)

// Dispatcher handles parsed commands for the connections a stage owns.
type Dispatcher interface {
	Dispatch(s *Stage, c *Conn, cmd command.Command)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(s *Stage, c *Conn, cmd command.Command)

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(s *Stage, c *Conn, cmd command.Command) { f(s, c, cmd) }

// Config describes one stage.
type Config struct {
	Name string

	// Workers and QueueSize size the worker pool; each worker owns a
	// bounded queue of QueueSize jobs.
	Workers   int
	QueueSize int

	// ReadBufferSize is the scratch buffer for one non-blocking read.
	ReadBufferSize int

	// MaxFramePayload splits outbound messages into frames of at most this
	// many payload bytes.
	MaxFramePayload int

	// MaxMessageSize caps inbound frames and reassembled messages.
	MaxMessageSize int64

	// IdleTimeout closes connections without inbound bytes for this long.
	// Zero disables the sweep.
	IdleTimeout time.Duration

	// Pin restricts the loop thread to CPU (modulo the CPU count).
	Pin bool
	CPU int

	// Listener and Upgrader are set on the reception stage only.
	Listener api.Listener
	Upgrader *protocol.Upgrader

	Dispatcher Dispatcher

	// OnClose runs once for every connection this stage owned when it closed.
	OnClose func(s *Stage, c *Conn)

	NewPoller reactor.Factory
	Logger    *slog.Logger
}

type changeKind int

const (
	changeRegister changeKind = iota
	changeInterest
	changeCancel
	changeClose
)

func (k changeKind) String() string {
	switch k {
	case changeRegister:
		return "register"
	case changeInterest:
		return "interest"
	case changeCancel:
		return "cancel"
	default:
		return "close"
	}
}

// change is one ChangeRequest applied by the loop.
type change struct {
	conn     *Conn
	kind     changeKind
	interest reactor.Interest
	cause    error
}

// polled is the loop-private view of a registered descriptor.
type polled struct {
	conn     *Conn
	interest reactor.Interest
}

// Stage is one independently run event loop with its worker pool.
type Stage struct {
	id     uint64
	cfg    Config
	log    *slog.Logger
	poller reactor.Poller

	changes *concurrency.ChangeQueue[change]
	pool    *concurrency.Executor
	reg     *Registry

	// loop-private state
	polled   map[int]*polled
	events   []reactor.Event
	scratch  []byte
	lastIdle time.Time

	idleTimeout atomic.Int64
	running     atomic.Bool
	stopping    atomic.Bool
	stopOnce    sync.Once
	downOnce    sync.Once
	done        chan struct{}

	accepted atomic.Int64
	closed   atomic.Int64
	bytesIn  atomic.Int64
	bytesOut atomic.Int64
	messages atomic.Int64
	applied  atomic.Int64
}

// New builds a stage. The loop starts with Run.
func New(cfg Config) (*Stage, error) {
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("stage %q: %w: nil dispatcher", cfg.Name, api.ErrInvalidArgument)
	}
	if cfg.NewPoller == nil {
		cfg.NewPoller = reactor.NewPoller
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	if cfg.MaxFramePayload <= 0 {
		cfg.MaxFramePayload = DefaultMaxFramePayload
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = protocol.DefaultMaxMessageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	poller, err := cfg.NewPoller()
	if err != nil {
		return nil, fmt.Errorf("stage %q: %w", cfg.Name, err)
	}
	log := cfg.Logger.With("stage", cfg.Name)
	s := &Stage{
		id:      stageSeq.Add(1),
		cfg:     cfg,
		log:     log,
		poller:  poller,
		changes: concurrency.NewChangeQueue[change](poller),
		pool:    concurrency.NewExecutor(cfg.Workers, cfg.QueueSize, log),
		reg:     newRegistry(),
		polled:  make(map[int]*polled),
		events:  make([]reactor.Event, maxEventsPerWait),
		scratch: make([]byte, cfg.ReadBufferSize),
		done:    make(chan struct{}),
	}
	s.idleTimeout.Store(int64(cfg.IdleTimeout))
	return s, nil
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.cfg.Name }

// ID returns the process-unique stage number.
func (s *Stage) ID() uint64 { return s.id }

// Registry returns the stage's connection registry.
func (s *Stage) Registry() *Registry { return s.reg }

// Done is closed when the loop has exited and resources are released.
func (s *Stage) Done() <-chan struct{} { return s.done }

// SetIdleTimeout changes the idle timeout of a running stage.
func (s *Stage) SetIdleTimeout(d time.Duration) {
	s.idleTimeout.Store(int64(d))
	_ = s.poller.Wake()
}

// Stats returns a counters snapshot.
func (s *Stage) Stats() api.StageStats {
	return api.StageStats{
		Name:        s.cfg.Name,
		Connections: s.reg.Len(),
		Accepted:    s.accepted.Load(),
		Closed:      s.closed.Load(),
		BytesIn:     s.bytesIn.Load(),
		BytesOut:    s.bytesOut.Load(),
		Messages:    s.messages.Load(),
		Changes:     s.applied.Load(),
	}
}

// Stop asks the loop to exit and waits until it has. A stage that never ran
// releases its resources directly.
func (s *Stage) Stop() {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		if !s.running.Load() {
			s.shutdown()
			return
		}
		_ = s.poller.Wake()
	})
	<-s.done
}

// Adopt registers a connection that was not produced by this stage's
// listener, such as one accepted elsewhere. It arrives already upgraded.
func (s *Stage) Adopt(nc api.NetConn) (*Conn, error) {
	if s.stopping.Load() {
		return nil, api.ErrStageClosed
	}
	c := newConn(nc, api.ConnOpen, s.cfg.MaxMessageSize)
	c.owner.Store(s)
	s.reg.put(c)
	s.accepted.Add(1)
	return c, s.changes.Push(change{conn: c, kind: changeRegister})
}

// Send frames payload as a text message and queues it on c.
func (s *Stage) Send(c *Conn, payload string) error {
	return s.sendFrames(c, protocol.OpcodeText, []byte(payload))
}

// SendBinary frames payload as a binary message and queues it on c.
func (s *Stage) SendBinary(c *Conn, payload []byte) error {
	return s.sendFrames(c, protocol.OpcodeBinary, payload)
}

// SendRaw queues unframed bytes, such as a handshake response.
func (s *Stage) SendRaw(c *Conn, b []byte) error {
	if err := c.enqueue(b); err != nil {
		return err
	}
	return requestWrite(c)
}

func (s *Stage) sendFrames(c *Conn, opcode byte, payload []byte) error {
	frames := protocol.Enframe(payload, opcode, s.cfg.MaxFramePayload, false)
	if err := c.enqueue(frames...); err != nil {
		return err
	}
	return requestWrite(c)
}

// requestWrite asks the current owner to add WRITE interest. If ownership
// moves concurrently, the new owner's REGISTER sees the queued bytes.
func requestWrite(c *Conn) error {
	owner := c.Owner()
	if owner == nil {
		return api.ErrConnClosed
	}
	return owner.changes.Push(change{conn: c, kind: changeInterest, interest: reactor.EventRead | reactor.EventWrite})
}

// RequestInterest issues a CHANGE_INTEREST request for c.
func (s *Stage) RequestInterest(c *Conn, interest reactor.Interest) error {
	return s.changes.Push(change{conn: c, kind: changeInterest, interest: interest})
}

// Multiplex queues payload to every member except sender. A nil sender
// reaches everyone. It returns the number of recipients.
func (s *Stage) Multiplex(sender *Conn, payload string) int {
	frames := protocol.Enframe([]byte(payload), protocol.OpcodeText, s.cfg.MaxFramePayload, false)
	n := 0
	for _, c := range s.reg.Snapshot() {
		if c == sender {
			continue
		}
		if err := c.enqueue(frames...); err != nil {
			continue
		}
		if err := requestWrite(c); err == nil {
			n++
		}
	}
	return n
}

// CloseAfterFlush closes c once its pending writes have been sent.
func (s *Stage) CloseAfterFlush(c *Conn) error {
	c.outMu.Lock()
	closed := c.Closed()
	c.closeAfterFlush = true
	c.outMu.Unlock()
	if closed {
		return api.ErrConnClosed
	}
	c.state.CompareAndSwap(int32(api.ConnOpen), int32(api.ConnClosing))
	c.state.CompareAndSwap(int32(api.ConnHandshaking), int32(api.ConnClosing))
	return requestWrite(c)
}

// Close asks the owning loop to close c now.
func (s *Stage) Close(c *Conn, cause error) error {
	owner := c.Owner()
	if owner == nil || c.Closed() {
		return api.ErrConnClosed
	}
	return owner.changes.Push(change{conn: c, kind: changeClose, cause: cause})
}

// Handoff migrates c from s to dst. Both registries are locked in stage
// order, so an observer holding them sees c in exactly one. The source
// poller drops the descriptor on its next drain and the destination adds it.
func (s *Stage) Handoff(c *Conn, dst *Stage) error {
	if dst == s {
		return nil
	}
	if dst.stopping.Load() {
		return api.ErrStageClosed
	}
	unlock := lockRegistries(s, dst)
	switch {
	case c.Owner() != s:
		unlock()
		return api.ErrNotOwner
	case c.Closed():
		unlock()
		return api.ErrConnClosed
	}
	s.reg.deleteLocked(c)
	dst.reg.putLocked(c)
	c.owner.Store(dst)
	unlock()

	s.log.Debug("connection handed off", "conn", c.id, "to", dst.cfg.Name)
	return errors.Join(
		s.changes.Push(change{conn: c, kind: changeCancel}),
		dst.changes.Push(change{conn: c, kind: changeRegister}),
	)
}

// Owners counts the stages among candidates whose registry holds c, with
// every registry locked for the duration of the count.
func Owners(c *Conn, candidates ...*Stage) int {
	unlock := lockRegistries(candidates...)
	defer unlock()
	n := 0
	for _, st := range candidates {
		if st.reg.conns[c.id] == c {
			n++
		}
	}
	return n
}

// lockRegistries write-locks the registries of stages in ID order.
func lockRegistries(stages ...*Stage) func() {
	ordered := make([]*Stage, 0, len(stages))
	seen := make(map[uint64]bool, len(stages))
	for _, st := range stages {
		if !seen[st.id] {
			seen[st.id] = true
			ordered = append(ordered, st)
		}
	}
	slices.SortFunc(ordered, func(a, b *Stage) int { return cmp.Compare(a.id, b.id) })
	for _, st := range ordered {
		st.reg.mu.Lock()
	}
	return func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			ordered[i].reg.mu.Unlock()
		}
	}
}

// Run drives the event loop until ctx is done or Stop is called.
func (s *Stage) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("stage %q: already running", s.cfg.Name)
	}
	defer s.shutdown()
	if s.stopping.Load() {
		return api.ErrStageClosed
	}

	cpu := -1
	if s.cfg.Pin {
		cpu = s.cfg.CPU
	}
	if err := concurrency.PinCurrentThread(cpu); err != nil {
		s.log.Warn("loop thread pinning failed", "cpu", cpu, "err", err)
	}
	defer runtime.UnlockOSThread()

	if ln := s.cfg.Listener; ln != nil {
		if err := s.poller.Add(ln.RawFD(), reactor.EventRead); err != nil {
			return fmt.Errorf("stage %q: register listener: %w", s.cfg.Name, err)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		s.stopping.Store(true)
		_ = s.poller.Wake()
	})
	defer stop()

	s.log.Info("stage loop started")
	for !s.stopping.Load() {
		if err := s.iterate(); err != nil {
			s.log.Error("stage loop failed", "err", err)
			return err
		}
	}
	s.log.Info("stage loop stopped")
	return nil
}

// shutdown stops the workers, closes every owned connection and the poller.
// It runs once whichever of Run and Stop gets there first.
func (s *Stage) shutdown() {
	s.downOnce.Do(func() {
		s.stopping.Store(true)
		s.pool.Close()
		for _, c := range s.reg.Snapshot() {
			s.closeConn(c, api.ErrStageClosed)
		}
		s.changes.Drain(func(change) {})
		if err := s.poller.Close(); err != nil {
			s.log.Warn("poller close failed", "err", err)
		}
		close(s.done)
	})
}

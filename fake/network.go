// Package fake
// Author: momentics <momentics@gmail.com>
//
// In-memory network for driving stages in tests: descriptors, a
// level-triggered poller, connections and a listener, all without sockets.

package fake

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/reactor"
)

// source is anything a Poller can watch.
type source interface {
	readiness() reactor.Interest
}

// Network allocates descriptors and wakes pollers when readiness changes.
type Network struct {
	mu      sync.Mutex
	nextFD  int
	sources map[int]source
	pollers []*Poller
}

// NewNetwork creates an empty network. Descriptors start at 100.
func NewNetwork() *Network {
	return &Network{nextFD: 100, sources: make(map[int]source)}
}

func (n *Network) attach(src source) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	fd := n.nextFD
	n.nextFD++
	n.sources[fd] = src
	return fd
}

func (n *Network) source(fd int) source {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sources[fd]
}

// notify wakes every poller so it re-evaluates readiness.
func (n *Network) notify() {
	n.mu.Lock()
	pollers := append([]*Poller(nil), n.pollers...)
	n.mu.Unlock()
	for _, p := range pollers {
		_ = p.Wake()
	}
}

// NewPoller satisfies reactor.Factory.
func (n *Network) NewPoller() (reactor.Poller, error) {
	p := &Poller{
		net:       n,
		interests: make(map[int]reactor.Interest),
		wake:      make(chan struct{}, 1),
	}
	n.mu.Lock()
	n.pollers = append(n.pollers, p)
	n.mu.Unlock()
	return p, nil
}

// Dial creates a connection queued on ln.
func (n *Network) Dial(ln *Listener, remote string) *Conn {
	c := n.NewConn(remote)
	ln.mu.Lock()
	ln.pending = append(ln.pending, c)
	ln.mu.Unlock()
	n.notify()
	return c
}

// Poller is a level-triggered reactor.Poller over Network sources. It
// counts calls and flags any overlap between owner-only methods.
type Poller struct {
	net *Network

	mu        sync.Mutex
	interests map[int]reactor.Interest
	closed    bool
	wake      chan struct{}

	inUse    atomic.Bool
	overlaps atomic.Int64
	adds     atomic.Int64
	modifies atomic.Int64
	removes  atomic.Int64
}

func (p *Poller) enter() func() {
	if !p.inUse.CompareAndSwap(false, true) {
		p.overlaps.Add(1)
		return func() {}
	}
	return func() { p.inUse.Store(false) }
}

// Add registers fd.
func (p *Poller) Add(fd int, interest reactor.Interest) error {
	defer p.enter()()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return api.ErrStageClosed
	}
	// Re-adding replaces the interest, like the epoll poller.
	p.interests[fd] = interest
	p.adds.Add(1)
	return nil
}

// Modify replaces the interest of fd.
func (p *Poller) Modify(fd int, interest reactor.Interest) error {
	defer p.enter()()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.interests[fd]; !ok {
		return fmt.Errorf("fake poller: fd %d not registered", fd)
	}
	p.interests[fd] = interest
	p.modifies.Add(1)
	return nil
}

// Remove unregisters fd.
func (p *Poller) Remove(fd int) error {
	defer p.enter()()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.interests[fd]; !ok {
		return fmt.Errorf("fake poller: fd %d not registered", fd)
	}
	delete(p.interests, fd)
	p.removes.Add(1)
	return nil
}

// Wait reports every registered fd whose readiness meets its interest.
func (p *Poller) Wait(events []reactor.Event, timeoutMs int) (int, error) {
	var deadline <-chan time.Time
	if timeoutMs >= 0 {
		t := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer t.Stop()
		deadline = t.C
	}
	release := p.enter()
	n, err := p.collect(events)
	release()
	if err != nil || n > 0 {
		return n, err
	}
	select {
	case <-p.wake:
		release := p.enter()
		defer release()
		return p.collect(events)
	case <-deadline:
		return 0, nil
	}
}

func (p *Poller) collect(events []reactor.Event) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, api.ErrStageClosed
	}
	n := 0
	for fd, interest := range p.interests {
		if n == len(events) {
			break
		}
		src := p.net.source(fd)
		if src == nil {
			continue
		}
		ready := src.readiness() & (interest | reactor.EventError)
		if ready != 0 {
			events[n] = reactor.Event{Fd: fd, Ready: ready}
			n++
		}
	}
	return n, nil
}

// Wake interrupts Wait.
func (p *Poller) Wake() error {
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close marks the poller closed.
func (p *Poller) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Interest returns the registered interest of fd and whether it is registered.
func (p *Poller) Interest(fd int) (reactor.Interest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.interests[fd]
	return i, ok
}

// Registered reports the number of registered descriptors.
func (p *Poller) Registered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.interests)
}

// Calls returns the Add, Modify and Remove counts.
func (p *Poller) Calls() (adds, modifies, removes int64) {
	return p.adds.Load(), p.modifies.Load(), p.removes.Load()
}

// Overlaps counts owner-only calls that ran concurrently with another.
func (p *Poller) Overlaps() int64 { return p.overlaps.Load() }

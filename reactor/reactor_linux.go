//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based poller with an eventfd(2) wake primitive.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const maxEvents = 256

// epollPoller is a level-triggered epoll instance.
type epollPoller struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
	closed atomic.Bool
}

// NewPoller constructs an epoll poller with its wake descriptor registered.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakefd: %w", err)
	}
	return &epollPoller{
		epfd:   epfd,
		wakefd: wakefd,
		raw:    make([]unix.EpollEvent, maxEvents),
	}, nil
}

func toEpoll(i Interest) uint32 {
	var ev uint32
	if i&EventRead != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if i&EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Add adds a file descriptor to the epoll watch list.
func (p *epollPoller) Add(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return p.Modify(fd, interest)
		}
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Modify replaces the interest set of fd.
func (p *epollPoller) Modify(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Remove removes a file descriptor from the epoll watch list.
func (p *epollPoller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait blocks in epoll_wait. EINTR counts as a spurious wake-up.
func (p *epollPoller) Wait(events []Event, timeoutMs int) (int, error) {
	limit := min(len(events), len(p.raw))
	if limit == 0 {
		return 0, nil
	}
	n, err := unix.EpollWait(p.epfd, p.raw[:limit], timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil // interrupted by signal, normal
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	out := 0
	for i := 0; i < n; i++ {
		ev := p.raw[i]
		if int(ev.Fd) == p.wakefd {
			p.drainWake()
			continue
		}
		var ready Interest
		if ev.Events&unix.EPOLLIN != 0 {
			ready |= EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			ready |= EventWrite
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			ready |= EventError
		}
		events[out] = Event{Fd: int(ev.Fd), Ready: ready}
		out++
	}
	return out, nil
}

// Wake increments the eventfd counter.
func (p *epollPoller) Wake() error {
	if p.closed.Load() {
		return nil
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(p.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			return
		}
	}
}

// Close releases the epoll and eventfd descriptors.
func (p *epollPoller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	errWake := unix.Close(p.wakefd)
	errEp := unix.Close(p.epfd)
	return errors.Join(errWake, errEp)
}

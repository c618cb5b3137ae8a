// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral poller interface for readiness multiplexing.

package reactor

import "strings"

// Interest is a readiness bit set.
type Interest uint32

const (
	EventRead Interest = 1 << iota
	EventWrite
	EventError
)

func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	var parts []string
	if i&EventRead != 0 {
		parts = append(parts, "read")
	}
	if i&EventWrite != 0 {
		parts = append(parts, "write")
	}
	if i&EventError != 0 {
		parts = append(parts, "error")
	}
	return strings.Join(parts, "|")
}

// Event reports readiness of one descriptor.
type Event struct {
	Fd    int
	Ready Interest
}

// Poller is a level-triggered readiness multiplexer. Add, Modify, Remove and
// Wait must only be called from the goroutine that owns the poller; Wake may
// be called from anywhere.
type Poller interface {
	// Add registers fd with the given interest.
	Add(fd int, interest Interest) error

	// Modify replaces the interest of a registered fd.
	Modify(fd int, interest Interest) error

	// Remove unregisters fd.
	Remove(fd int) error

	// Wait blocks until at least one descriptor is ready, Wake is called, or
	// timeoutMs elapses (negative blocks indefinitely). It fills events and
	// returns how many were written. Wake-ups are not reported as events.
	Wait(events []Event, timeoutMs int) (int, error)

	// Wake interrupts a concurrent or the next Wait.
	Wake() error

	Close() error
}

// Factory creates pollers; stages call it once at construction.
type Factory func() (Poller, error)

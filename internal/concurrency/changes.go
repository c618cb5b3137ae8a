// File: internal/concurrency/changes.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Multi-producer mailbox drained by a single consumer goroutine.

package concurrency

import (
	"sync"
	"sync/atomic"
)

// Waker interrupts the consumer so it drains the queue promptly.
type Waker interface {
	Wake() error
}

// ChangeQueue collects requests from any goroutine and hands them to the one
// goroutine that owns the guarded resource. Each pushed request is delivered
// to exactly one Drain call.
type ChangeQueue[T any] struct {
	mu      sync.Mutex
	pending []T
	spare   []T
	waker   Waker

	pushed  atomic.Int64
	drained atomic.Int64
}

// NewChangeQueue creates a queue that calls waker after every Push.
// A nil waker is allowed for consumers that poll.
func NewChangeQueue[T any](waker Waker) *ChangeQueue[T] {
	return &ChangeQueue[T]{waker: waker}
}

// Push appends req and wakes the consumer.
func (q *ChangeQueue[T]) Push(req T) error {
	q.mu.Lock()
	q.pending = append(q.pending, req)
	q.mu.Unlock()
	q.pushed.Add(1)
	if q.waker != nil {
		return q.waker.Wake()
	}
	return nil
}

// Drain applies every pending request in push order and returns the count.
// Requests pushed by apply itself are left for the next Drain.
func (q *ChangeQueue[T]) Drain(apply func(T)) int {
	q.mu.Lock()
	batch := q.pending
	q.pending = q.spare[:0]
	q.mu.Unlock()

	for i := range batch {
		apply(batch[i])
		var zero T
		batch[i] = zero
	}
	q.drained.Add(int64(len(batch)))

	q.mu.Lock()
	q.spare = batch[:0]
	q.mu.Unlock()
	return len(batch)
}

// Len returns the number of requests waiting.
func (q *ChangeQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns push and drain counters.
func (q *ChangeQueue[T]) Stats() map[string]int64 {
	return map[string]int64{
		"pushed":  q.pushed.Load(),
		"drained": q.drained.Load(),
	}
}

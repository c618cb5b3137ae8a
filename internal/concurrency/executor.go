// File: internal/concurrency/executor.go
// Package concurrency implements the keyed worker pool used by stages.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks to worker goroutines through bounded per-worker
// FIFO queues. Tasks sharing a key always land on the same worker, so they
// run one at a time in submission order. A full queue blocks the submitter.

package concurrency

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// Executor manages a fixed pool of worker goroutines.
type Executor struct {
	queues  []chan TaskFunc // per-worker bounded FIFO queues
	closeCh chan struct{}   // signals executor shutdown
	closed  atomic.Bool
	mu      sync.RWMutex // held shared by submitters, exclusively by Close
	wg      sync.WaitGroup
	log     *slog.Logger

	// statistics
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	panics         atomic.Int64
}

// NewExecutor creates an Executor with numWorkers goroutines, each owning a
// queue of queueSize tasks. numWorkers <= 0 defaults to runtime.NumCPU().
func NewExecutor(numWorkers, queueSize int, log *slog.Logger) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Executor{
		queues:  make([]chan TaskFunc, numWorkers),
		closeCh: make(chan struct{}),
		log:     log,
	}
	for i := range e.queues {
		e.queues[i] = make(chan TaskFunc, queueSize)
	}
	e.wg.Add(numWorkers)
	for i := range e.queues {
		go e.run(i)
	}
	return e
}

// Submit enqueues task on the worker selected by key, blocking while that
// worker's queue is full. It returns ErrExecutorClosed once Close has begun.
func (e *Executor) Submit(key uint64, task TaskFunc) error {
	return e.SubmitContext(context.Background(), key, task)
}

// SubmitContext is Submit with a cancellable wait for queue space.
func (e *Executor) SubmitContext(ctx context.Context, key uint64, task TaskFunc) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	q := e.queues[key%uint64(len(e.queues))]
	select {
	case q <- task:
		e.totalTasks.Add(1)
		return nil
	case <-e.closeCh:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit enqueues task without waiting. It reports false when the
// selected queue is full or the executor is closed.
func (e *Executor) TrySubmit(key uint64, task TaskFunc) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return false
	}
	select {
	case e.queues[key%uint64(len(e.queues))] <- task:
		e.totalTasks.Add(1)
		return true
	default:
		return false
	}
}

// NumWorkers returns the number of workers.
func (e *Executor) NumWorkers() int {
	return len(e.queues)
}

// Close stops accepting tasks, lets workers finish what is queued and waits
// for them to exit.
func (e *Executor) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		e.wg.Wait()
		return
	}
	close(e.closeCh)
	e.mu.Lock()
	for _, q := range e.queues {
		close(q)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	total := e.totalTasks.Load()
	completed := e.completedTasks.Load()
	return map[string]int64{
		"total_tasks":     total,
		"completed_tasks": completed,
		"pending_tasks":   total - completed,
		"panics":          e.panics.Load(),
		"num_workers":     int64(e.NumWorkers()),
	}
}

// run is the main loop for one worker.
func (e *Executor) run(id int) {
	defer e.wg.Done()
	for task := range e.queues[id] {
		e.executeTask(id, task)
	}
}

// executeTask runs the task and updates statistics, recovering from panics.
func (e *Executor) executeTask(id int, task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
			e.log.Error("task panicked", "worker", id, "panic", r)
		}
		e.completedTasks.Add(1)
	}()
	task()
}

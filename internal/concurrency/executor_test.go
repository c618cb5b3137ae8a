package concurrency_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-chat/internal/concurrency"
)

func TestExecutorPreservesPerKeyOrder(t *testing.T) {
	e := concurrency.NewExecutor(4, 16, nil)
	defer e.Close()

	const keys, perKey = 8, 200
	var mu sync.Mutex
	seen := make(map[uint64][]int)
	var wg sync.WaitGroup
	wg.Add(keys * perKey)
	for i := 0; i < perKey; i++ {
		for k := uint64(0); k < keys; k++ {
			k, i := k, i
			require.NoError(t, e.Submit(k, func() {
				defer wg.Done()
				mu.Lock()
				seen[k] = append(seen[k], i)
				mu.Unlock()
			}))
		}
	}
	wg.Wait()

	for k := uint64(0); k < keys; k++ {
		require.Len(t, seen[k], perKey)
		for i, v := range seen[k] {
			assert.Equal(t, i, v, "key %d out of order", k)
		}
	}
}

func TestExecutorRecoversFromPanics(t *testing.T) {
	e := concurrency.NewExecutor(1, 4, nil)
	defer e.Close()

	done := make(chan struct{})
	require.NoError(t, e.Submit(0, func() { panic("boom") }))
	require.NoError(t, e.Submit(0, func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
	assert.Equal(t, int64(1), e.Stats()["panics"])
}

func TestExecutorBackpressure(t *testing.T) {
	e := concurrency.NewExecutor(1, 1, nil)
	defer e.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, e.Submit(0, func() { close(started); <-release }))
	<-started
	require.NoError(t, e.Submit(0, func() {}))
	assert.False(t, e.TrySubmit(0, func() {}), "queue is full")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.SubmitContext(ctx, 0, func() {}), context.DeadlineExceeded)

	close(release)
}

func TestExecutorClose(t *testing.T) {
	e := concurrency.NewExecutor(2, 8, nil)
	ran := make(chan struct{}, 1)
	require.NoError(t, e.Submit(1, func() { ran <- struct{}{} }))
	e.Close()

	select {
	case <-ran:
	default:
		t.Fatal("queued task dropped on close")
	}
	assert.ErrorIs(t, e.Submit(1, func() {}), concurrency.ErrExecutorClosed)
	assert.False(t, e.TrySubmit(1, func() {}))
	e.Close()

	stats := e.Stats()
	assert.Equal(t, int64(2), stats["num_workers"])
	assert.Equal(t, int64(0), stats["pending_tasks"])
}

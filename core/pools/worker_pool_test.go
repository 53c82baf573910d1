package pools

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_Basic(t *testing.T) {
	pool, err := NewWorkerPool(4, 0)
	require.NoError(t, err)

	var counter atomic.Int64
	for i := 0; i < 100; i++ {
		require.True(t, pool.Submit(TaskFunc(func() {
			counter.Add(1)
		})))
	}

	// Close drains the queue before returning
	pool.Close()

	assert.Equal(t, int64(100), counter.Load())
	stats := pool.Stats()
	assert.Equal(t, uint64(100), stats.TasksSubmitted)
	assert.Equal(t, uint64(100), stats.TasksCompleted)
	assert.Equal(t, 0, stats.TasksPending)
}

func TestWorkerPool_InvalidSize(t *testing.T) {
	_, err := NewWorkerPool(0, 10)
	assert.ErrorIs(t, err, ErrInvalidPoolSize)

	_, err = NewWorkerPool(-1, 10)
	assert.ErrorIs(t, err, ErrInvalidPoolSize)
}

func TestWorkerPool_RejectsWhenFull(t *testing.T) {
	pool, err := NewWorkerPool(1, 2)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.Submit(TaskFunc(func() {
		close(started)
		<-release
	})))
	<-started

	// the only worker is busy, so these stay queued
	noop := TaskFunc(func() {})
	assert.True(t, pool.Submit(noop))
	assert.True(t, pool.Submit(noop))
	assert.False(t, pool.Submit(noop), "queue at capacity must reject")
	assert.Equal(t, 2, pool.Pending())

	close(release)
	pool.Close()

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.TasksRejected)
	assert.Equal(t, uint64(3), stats.TasksCompleted)
	assert.Equal(t, 2, stats.MaxQueueDepth)
}

func TestWorkerPool_NilTask(t *testing.T) {
	pool, err := NewWorkerPool(1, 0)
	require.NoError(t, err)
	defer pool.Close()

	assert.False(t, pool.Submit(nil))
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	pool, err := NewWorkerPool(2, 0)
	require.NoError(t, err)
	pool.Close()

	assert.False(t, pool.Submit(TaskFunc(func() {})))
	assert.Equal(t, uint64(1), pool.Stats().TasksRejected)

	// a second Close is harmless
	pool.Close()
}

func TestWorkerPool_CloseWakesIdleWorkers(t *testing.T) {
	pool, err := NewWorkerPool(8, 0)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		pool.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return with idle workers")
	}
}

func TestWorkerPool_FIFO(t *testing.T) {
	pool, err := NewWorkerPool(1, 0)
	require.NoError(t, err)

	gate := make(chan struct{})
	require.True(t, pool.Submit(TaskFunc(func() { <-gate })))

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, pool.Submit(TaskFunc(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})))
	}
	close(gate)
	pool.Close()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestWorkerPool_ConcurrentSubmit(t *testing.T) {
	pool, err := NewWorkerPool(4, 0)
	require.NoError(t, err)

	var counter atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				pool.Submit(TaskFunc(func() { counter.Add(1) }))
			}
		}()
	}
	wg.Wait()
	pool.Close()

	assert.Equal(t, int64(2000), counter.Load())
}

func BenchmarkWorkerPool_Submit(b *testing.B) {
	pool, err := NewWorkerPool(8, 0)
	require.NoError(b, err)
	defer pool.Close()

	task := TaskFunc(func() {})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.Submit(task)
	}
}

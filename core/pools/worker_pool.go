package pools

import (
	"container/list"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// Task is a unit of work queued by the reactor. The queue holds a
// non-owning reference; the task's owner keeps it alive.
type Task interface {
	Process()
}

// TaskFunc adapts a plain function to Task
type TaskFunc func()

// Process calls f
func (f TaskFunc) Process() {
	f()
}

var ErrInvalidPoolSize = errors.New("pools: worker count must be positive")

// WorkerPool is a fixed set of OS-thread-locked workers draining a bounded
// FIFO queue. The queue is guarded by one mutex; workers wait on a
// condition variable tied to it, so Close can wake every blocked worker.
type WorkerPool struct {
	numWorkers int
	capacity   int

	mu     sync.Mutex
	ready  *sync.Cond
	queue  *list.List
	closed bool
	wg     sync.WaitGroup

	// Statistics
	stats struct {
		tasksSubmitted atomic.Uint64
		tasksCompleted atomic.Uint64
		tasksRejected  atomic.Uint64
		maxDepth       atomic.Int64
	}
}

// NewWorkerPool starts numWorkers workers. capacity bounds the number of
// queued tasks; 0 means unbounded.
func NewWorkerPool(numWorkers, capacity int) (*WorkerPool, error) {
	if numWorkers <= 0 {
		return nil, ErrInvalidPoolSize
	}
	if capacity < 0 {
		capacity = 0
	}

	pool := &WorkerPool{
		numWorkers: numWorkers,
		capacity:   capacity,
		queue:      list.New(),
	}
	pool.ready = sync.NewCond(&pool.mu)

	pool.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go pool.run()
	}

	return pool, nil
}

// Submit enqueues a task without blocking. It reports false if the pool is
// closed or the queue already holds capacity tasks.
func (p *WorkerPool) Submit(task Task) bool {
	if task == nil {
		return false
	}

	p.mu.Lock()
	if p.closed || (p.capacity > 0 && p.queue.Len() >= p.capacity) {
		p.mu.Unlock()
		p.stats.tasksRejected.Add(1)
		return false
	}
	p.queue.PushBack(task)
	depth := int64(p.queue.Len())
	p.mu.Unlock()

	p.stats.tasksSubmitted.Add(1)
	p.observeDepth(depth)
	p.ready.Signal()
	return true
}

func (p *WorkerPool) observeDepth(depth int64) {
	for {
		cur := p.stats.maxDepth.Load()
		if depth <= cur || p.stats.maxDepth.CompareAndSwap(cur, depth) {
			return
		}
	}
}

// next blocks until a task is available or the pool is closed and drained
func (p *WorkerPool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.queue.Len() == 0 {
		if p.closed {
			return nil, false
		}
		p.ready.Wait()
	}
	return p.queue.Remove(p.queue.Front()).(Task), true
}

// run is the main loop for a worker
func (p *WorkerPool) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer p.wg.Done()

	for {
		task, ok := p.next()
		if !ok {
			return
		}
		// the queue lock is not held while processing
		task.Process()
		p.stats.tasksCompleted.Add(1)
	}
}

// Pending returns the number of queued tasks
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.queue.Len()
}

// Close stops accepting tasks, lets the workers drain the queue and waits
// for them to exit
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.ready.Broadcast()
	p.wg.Wait()
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		Capacity:       p.capacity,
		TasksSubmitted: p.stats.tasksSubmitted.Load(),
		TasksCompleted: p.stats.tasksCompleted.Load(),
		TasksRejected:  p.stats.tasksRejected.Load(),
		TasksPending:   p.Pending(),
		MaxQueueDepth:  int(p.stats.maxDepth.Load()),
	}
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int    `json:"num_workers"`
	Capacity       int    `json:"capacity"`
	TasksSubmitted uint64 `json:"tasks_submitted"`
	TasksCompleted uint64 `json:"tasks_completed"`
	TasksRejected  uint64 `json:"tasks_rejected"`
	TasksPending   int    `json:"tasks_pending"`
	MaxQueueDepth  int    `json:"max_queue_depth"`
}

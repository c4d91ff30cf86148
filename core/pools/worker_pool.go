package pools

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// Task represents a unit of work
type Task func()

var ErrPoolClosed = errors.New("worker pool closed")

// WorkerPool runs tasks on a fixed set of goroutines fed by a bounded
// queue. A task keeps its worker until it returns, so long running
// tasks such as connection loops bound concurrency to the pool size.
type WorkerPool struct {
	numWorkers int
	queue      chan Task
	done       chan struct{}
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	stats struct {
		submitted atomic.Uint64
		completed atomic.Uint64
		rejected  atomic.Uint64
		busy      atomic.Int64
	}
}

// NewWorkerPool starts numWorkers goroutines with a queue of queueSize
// pending tasks. Non-positive values default to NumCPU and numWorkers.
func NewWorkerPool(numWorkers, queueSize int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = numWorkers
	}

	p := &WorkerPool{
		numWorkers: numWorkers,
		queue:      make(chan Task, queueSize),
		done:       make(chan struct{}),
	}

	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.run()
	}

	return p
}

// Submit queues task, blocking while the queue is full
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.stats.rejected.Add(1)
		return ErrPoolClosed
	}

	select {
	case p.queue <- task:
		p.stats.submitted.Add(1)
		return nil
	case <-ctx.Done():
		p.stats.rejected.Add(1)
		return ctx.Err()
	}
}

// TrySubmit queues task only if there is room
func (p *WorkerPool) TrySubmit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.stats.rejected.Add(1)
		return false
	}

	select {
	case p.queue <- task:
		p.stats.submitted.Add(1)
		return true
	default:
		p.stats.rejected.Add(1)
		return false
	}
}

func (p *WorkerPool) run() {
	defer p.wg.Done()

	for {
		select {
		case task := <-p.queue:
			p.execute(task)
		case <-p.done:
			// queued tasks still run so their resources get released
			for {
				select {
				case task := <-p.queue:
					p.execute(task)
				default:
					return
				}
			}
		}
	}
}

func (p *WorkerPool) execute(task Task) {
	p.stats.busy.Add(1)
	defer func() {
		p.stats.busy.Add(-1)
		p.stats.completed.Add(1)
	}()
	task()
}

// Close stops accepting tasks and waits for queued and running ones
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int
	Busy           int64
	TasksSubmitted uint64
	TasksCompleted uint64
	TasksPending   int
	TasksRejected  uint64
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		Busy:           p.stats.busy.Load(),
		TasksSubmitted: p.stats.submitted.Load(),
		TasksCompleted: p.stats.completed.Load(),
		TasksPending:   len(p.queue),
		TasksRejected:  p.stats.rejected.Load(),
	}
}

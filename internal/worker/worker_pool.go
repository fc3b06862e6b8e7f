// ============================================================================
// replydraft Worker Pool - concurrent task executor
// ============================================================================
//
// Package: internal/worker
// File: worker_pool.go
// Purpose: manages worker goroutines, task distribution and result collection
//
// Architecture:
//   ┌─────────────┐
//   │ Controller  │ --Submit()--> taskCh
//   └─────────────┘
//         ↑
//   ReceiveResult()
//         ↑
//   ┌─────────────┐
//   │   Pool      │
//   │  ┌────────┐ │
//   │  │Worker 1│←── taskCh
//   │  │Worker 2│←── taskCh   ──→ resultCh
//   │  │Worker N│←── taskCh
//   │  └────────┘ │
//   └─────────────┘
//
// Lifecycle:
//   1. NewPool(buffer)   - create channels and the pool context
//   2. Start(n)          - launch n workers
//   3. Submit(task)      - enqueue, blocks while the buffer is full
//   4. ReceiveResult()   - read the next finished task
//   5. Stop()            - cancel the pool context, wait for workers
//                          up to the stop grace period
//
// Shutdown:
//   taskCh is never closed. Workers leave on stopCh, so a Submit racing
//   with Stop returns ErrPoolClosed instead of sending on a closed channel.
//   Tasks still buffered at Stop are dropped; their jobs were never marked
//   running and the controller cancels them.
//   A task that ignores its context cannot hold Stop past the grace
//   period. Its worker is abandoned and resultCh is closed once it exits.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultStopGrace bounds how long Stop waits for busy workers
const DefaultStopGrace = 5 * time.Second

var (
	// ErrPoolClosed is returned once Stop has been called
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted is returned before Start
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolStarted is returned by a second Start
	ErrPoolStarted = errors.New("worker pool already started")
)

// Pool runs tasks on a fixed set of workers
type Pool struct {
	workers  []*Worker
	taskCh   chan Task
	resultCh chan Result
	stopCh   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopped  bool
	grace    time.Duration
	mu       sync.Mutex
}

// NewPool creates a pool whose task and result channels hold bufferSize items
func NewPool(bufferSize int) *Pool {
	if bufferSize < 0 {
		bufferSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:  make([]*Worker, 0),
		taskCh:   make(chan Task, bufferSize),
		resultCh: make(chan Result, bufferSize),
		stopCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		grace:    DefaultStopGrace,
	}
}

// SetStopGrace changes how long Stop waits for workers; d <= 0 restores
// DefaultStopGrace
func (p *Pool) SetStopGrace(d time.Duration) {
	if d <= 0 {
		d = DefaultStopGrace
	}
	p.mu.Lock()
	p.grace = d
	p.mu.Unlock()
}

// Start launches workerCount workers (at least one)
func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolStarted
	}
	if p.stopped {
		return ErrPoolClosed
	}
	if workerCount <= 0 {
		workerCount = 1
	}

	for i := 0; i < workerCount; i++ {
		w := newWorker(i, p.ctx, p.taskCh, p.resultCh, p.stopCh)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run()
		}(w)
	}

	p.started = true
	log.Info("worker pool started", "workers", workerCount, "buffer", cap(p.taskCh))
	return nil
}

// Submit enqueues a task. It blocks while the task buffer is full and
// returns ErrPoolClosed if the pool stops meanwhile.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrPoolNotStarted
	}
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case p.taskCh <- task:
		return nil
	case <-p.stopCh:
		return ErrPoolClosed
	}
}

// ReceiveResult blocks for the next result. After Stop it returns
// ErrPoolClosed.
func (p *Pool) ReceiveResult() (Result, error) {
	select {
	case result, ok := <-p.resultCh:
		if !ok {
			return Result{}, ErrPoolClosed
		}
		return result, nil
	case <-p.stopCh:
		return Result{}, ErrPoolClosed
	}
}

// Results exposes the result channel for select loops. It is closed after
// Stop once every worker has exited.
func (p *Pool) Results() <-chan Result {
	return p.resultCh
}

// Stop cancels running tasks and waits for every worker to exit, or for
// the stop grace period, whichever comes first. It reports whether all
// workers exited in time.
func (p *Pool) Stop() bool {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		p.cancel()
		return true
	}
	p.stopped = true
	grace := p.grace
	p.mu.Unlock()

	p.cancel()
	close(p.stopCh)

	exited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(p.resultCh)
		close(exited)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-exited:
		log.Info("worker pool stopped")
		return true
	case <-timer.C:
		log.Warn("worker pool stop timed out, abandoning busy workers", "grace", grace)
		return false
	}
}

// GetWorkerCount returns the number of started workers
func (p *Pool) GetWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// IsStarted reports whether Start has succeeded
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

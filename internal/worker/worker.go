// ============================================================================
// replydraft Worker - task execution unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Purpose: runs tasks from the shared task channel, one at a time
//
// Loop:
//   1. Receive a task from taskCh, or exit when the pool stops
//   2. Derive a context from the pool context with the task's timeout
//   3. Call task.Execute, converting a panic into an error
//   4. Send the result to resultCh (blocks until read or pool stop)
//
// Timeout Control:
//   A task that overruns its timeout sees ctx.Done() and should return
//   ctx.Err(). If it returns success after the deadline anyway, the result
//   is reported as context.DeadlineExceeded.
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

var log = slog.Default()

// Worker executes tasks in its own goroutine
type Worker struct {
	id       int
	ctx      context.Context // pool context, cancelled on Stop
	taskCh   <-chan Task
	resultCh chan<- Result
	stopCh   <-chan struct{}
}

func newWorker(id int, ctx context.Context, taskCh <-chan Task, resultCh chan<- Result, stopCh <-chan struct{}) *Worker {
	return &Worker{
		id:       id,
		ctx:      ctx,
		taskCh:   taskCh,
		resultCh: resultCh,
		stopCh:   stopCh,
	}
}

// Run is the worker main loop. It returns when the pool stops.
func (w *Worker) Run() {
	for {
		select {
		case <-w.stopCh:
			return
		case task := <-w.taskCh:
			result := w.runTask(task)
			select {
			case w.resultCh <- result:
			case <-w.stopCh:
				log.Debug("worker dropping result on shutdown", "worker", w.id, "job_id", task.ID)
				return
			}
		}
	}
}

func (w *Worker) runTask(task Task) Result {
	start := time.Now()

	ctx, cancel := w.taskContext(task.Timeout)
	defer cancel()

	value, panicked, err := w.execute(ctx, task)
	if err == nil && ctx.Err() == context.DeadlineExceeded {
		err = ctx.Err()
		value = nil
	}

	return Result{
		JobID:    task.ID,
		Kind:     task.Kind,
		Value:    value,
		Err:      err,
		Duration: time.Since(start),
		Panicked: panicked,
	}
}

func (w *Worker) taskContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(w.ctx, timeout)
	}
	return context.WithCancel(w.ctx)
}

// execute calls the task body and recovers a panic into an error
func (w *Worker) execute(ctx context.Context, task Task) (value any, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "worker", w.id, "job_id", task.ID, "panic", r, "stack", string(debug.Stack()))
			value, panicked, err = nil, true, fmt.Errorf("task panicked: %v", r)
		}
	}()

	if task.Execute == nil {
		return nil, false, fmt.Errorf("task %s has no executor", task.ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	value, err = task.Execute(ctx)
	return value, false, err
}

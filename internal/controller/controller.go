// ============================================================================
// replydraft Controller - job system coordinator
// ============================================================================
//
// Package: internal/controller
// File: controller.go
// Purpose: exposes Submit/GetStatus/Cancel and drives jobs through the
//          registry and the worker pool
//
// Components:
//   - Registry: job table and state machine (internal/jobmanager)
//   - Pool: bounded set of workers (internal/worker)
//   - Snapshot: terminal jobs persisted across restarts (internal/snapshot)
//   - Handlers: one per job kind, validate and execute payloads
//
// Loops (5 goroutines):
//   1. Dispatch Loop - pops PENDING ids and submits tasks to the pool
//   2. Result Loop   - turns worker results into terminal outcomes
//   3. Timeout Loop  - forces RUNNING jobs past their deadline to FAILED
//   4. Evict Loop    - drops terminal jobs older than the retention window
//   5. Snapshot Loop - periodically persists terminal jobs
//
// Ordering:
//   A task moves its job to RUNNING only when a worker picks it up. If the
//   job was cancelled while queued, MarkRunning fails and the task is
//   skipped. Every terminal write goes through Registry.Finalize or
//   Registry.RequestCancel, so the first terminal outcome wins.
//
// ============================================================================

package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChuLiYu/replydraft/internal/jobmanager"
	"github.com/ChuLiYu/replydraft/internal/metrics"
	"github.com/ChuLiYu/replydraft/internal/snapshot"
	"github.com/ChuLiYu/replydraft/internal/worker"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

var log = slog.Default()

var (
	// ErrControllerStopped is returned by Submit after Stop.
	ErrControllerStopped = errors.New("controller is stopped")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("controller already started")

	// errNotStarted marks a task whose job left PENDING before a worker
	// reached it; its result carries no outcome.
	errNotStarted = errors.New("job no longer pending")
)

// Handler validates and executes the payload of one job kind.
type Handler interface {
	// Validate rejects malformed payloads synchronously at Submit.
	Validate(payload any) error
	// Execute does the work. progress records a human-readable step on the
	// job. The returned value must be JSON-serialisable.
	Execute(ctx context.Context, payload any, progress func(string)) (any, error)
}

// Config controls the controller and its loops. Zero values take defaults.
type Config struct {
	WorkerCount          int           // pool size
	QueueSize            int           // task and result buffer
	JobTimeout           time.Duration // max execution time per job
	Retention            time.Duration // how long terminal jobs stay pollable
	EvictInterval        time.Duration
	TimeoutCheckInterval time.Duration
	SnapshotInterval     time.Duration // 0 disables periodic snapshots
	SnapshotPath         string        // "" disables persistence
	Shards               int           // registry lock shards
	ShutdownGrace        time.Duration // how long Stop waits for busy workers
}

func (c Config) withDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	if c.EvictInterval <= 0 {
		c.EvictInterval = time.Minute
	}
	if c.TimeoutCheckInterval <= 0 {
		c.TimeoutCheckInterval = time.Second
	}
	if c.Shards <= 0 {
		c.Shards = 16
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = worker.DefaultStopGrace
	}
	return c
}

// Option customises a Controller.
type Option func(*Controller)

// WithMetrics records job metrics on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = collector }
}

// WithClock replaces the time source of the controller and its registry.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
		c.registry.SetClock(now)
	}
}

// WithIDGenerator replaces uuid job ids.
func WithIDGenerator(next func() types.JobID) Option {
	return func(c *Controller) { c.newID = next }
}

// Controller coordinates the registry, the pool and the handlers.
type Controller struct {
	registry *jobmanager.Registry
	pool     *worker.Pool
	snapshot *snapshot.Manager
	handlers map[types.JobKind]Handler
	metrics  *metrics.Collector
	config   Config

	payloads sync.Map // types.JobID -> payload, until dispatched or cancelled
	notifyCh chan struct{}
	stopCh   chan struct{}

	mu        sync.Mutex
	started   bool
	stopped   bool
	startTime time.Time
	loopWg    sync.WaitGroup

	now   func() time.Time
	newID func() types.JobID
}

// NewController builds a controller. handlers must cover every kind that
// Submit will receive.
func NewController(config Config, handlers map[types.JobKind]Handler, opts ...Option) (*Controller, error) {
	if len(handlers) == 0 {
		return nil, errors.New("controller needs at least one job handler")
	}
	config = config.withDefaults()

	c := &Controller{
		registry: jobmanager.NewRegistry(config.Shards),
		pool:     worker.NewPool(config.QueueSize),
		snapshot: snapshot.NewManager(config.SnapshotPath),
		handlers: handlers,
		config:   config,
		notifyCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		now:      time.Now,
		newID:    func() types.JobID { return types.JobID(uuid.NewString()) },
	}
	c.pool.SetStopGrace(config.ShutdownGrace)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start restores the snapshot, starts the pool and launches the loops.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if c.stopped {
		c.mu.Unlock()
		return ErrControllerStopped
	}
	c.started = true
	c.startTime = c.now()
	c.mu.Unlock()

	if err := c.loadSnapshot(); err != nil {
		return fmt.Errorf("loadSnapshot failed: %w", err)
	}

	if err := c.pool.Start(c.config.WorkerCount); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	c.loopWg.Add(4)
	go c.dispatchLoop()
	go c.resultLoop()
	go c.timeoutLoop()
	go c.evictLoop()
	if c.config.SnapshotInterval > 0 && c.config.SnapshotPath != "" {
		c.loopWg.Add(1)
		go c.snapshotLoop()
	}

	log.Info("Controller started",
		"workers", c.config.WorkerCount,
		"job_timeout", c.config.JobTimeout,
		"retention", c.config.Retention)
	return nil
}

func (c *Controller) loadSnapshot() error {
	start := time.Now()
	data, err := c.snapshot.Load()
	if err != nil {
		return err
	}
	restored := c.registry.Restore(data)
	elapsed := time.Since(start)
	c.metrics.SetRestoreTime(elapsed.Seconds())
	if restored > 0 {
		log.Info("Snapshot restored", "jobs", restored, "duration", elapsed)
	}
	return nil
}

// ============================================================================
// Public operations
// ============================================================================

// Submit validates payload against kind and registers a PENDING job. It
// never waits for execution. A malformed payload returns a
// *types.ValidationError and creates no job.
func (c *Controller) Submit(kind types.JobKind, payload any) (types.JobID, error) {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return "", ErrControllerStopped
	}

	handler, ok := c.handlers[kind]
	if !ok {
		return "", types.NewValidationError("kind", fmt.Sprintf("unsupported job kind %q", kind))
	}
	if err := handler.Validate(payload); err != nil {
		return "", err
	}

	job := types.Job{
		ID:   c.newID(),
		Kind: kind,
	}
	if owned, ok := payload.(interface{ Owner() string }); ok {
		job.UserID = owned.Owner()
	}

	c.payloads.Store(job.ID, payload)
	if err := c.registry.Create(job); err != nil {
		c.payloads.Delete(job.ID)
		return "", fmt.Errorf("failed to register job: %w", err)
	}
	c.metrics.RecordSubmitted(string(kind))
	log.Debug("Job submitted", "job_id", job.ID, "kind", kind, "user_id", job.UserID)

	c.notify()
	return job.ID, nil
}

// GenerateResponse submits a reply-drafting job. The draft is read back
// from the SUCCEEDED job with Job.DecodeResult.
func (c *Controller) GenerateResponse(req types.GenerationRequest) (types.JobID, error) {
	return c.Submit(types.KindGenerateResponse, req)
}

// GetStatus returns a snapshot of the job. Unknown or evicted ids return an
// error matching types.ErrNotFound.
func (c *Controller) GetStatus(id types.JobID) (types.Job, error) {
	return c.registry.Get(id)
}

// Cancel cancels a PENDING or RUNNING job. Cancelling a terminal job is a
// no-op and returns its unchanged snapshot.
func (c *Controller) Cancel(id types.JobID) (types.Job, error) {
	job, applied, err := c.registry.RequestCancel(id)
	if err != nil {
		return job, err
	}
	if applied {
		c.payloads.Delete(id)
		c.metrics.RecordFinished(string(job.Kind), string(types.StateCancelled))
		log.Info("Job cancelled", "job_id", id, "kind", job.Kind)
	}
	return job, nil
}

// List returns jobs matching filter, oldest first.
func (c *Controller) List(filter jobmanager.Filter) []types.Job {
	return c.registry.List(filter)
}

// Stats reports job counts per state and pool information.
func (c *Controller) Stats() map[string]any {
	c.mu.Lock()
	startTime := c.startTime
	c.mu.Unlock()

	stats := c.registry.Stats()
	out := map[string]any{
		"workers": c.config.WorkerCount,
		"uptime":  "0s",
	}
	if !startTime.IsZero() {
		out["uptime"] = c.now().Sub(startTime).Round(time.Second).String()
	}
	for state, n := range stats {
		out[state] = n
	}
	return out
}

// Stop shuts the controller down:
//  1. close(stopCh) so the loops return
//  2. pool.Stop() cancels running tasks and waits up to ShutdownGrace
//  3. loopWg.Wait() for every loop
//  4. jobs that never finished are cancelled (PENDING) or failed (RUNNING)
//  5. a final snapshot is written
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	c.mu.Unlock()

	log.Info("Stopping controller...")

	close(c.stopCh)
	if !c.pool.Stop() {
		log.Warn("Workers still busy after shutdown grace", "grace", c.config.ShutdownGrace)
	}
	c.loopWg.Wait()

	c.abandonUnfinished()

	if started {
		if err := c.takeSnapshot(); err != nil {
			log.Error("Failed to take final snapshot", "error", err)
		}
	}
	log.Info("Controller stopped")
}

func (c *Controller) abandonUnfinished() {
	for _, job := range c.registry.List(jobmanager.Filter{}) {
		switch job.State {
		case types.StatePending:
			if _, err := c.Cancel(job.ID); err != nil {
				log.Warn("Failed to cancel pending job on shutdown", "job_id", job.ID, "error", err)
			}
		case types.StateRunning:
			c.finalize(job.ID, job.Kind, jobmanager.Outcome{
				State: types.StateFailed,
				Err:   &types.ErrorDescriptor{Kind: types.KindExecution, Message: "interrupted by shutdown"},
			})
		}
	}
}

// ============================================================================
// Loops
// ============================================================================

func (c *Controller) notify() {
	select {
	case c.notifyCh <- struct{}{}:
	default:
	}
}

// dispatchLoop hands PENDING jobs to the pool. It wakes on Submit and on a
// slow ticker as a fallback.
func (c *Controller) dispatchLoop() {
	defer c.loopWg.Done()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			log.Info("Dispatch loop stopped")
			return
		case <-c.notifyCh:
		case <-ticker.C:
		}

		for {
			select {
			case <-c.stopCh:
				log.Info("Dispatch loop stopped")
				return
			default:
			}

			id, ok := c.registry.PopPending()
			if !ok {
				break
			}
			if err := c.dispatch(id); err != nil {
				if errors.Is(err, worker.ErrPoolClosed) {
					log.Info("Dispatch loop stopped")
					return
				}
				log.Error("Failed to dispatch job", "job_id", id, "error", err)
			}
		}
	}
}

func (c *Controller) dispatch(id types.JobID) error {
	// The task closure owns the payload from here on.
	raw, ok := c.payloads.LoadAndDelete(id)
	if !ok {
		// Cancelled between PopPending and here.
		return nil
	}
	job, err := c.registry.Get(id)
	if err != nil {
		return err
	}
	handler := c.handlers[job.Kind]
	payload := raw

	task := worker.Task{
		ID:      id,
		Kind:    job.Kind,
		Timeout: c.config.JobTimeout,
		Execute: func(ctx context.Context) (any, error) {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			if _, err := c.registry.MarkRunning(id, c.config.JobTimeout, cancel); err != nil {
				return nil, errNotStarted
			}
			log.Debug("Job running", "job_id", id, "kind", job.Kind)

			return handler.Execute(ctx, payload, func(msg string) {
				if err := c.registry.ReportProgress(id, msg); err == nil {
					log.Debug("Job progress", "job_id", id, "progress", msg)
				}
			})
		},
	}

	if err := c.pool.Submit(task); err != nil {
		return err
	}
	c.metrics.RecordDispatched(string(job.Kind))
	return nil
}

// resultLoop runs until the pool closes its result channel.
func (c *Controller) resultLoop() {
	defer c.loopWg.Done()
	for {
		result, err := c.pool.ReceiveResult()
		if err != nil {
			if errors.Is(err, worker.ErrPoolClosed) {
				log.Info("Result loop stopped")
				return
			}
			log.Error("Failed to receive result", "error", err)
			continue
		}
		c.handleResult(result)
	}
}

func (c *Controller) handleResult(result worker.Result) {
	if errors.Is(result.Err, errNotStarted) {
		return
	}

	job, err := c.registry.Get(result.JobID)
	if err != nil {
		log.Warn("Result for unknown job", "job_id", result.JobID, "error", err)
		return
	}
	if job.State.IsTerminal() {
		// Cancelled or timed out while the worker was still running.
		log.Debug("Discarding late result", "job_id", job.ID, "state", job.State)
		return
	}
	c.metrics.ObserveDuration(string(job.Kind), result.Duration.Seconds())

	c.finalize(job.ID, job.Kind, c.outcomeOf(result))
}

// outcomeOf classifies a worker result into a terminal outcome.
func (c *Controller) outcomeOf(result worker.Result) jobmanager.Outcome {
	if result.Err == nil {
		raw, err := json.Marshal(result.Value)
		if err != nil {
			return jobmanager.Outcome{
				State: types.StateFailed,
				Err:   &types.ErrorDescriptor{Kind: types.KindExecution, Message: fmt.Sprintf("encode result: %v", err)},
			}
		}
		return jobmanager.Outcome{State: types.StateSucceeded, Result: raw}
	}

	var desc *types.ErrorDescriptor
	switch {
	case result.Panicked:
		desc = &types.ErrorDescriptor{Kind: types.KindExecution, Message: result.Err.Error()}
	case errors.Is(result.Err, context.DeadlineExceeded):
		desc = &types.ErrorDescriptor{Kind: types.KindTimeout, Message: fmt.Sprintf("job exceeded %s", c.config.JobTimeout)}
	case errors.Is(result.Err, context.Canceled):
		desc = &types.ErrorDescriptor{Kind: types.KindExecution, Message: "interrupted by shutdown"}
	default:
		desc = types.Describe(result.Err)
	}
	return jobmanager.Outcome{State: types.StateFailed, Err: desc}
}

func (c *Controller) finalize(id types.JobID, kind types.JobKind, out jobmanager.Outcome) {
	job, applied, err := c.registry.Finalize(id, out)
	if err != nil {
		log.Error("Failed to finalize job", "job_id", id, "error", err)
		return
	}
	if !applied {
		return
	}
	c.metrics.RecordFinished(string(kind), string(job.State))
	if job.State == types.StateFailed {
		log.Warn("Job failed", "job_id", id, "kind", kind, "error_kind", job.Error.Kind, "error", job.Error.Message)
		return
	}
	log.Debug("Job finished", "job_id", id, "kind", kind, "state", job.State)
}

// timeoutLoop forces RUNNING jobs past their deadline to FAILED/Timeout.
// The worker's context is cancelled by the terminal transition.
func (c *Controller) timeoutLoop() {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.config.TimeoutCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			log.Info("Timeout loop stopped")
			return
		case <-ticker.C:
			c.expireOverdue()
			c.metrics.UpdateJobStats(c.registry.Stats())
		}
	}
}

func (c *Controller) expireOverdue() {
	for _, id := range c.registry.Expired(c.now()) {
		job, err := c.registry.Get(id)
		if err != nil {
			continue
		}
		c.finalize(id, job.Kind, jobmanager.Outcome{
			State: types.StateFailed,
			Err:   &types.ErrorDescriptor{Kind: types.KindTimeout, Message: fmt.Sprintf("job exceeded %s", c.config.JobTimeout)},
		})
	}
}

// evictLoop removes terminal jobs after the retention window.
func (c *Controller) evictLoop() {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.config.EvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			log.Info("Evict loop stopped")
			return
		case <-ticker.C:
			c.evict()
		}
	}
}

func (c *Controller) evict() int {
	n := c.registry.Evict(c.now(), c.config.Retention)
	if n > 0 {
		c.metrics.RecordEvicted(n)
		log.Debug("Evicted jobs", "count", n)
	}
	return n
}

// snapshotLoop persists terminal jobs periodically.
func (c *Controller) snapshotLoop() {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			log.Info("Snapshot loop stopped")
			return
		case <-ticker.C:
			if err := c.takeSnapshot(); err != nil {
				log.Error("Failed to take snapshot", "error", err)
			}
		}
	}
}

func (c *Controller) takeSnapshot() error {
	start := time.Now()
	data := c.registry.Snapshot()
	if err := c.snapshot.Write(data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	log.Debug("Snapshot taken", "duration", time.Since(start), "jobs", len(data.Jobs))
	return nil
}

// ============================================================================
// replydraft Job Registry - job table and state machine
// ============================================================================
//
// Package: internal/jobmanager
// File: job_manager.go
// Purpose: single authority for job identity, state and results
//
// State machine:
//   PENDING ──MarkRunning──▶ RUNNING ──Finalize──▶ SUCCEEDED | FAILED
//      │                        │
//      └──────RequestCancel─────┴──────────────▶ CANCELLED
//
//   Terminal states (SUCCEEDED, FAILED, CANCELLED) are final. The first
//   terminal write wins; later finalize calls are no-ops.
//
// Locking:
//   The table is split into shards, each guarding only its map with an
//   RWMutex. Every job entry carries its own mutex, and all mutation goes
//   through transition(), which performs read-modify-write under that
//   per-job lock. Unrelated jobs never contend on the same lock.
//
//   The pending FIFO has its own small mutex; it only holds ids, so a stale
//   id (cancelled or evicted job) is skipped by PopPending.
//
// ============================================================================

package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/replydraft/pkg/types"
)

var (
	// ErrDuplicateJob is returned by Create for an id already in the table.
	ErrDuplicateJob = errors.New("job already exists")
	// ErrJobNotFound wraps types.ErrNotFound for unknown or evicted ids.
	ErrJobNotFound = fmt.Errorf("job %w", types.ErrNotFound)
	// ErrIllegalTransition is returned when the state machine forbids a move.
	ErrIllegalTransition = errors.New("illegal job state transition")
)

const defaultShards = 16

// legalTransitions is the transition graph. Terminal states have no entry.
var legalTransitions = map[types.JobState][]types.JobState{
	types.StatePending: {types.StateRunning, types.StateCancelled},
	types.StateRunning: {types.StateSucceeded, types.StateFailed, types.StateCancelled},
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to types.JobState) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Outcome is what a worker (or the timeout loop) reports for a finished job.
type Outcome struct {
	State  types.JobState
	Result []byte
	Err    *types.ErrorDescriptor
}

// Filter selects jobs for List. Zero fields match everything.
type Filter struct {
	UserID string
	State  types.JobState
	Kind   types.JobKind
}

type entry struct {
	mu     sync.Mutex
	job    types.Job
	cancel context.CancelFunc
}

type shard struct {
	mu      sync.RWMutex
	entries map[types.JobID]*entry
}

// Registry owns every job for its whole lifecycle.
type Registry struct {
	shards []*shard

	queueMu sync.Mutex
	queue   []types.JobID

	now func() time.Time
}

// NewRegistry creates a registry with shardCount shards (16 when <= 0).
func NewRegistry(shardCount int) *Registry {
	if shardCount <= 0 {
		shardCount = defaultShards
	}
	r := &Registry{
		shards: make([]*shard, shardCount),
		queue:  make([]types.JobID, 0),
		now:    time.Now,
	}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[types.JobID]*entry)}
	}
	return r
}

// SetClock replaces the time source (tests).
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Registry) shardFor(id types.JobID) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

func (r *Registry) lookup(id types.JobID) (*entry, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	return e, ok
}

// Create registers job in PENDING and appends it to the pending FIFO.
func (r *Registry) Create(job types.Job) error {
	s := r.shardFor(job.ID)
	s.mu.Lock()
	if _, exists := s.entries[job.ID]; exists {
		s.mu.Unlock()
		return ErrDuplicateJob
	}
	job.State = types.StatePending
	job.SubmittedAt = r.now()
	job.StartedAt, job.CompletedAt, job.Deadline = nil, nil, nil
	job.Result, job.Error, job.CancelRequested = nil, nil, false
	s.entries[job.ID] = &entry{job: job}
	s.mu.Unlock()

	r.queueMu.Lock()
	r.queue = append(r.queue, job.ID)
	r.queueMu.Unlock()
	return nil
}

// PopPending removes the oldest id still in PENDING from the FIFO.
// It does not change the job's state; the worker does that via MarkRunning.
func (r *Registry) PopPending() (types.JobID, bool) {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	for len(r.queue) > 0 {
		id := r.queue[0]
		r.queue = r.queue[1:]
		if e, ok := r.lookup(id); ok {
			e.mu.Lock()
			pending := e.job.State == types.StatePending
			e.mu.Unlock()
			if pending {
				return id, true
			}
		}
	}
	return "", false
}

// transition is the only place job state is written after Create.
// mutate runs under the job's lock after the edge has been checked; when to
// equals the current state it is a same-state update (progress reports).
// Entering a terminal state releases the worker's context.
// A non-empty from additionally requires the job to currently be in it.
func (r *Registry) transition(id types.JobID, from, to types.JobState, mutate func(*entry)) (types.Job, error) {
	e, ok := r.lookup(id)
	if !ok {
		return types.Job{}, ErrJobNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.job.State
	if from != "" && cur != from {
		return cloneJob(e.job), fmt.Errorf("%w: %s is not %s", ErrIllegalTransition, cur, from)
	}
	if cur != to && !CanTransition(cur, to) {
		return cloneJob(e.job), fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cur, to)
	}
	if cur == to && cur.IsTerminal() {
		return cloneJob(e.job), fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, cur)
	}
	if mutate != nil {
		mutate(e)
	}
	e.job.State = to
	if to.IsTerminal() {
		now := r.now()
		e.job.CompletedAt = &now
		e.job.Deadline = nil
		if e.cancel != nil {
			// Stops a worker still running after a cancel or forced timeout.
			e.cancel()
			e.cancel = nil
		}
	}
	return cloneJob(e.job), nil
}

// MarkRunning moves a PENDING job to RUNNING, stamping its start time and
// deadline and remembering cancel so RequestCancel can stop the worker.
func (r *Registry) MarkRunning(id types.JobID, timeout time.Duration, cancel context.CancelFunc) (types.Job, error) {
	return r.transition(id, types.StatePending, types.StateRunning, func(e *entry) {
		now := r.now()
		e.job.StartedAt = &now
		if timeout > 0 {
			deadline := now.Add(timeout)
			e.job.Deadline = &deadline
		}
		e.cancel = cancel
	})
}

// ReportProgress records a progress message on a RUNNING job.
func (r *Registry) ReportProgress(id types.JobID, msg string) error {
	_, err := r.transition(id, types.StateRunning, types.StateRunning, func(e *entry) {
		e.job.Progress = msg
	})
	return err
}

// Finalize writes a terminal outcome. The first terminal write wins: on an
// already terminal job it returns the existing snapshot with applied=false
// and no error. A cancelled job therefore stays CANCELLED and the late
// result is discarded.
func (r *Registry) Finalize(id types.JobID, out Outcome) (job types.Job, applied bool, err error) {
	if !out.State.IsTerminal() {
		return types.Job{}, false, fmt.Errorf("%w: %s is not terminal", ErrIllegalTransition, out.State)
	}

	job, err = r.transition(id, "", out.State, func(e *entry) {
		switch out.State {
		case types.StateSucceeded:
			e.job.Result = append([]byte(nil), out.Result...)
		case types.StateFailed:
			e.job.Error = out.Err
			if e.job.Error == nil {
				e.job.Error = &types.ErrorDescriptor{Kind: types.KindExecution, Message: "unknown failure"}
			}
		}
	})
	if err != nil {
		if errors.Is(err, ErrIllegalTransition) && job.State.IsTerminal() {
			return job, false, nil
		}
		return job, false, err
	}
	return job, true, nil
}

// RequestCancel cancels a job. PENDING jobs become CANCELLED immediately.
// RUNNING jobs are flagged, finalized as CANCELLED and their worker context
// is cancelled so it can stop at the next check. Terminal jobs are left
// untouched and applied is false.
func (r *Registry) RequestCancel(id types.JobID) (job types.Job, applied bool, err error) {
	job, err = r.transition(id, "", types.StateCancelled, func(e *entry) {
		e.job.CancelRequested = true
		e.job.Result = nil
	})
	if err != nil {
		if errors.Is(err, ErrIllegalTransition) && job.State.IsTerminal() {
			return job, false, nil
		}
		return job, false, err
	}
	return job, true, nil
}

// Get returns a copy of the job.
func (r *Registry) Get(id types.JobID) (types.Job, error) {
	e, ok := r.lookup(id)
	if !ok {
		return types.Job{}, ErrJobNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneJob(e.job), nil
}

// List returns copies of the jobs matching f, oldest submission first.
func (r *Registry) List(f Filter) []types.Job {
	var out []types.Job
	r.each(func(job types.Job) {
		if f.UserID != "" && job.UserID != f.UserID {
			return
		}
		if f.State != "" && job.State != f.State {
			return
		}
		if f.Kind != "" && job.Kind != f.Kind {
			return
		}
		out = append(out, job)
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Expired returns RUNNING jobs whose deadline is before now.
func (r *Registry) Expired(now time.Time) []types.JobID {
	var ids []types.JobID
	r.each(func(job types.Job) {
		if job.State == types.StateRunning && job.Deadline != nil && job.Deadline.Before(now) {
			ids = append(ids, job.ID)
		}
	})
	return ids
}

// Evict removes terminal jobs completed more than retention before now and
// returns how many were removed.
func (r *Registry) Evict(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)
	removed := 0
	for _, s := range r.shards {
		s.mu.Lock()
		for id, e := range s.entries {
			e.mu.Lock()
			done := e.job.State.IsTerminal() && e.job.CompletedAt != nil && e.job.CompletedAt.Before(cutoff)
			e.mu.Unlock()
			if done {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Stats counts jobs per state, keyed by lowercase state name.
func (r *Registry) Stats() map[string]int {
	stats := map[string]int{
		"pending":   0,
		"running":   0,
		"succeeded": 0,
		"failed":    0,
		"cancelled": 0,
	}
	r.each(func(job types.Job) {
		switch job.State {
		case types.StatePending:
			stats["pending"]++
		case types.StateRunning:
			stats["running"]++
		case types.StateSucceeded:
			stats["succeeded"]++
		case types.StateFailed:
			stats["failed"]++
		case types.StateCancelled:
			stats["cancelled"]++
		}
	})
	return stats
}

// Snapshot copies the terminal jobs for persistence. Non-terminal jobs are
// owned by live workers and are not persisted.
func (r *Registry) Snapshot() types.SnapshotData {
	jobs := make(map[types.JobID]*types.Job)
	r.each(func(job types.Job) {
		if job.State.IsTerminal() {
			j := job
			jobs[j.ID] = &j
		}
	})
	return types.SnapshotData{Jobs: jobs, SchemaVer: 1, TakenAt: r.now()}
}

// Restore loads persisted jobs into the table, skipping ids that already
// exist. A non-terminal job in the snapshot lost its worker when the
// process stopped; it is restored as FAILED.
func (r *Registry) Restore(data types.SnapshotData) int {
	restored := 0
	for id, job := range data.Jobs {
		if job == nil {
			continue
		}
		j := cloneJob(*job)
		j.ID = id
		if !j.State.IsTerminal() {
			now := r.now()
			j.State = types.StateFailed
			j.CompletedAt = &now
			j.Deadline = nil
			j.Result = nil
			j.Error = &types.ErrorDescriptor{Kind: types.KindExecution, Message: "interrupted by shutdown"}
		}
		s := r.shardFor(id)
		s.mu.Lock()
		if _, exists := s.entries[id]; !exists {
			s.entries[id] = &entry{job: j}
			restored++
		}
		s.mu.Unlock()
	}
	return restored
}

func (r *Registry) each(fn func(types.Job)) {
	for _, s := range r.shards {
		s.mu.RLock()
		entries := make([]*entry, 0, len(s.entries))
		for _, e := range s.entries {
			entries = append(entries, e)
		}
		s.mu.RUnlock()
		for _, e := range entries {
			e.mu.Lock()
			job := cloneJob(e.job)
			e.mu.Unlock()
			fn(job)
		}
	}
}

func cloneJob(j types.Job) types.Job {
	if j.Result != nil {
		j.Result = append([]byte(nil), j.Result...)
	}
	if j.Error != nil {
		d := *j.Error
		j.Error = &d
	}
	return j
}

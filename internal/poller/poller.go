// Package poller implements the caller side of the job status contract:
// a pure decision function over successive observations plus a loop that
// drives it with backoff.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/replydraft/pkg/types"
)

// Action is what a poller does after an observation.
type Action int

const (
	// KeepPolling waits and asks again.
	KeepPolling Action = iota
	// Notify reports the observation to the caller. A Notify on a terminal
	// observation is the last one.
	Notify
	// Stop ends polling without a report; the job is gone.
	Stop
)

func (a Action) String() string {
	switch a {
	case KeepPolling:
		return "keep_polling"
	case Notify:
		return "notify"
	case Stop:
		return "stop"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Observation is one status response. Found is false once the job has been
// evicted or never existed.
type Observation struct {
	Found bool
	Job   types.Job
}

// Terminal reports whether no later observation can differ.
func (o Observation) Terminal() bool {
	return o.Found && o.Job.State.IsTerminal()
}

// NextAction decides what to do after observing cur, given the previous
// observation (zero value on the first poll).
func NextAction(prev, cur Observation) Action {
	switch {
	case !cur.Found:
		return Stop
	case cur.Job.State.IsTerminal():
		return Notify
	case !prev.Found, prev.Job.State != cur.Job.State, prev.Job.Progress != cur.Job.Progress:
		return Notify
	}
	return KeepPolling
}

// Source answers status requests.
type Source interface {
	Status(ctx context.Context, id types.JobID) (types.Job, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, id types.JobID) (types.Job, error)

func (f SourceFunc) Status(ctx context.Context, id types.JobID) (types.Job, error) {
	return f(ctx, id)
}

// Backoff grows the wait between unchanged polls and resets after a change.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff polls at 200ms, slowing to once every 5s.
var DefaultBackoff = Backoff{Initial: 200 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2}

// Next returns the wait that follows d.
func (b Backoff) Next(d time.Duration) time.Duration {
	if d <= 0 {
		return b.Initial
	}
	next := time.Duration(float64(d) * b.Multiplier)
	if next < d {
		next = d
	}
	if b.Max > 0 && next > b.Max {
		next = b.Max
	}
	return next
}

// ErrJobGone is returned by Watch when the job stops being found.
var ErrJobGone = fmt.Errorf("job %w", types.ErrNotFound)

// Watcher polls one source.
type Watcher struct {
	source  Source
	backoff Backoff
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

// Option customises a Watcher.
type Option func(*Watcher)

// WithBackoff replaces DefaultBackoff.
func WithBackoff(b Backoff) Option {
	return func(w *Watcher) { w.backoff = b }
}

// WithSleeper replaces the timer used between polls.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Watcher) { w.sleep = sleep }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher builds a Watcher over source.
func NewWatcher(source Source, opts ...Option) *Watcher {
	w := &Watcher{
		source:  source,
		backoff: DefaultBackoff,
		sleep:   sleepCtx,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch polls id until it reaches a terminal state, calling notify for each
// change, and returns the terminal job. It returns ErrJobGone if the job
// disappears and ctx.Err() if ctx ends first.
func (w *Watcher) Watch(ctx context.Context, id types.JobID, notify func(types.Job)) (types.Job, error) {
	var (
		prev Observation
		wait time.Duration
	)
	for {
		cur, err := w.observe(ctx, id)
		if err != nil {
			return types.Job{}, err
		}

		switch NextAction(prev, cur) {
		case Stop:
			return types.Job{}, ErrJobGone
		case Notify:
			if notify != nil {
				notify(cur.Job)
			}
			if cur.Terminal() {
				return cur.Job, nil
			}
			wait = w.backoff.Initial
		case KeepPolling:
			wait = w.backoff.Next(wait)
		}
		prev = cur

		if err := w.sleep(ctx, wait); err != nil {
			return types.Job{}, err
		}
	}
}

func (w *Watcher) observe(ctx context.Context, id types.JobID) (Observation, error) {
	job, err := w.source.Status(ctx, id)
	switch {
	case err == nil:
		return Observation{Found: true, Job: job}, nil
	case errors.Is(err, types.ErrNotFound):
		w.logger.Debug("job not found", "job_id", id)
		return Observation{}, nil
	}
	return Observation{}, fmt.Errorf("polling job %s: %w", id, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

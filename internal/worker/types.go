package worker

import (
	"context"
	"time"

	"github.com/ChuLiYu/replydraft/pkg/types"
)

// ExecuteFunc runs one job. It must honour ctx cancellation.
type ExecuteFunc func(ctx context.Context) (any, error)

// Task is one unit of work handed to the pool
type Task struct {
	ID      types.JobID   // job being executed
	Kind    types.JobKind // for logging
	Timeout time.Duration // per-task deadline, 0 means none
	Execute ExecuteFunc
}

// Result is what a worker reports after running a Task
type Result struct {
	JobID    types.JobID
	Kind     types.JobKind
	Value    any           // Execute's return value on success
	Err      error         // Execute's error, ctx error, or recovered panic
	Duration time.Duration // wall time spent in Execute
	Panicked bool
}

// Success reports whether the task returned without error.
func (r Result) Success() bool {
	return r.Err == nil
}

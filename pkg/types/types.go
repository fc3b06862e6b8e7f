// Package types defines the core domain model shared by the replydraft job
// system and the response generation engine.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobID is the opaque unique identifier of a job.
type JobID string

// JobKind identifies which handler executes a job.
type JobKind string

// Job kinds accepted by the registry.
const (
	KindAnalyze          JobKind = "Analyze"          // classify inbound messages
	KindVectorize        JobKind = "Vectorize"        // index documents for context retrieval
	KindGenerateResponse JobKind = "GenerateResponse" // draft a reply
	KindProfileUpdate    JobKind = "ProfileUpdate"    // rebuild a writing-style profile
)

// Kinds lists every job kind in a stable order.
var Kinds = []JobKind{KindAnalyze, KindVectorize, KindGenerateResponse, KindProfileUpdate}

// ParseJobKind accepts the canonical kind name or a short lowercase alias.
func ParseJobKind(s string) (JobKind, error) {
	switch s {
	case string(KindAnalyze), "analyze":
		return KindAnalyze, nil
	case string(KindVectorize), "vectorize":
		return KindVectorize, nil
	case string(KindGenerateResponse), "generate", "generate_response":
		return KindGenerateResponse, nil
	case string(KindProfileUpdate), "profile", "profile_update":
		return KindProfileUpdate, nil
	}
	return "", NewValidationError("kind", fmt.Sprintf("unknown job kind %q", s))
}

// JobState is the lifecycle state of a job.
type JobState string

// Job states. Succeeded, Failed and Cancelled are terminal.
const (
	StatePending   JobState = "PENDING"   // registered, waiting for a worker
	StateRunning   JobState = "RUNNING"   // a worker is executing it
	StateSucceeded JobState = "SUCCEEDED" // finished with a result
	StateFailed    JobState = "FAILED"    // finished with an error descriptor
	StateCancelled JobState = "CANCELLED" // cancelled before or during execution
)

// IsTerminal reports whether no further transition can leave s.
func (s JobState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// ParseJobState parses a state name as reported by GetStatus.
func ParseJobState(s string) (JobState, error) {
	switch st := JobState(s); st {
	case StatePending, StateRunning, StateSucceeded, StateFailed, StateCancelled:
		return st, nil
	}
	return "", NewValidationError("state", fmt.Sprintf("unknown job state %q", s))
}

// Job is a point-in-time snapshot of a tracked unit of work.
// Result is only set in StateSucceeded, Error only in StateFailed.
type Job struct {
	ID              JobID            `json:"id"`
	Kind            JobKind          `json:"kind"`
	UserID          string           `json:"user_id,omitempty"`
	State           JobState         `json:"state"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	Deadline        *time.Time       `json:"deadline,omitempty"`
	Progress        string           `json:"progress,omitempty"`
	Result          json.RawMessage  `json:"result,omitempty"`
	Error           *ErrorDescriptor `json:"error,omitempty"`
	CancelRequested bool             `json:"cancel_requested,omitempty"`
}

// DecodeResult unmarshals the stored result payload into v.
func (j Job) DecodeResult(v any) error {
	if j.State != StateSucceeded || len(j.Result) == 0 {
		return fmt.Errorf("job %s has no result (state %s)", j.ID, j.State)
	}
	return json.Unmarshal(j.Result, v)
}

// SnapshotData is the persisted form of the job table.
type SnapshotData struct {
	Jobs      map[JobID]*Job `json:"jobs"`
	SchemaVer int            `json:"schema_ver"`
	TakenAt   time.Time      `json:"taken_at"`
}

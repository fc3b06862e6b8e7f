package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the job system and the engine.
type ErrorKind string

const (
	KindValidation           ErrorKind = "ValidationError"
	KindRetrievalUnavailable ErrorKind = "RetrievalUnavailable"
	KindNotFound             ErrorKind = "NotFound"
	KindTimeout              ErrorKind = "Timeout"
	KindCancelled            ErrorKind = "CancelledError"
	KindExecution            ErrorKind = "ExecutionError"
)

// Sentinel errors, one per ErrorKind. Wrap them with %w to keep the kind.
var (
	ErrValidation           = errors.New("validation error")
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrNotFound             = errors.New("not found")
	ErrTimeout              = errors.New("timeout")
	ErrCancelled            = errors.New("cancelled")
	ErrExecution            = errors.New("execution error")
)

// ValidationError describes a malformed input. It unwraps to ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a *ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ErrorDescriptor is the structured error stored on a FAILED job.
type ErrorDescriptor struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (d *ErrorDescriptor) Error() string {
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

// Is lets errors.Is match a descriptor against the sentinel of its kind.
func (d *ErrorDescriptor) Is(target error) bool {
	return sentinelFor(d.Kind) == target
}

// Describe converts err into a descriptor using ClassifyError.
func Describe(err error) *ErrorDescriptor {
	if err == nil {
		return nil
	}
	var d *ErrorDescriptor
	if errors.As(err, &d) {
		return d
	}
	return &ErrorDescriptor{Kind: ClassifyError(err), Message: err.Error()}
}

// ClassifyError maps an arbitrary error onto the taxonomy. Anything that is
// not recognised is an ExecutionError.
func ClassifyError(err error) ErrorKind {
	var d *ErrorDescriptor
	switch {
	case errors.As(err, &d):
		return d.Kind
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrRetrievalUnavailable):
		return KindRetrievalUnavailable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindExecution
}

func sentinelFor(k ErrorKind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindRetrievalUnavailable:
		return ErrRetrievalUnavailable
	case KindNotFound:
		return ErrNotFound
	case KindTimeout:
		return ErrTimeout
	case KindCancelled:
		return ErrCancelled
	}
	return ErrExecution
}

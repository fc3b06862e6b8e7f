package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Batch limits per job.
const (
	MaxAnalyzeMessages    = 100
	MaxVectorizeDocuments = 200
)

// Document is a piece of prior correspondence to index for retrieval.
type Document struct {
	SourceID string   `json:"source_id"`
	Sender   string   `json:"sender,omitempty"`
	ThreadID string   `json:"thread_id,omitempty"`
	Text     string   `json:"text"`
	Tags     []string `json:"tags,omitempty"`
}

// VectorizeRequest is the payload of a Vectorize job.
type VectorizeRequest struct {
	UserID    string     `json:"user_id"`
	Documents []Document `json:"documents"`
}

// Owner returns the user the job belongs to.
func (r VectorizeRequest) Owner() string { return r.UserID }

func (r VectorizeRequest) Validate() error {
	if r.UserID == "" {
		return NewValidationError("user_id", "is required")
	}
	if len(r.Documents) == 0 {
		return NewValidationError("documents", "at least one document is required")
	}
	if len(r.Documents) > MaxVectorizeDocuments {
		return NewValidationError("documents", fmt.Sprintf("at most %d documents per job", MaxVectorizeDocuments))
	}
	for i, d := range r.Documents {
		if d.SourceID == "" {
			return NewValidationError(fmt.Sprintf("documents[%d].source_id", i), "is required")
		}
		if strings.TrimSpace(d.Text) == "" {
			return NewValidationError(fmt.Sprintf("documents[%d].text", i), "must not be empty")
		}
	}
	return nil
}

// AnalyzeRequest is the payload of an Analyze job.
type AnalyzeRequest struct {
	UserID   string    `json:"user_id"`
	Messages []Message `json:"messages"`
}

func (r AnalyzeRequest) Owner() string { return r.UserID }

func (r AnalyzeRequest) Validate() error {
	if len(r.Messages) == 0 {
		return NewValidationError("messages", "at least one message is required")
	}
	if len(r.Messages) > MaxAnalyzeMessages {
		return NewValidationError("messages", fmt.Sprintf("at most %d messages per job", MaxAnalyzeMessages))
	}
	return nil
}

// ProfileUpdateRequest is the payload of a ProfileUpdate job.
type ProfileUpdateRequest struct {
	UserID       string    `json:"user_id"`
	SentMessages []Message `json:"sent_messages"`
}

func (r ProfileUpdateRequest) Owner() string { return r.UserID }

func (r ProfileUpdateRequest) Validate() error {
	if r.UserID == "" {
		return NewValidationError("user_id", "is required")
	}
	for _, m := range r.SentMessages {
		if strings.TrimSpace(m.Body) != "" {
			return nil
		}
	}
	return NewValidationError("sent_messages", "at least one non-empty message is required")
}

// DecodePayload unmarshals raw JSON into the payload type expected by kind.
// Transports use it before calling Submit.
func DecodePayload(kind JobKind, raw []byte) (any, error) {
	var target any
	switch kind {
	case KindGenerateResponse:
		target = &GenerationRequest{}
	case KindVectorize:
		target = &VectorizeRequest{}
	case KindAnalyze:
		target = &AnalyzeRequest{}
	case KindProfileUpdate:
		target = &ProfileUpdateRequest{}
	default:
		return nil, NewValidationError("kind", fmt.Sprintf("unknown job kind %q", kind))
	}
	if len(raw) == 0 {
		return nil, NewValidationError("payload", "is required")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, NewValidationError("payload", err.Error())
	}
	switch p := target.(type) {
	case *GenerationRequest:
		return *p, nil
	case *VectorizeRequest:
		return *p, nil
	case *AnalyzeRequest:
		return *p, nil
	case *ProfileUpdateRequest:
		return *p, nil
	}
	return target, nil
}

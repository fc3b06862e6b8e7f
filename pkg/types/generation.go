package types

import (
	"strings"
	"time"
)

// Strategy names the method used to produce a draft.
type Strategy string

const (
	StrategyRAG      Strategy = "RAG"
	StrategyRule     Strategy = "Rule"
	StrategyHybrid   Strategy = "Hybrid"
	StrategyTemplate Strategy = "Template"
)

// Message is an inbound email the user is replying to.
type Message struct {
	ID       string `json:"id,omitempty" yaml:"id"`
	Sender   string `json:"sender" yaml:"sender"`
	Subject  string `json:"subject" yaml:"subject"`
	Body     string `json:"body" yaml:"body"`
	ThreadID string `json:"thread_id,omitempty" yaml:"thread_id"`
}

// GenerationRequest asks for a reply draft. Immutable once submitted.
type GenerationRequest struct {
	UserID             string  `json:"user_id"`
	Message            Message `json:"message"`
	CustomInstructions string  `json:"custom_instructions,omitempty"`
	MaxContextLength   int     `json:"max_context_length,omitempty"`
}

func (r GenerationRequest) Owner() string { return r.UserID }

// Validate rejects requests that cannot be drafted at all.
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Message.Body) == "" {
		return NewValidationError("message.body", "must not be empty")
	}
	if r.MaxContextLength < 0 {
		return NewValidationError("max_context_length", "must not be negative")
	}
	return nil
}

// Passage is one ranked result of context retrieval. Score is in [0,1].
type Passage struct {
	Text     string   `json:"text"`
	SourceID string   `json:"source_id"`
	Score    float64  `json:"score"`
	Tags     []string `json:"tags,omitempty"`
}

// Scope narrows context retrieval to a user's correspondence.
type Scope struct {
	UserID   string
	Sender   string
	ThreadID string
}

// GeneratedDraft is the engine's output. Confidence is always set and
// Strategy is always one of the four Strategy constants.
type GeneratedDraft struct {
	Text           string        `json:"text"`
	Strategy       Strategy      `json:"strategy"`
	Confidence     float64       `json:"confidence"`
	Relevance      *float64      `json:"relevance,omitempty"`
	StyleMatch     *float64      `json:"style_match,omitempty"`
	ContextSources []string      `json:"context_sources"`
	RuleApplied    string        `json:"rule_applied,omitempty"`
	WordCount      int           `json:"word_count"`
	GenerationTime time.Duration `json:"generation_time_ns"`
	// CustomInstructions echoes the request's instructions when they were
	// appended to Text as a note.
	CustomInstructions string `json:"custom_instructions,omitempty"`
}

// Matcher is a single trigger pattern of a rule.
type Matcher struct {
	Type    string `json:"type" yaml:"type"` // "contains" (default) or "regex"
	Pattern string `json:"pattern" yaml:"pattern"`
}

// Formality levels a rule can declare.
const (
	FormalityFormal  = "formal"
	FormalityNeutral = "neutral"
	FormalityCasual  = "casual"
)

// ResponseRule maps trigger patterns to a reply template with named
// placeholders such as {sender_name}, {subject} or {context}.
type ResponseRule struct {
	ID                  string    `json:"id" yaml:"id"`
	Name                string    `json:"name" yaml:"name"`
	Priority            int       `json:"priority" yaml:"priority"`
	TriggerPatterns     []Matcher `json:"trigger_patterns" yaml:"trigger_patterns"`
	Template            string    `json:"template" yaml:"template"`
	RequiredContextTags []string  `json:"required_context_tags,omitempty" yaml:"required_context_tags"`
	Formality           string    `json:"formality,omitempty" yaml:"formality"`
	Confidence          float64   `json:"confidence,omitempty" yaml:"confidence"`
}

// StyleProfile summarises a user's writing habits.
type StyleProfile struct {
	UserID            string    `json:"user_id"`
	FormalityScore    float64   `json:"formality_score"`
	AvgSentenceLength float64   `json:"avg_sentence_length"`
	Greetings         []string  `json:"greetings,omitempty"`
	Closings          []string  `json:"closings,omitempty"`
	Signature         string    `json:"signature,omitempty"`
	CommonPhrases     []string  `json:"common_phrases,omitempty"`
	SampleCount       int       `json:"sample_count"`
	Confidence        float64   `json:"confidence"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Package generation drafts email replies. An Engine tries an ordered list
// of strategies (RAG, Rule, Hybrid, Template) and returns the first draft
// whose confidence clears the acceptance threshold.
package generation

import (
	"context"

	"github.com/ChuLiYu/replydraft/internal/analysis"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

// ContextRetriever returns passages ranked by similarity to query. A failing
// retriever should return an error wrapping types.ErrRetrievalUnavailable.
type ContextRetriever interface {
	Search(ctx context.Context, query string, scope types.Scope, maxResults int) ([]types.Passage, error)
}

// StyleProfileProvider returns a user's style profile, or an error wrapping
// types.ErrNotFound when none has been built yet.
type StyleProfileProvider interface {
	GetProfile(ctx context.Context, userID string) (types.StyleProfile, error)
}

// RuleSetProvider returns a user's response rules.
type RuleSetProvider interface {
	GetRules(ctx context.Context, userID string) ([]types.ResponseRule, error)
}

// ComposeInput is what a Composer drafts from. Request carries the
// requester's CustomInstructions for composers that can follow them.
type ComposeInput struct {
	Request  types.GenerationRequest
	Analysis analysis.MessageAnalysis
	Passages []types.Passage
}

// Composer turns retrieved passages into reply text. It is the hook for a
// language model; ExtractiveComposer is the built-in implementation.
type Composer interface {
	Compose(ctx context.Context, in ComposeInput) (Composition, error)
}

// Composition is composed reply text and the passages it drew on.
type Composition struct {
	Text string
	// Used holds the passages whose content made it into Text, in rank
	// order. Relevance and context sources are computed from it alone.
	Used []types.Passage
}

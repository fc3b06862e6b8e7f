package generation

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ChuLiYu/replydraft/internal/analysis"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

// Input is everything a strategy may draft from. It is built once per
// request and shared read-only by every strategy.
type Input struct {
	Request  types.GenerationRequest
	Analysis analysis.MessageAnalysis
	Profile  *types.StyleProfile
	// Rule is the highest-priority rule matching the message, if any.
	Rule         *types.ResponseRule
	Passages     []types.Passage
	RetrievalErr error
	Now          time.Time
}

// Candidate is a strategy's unscored draft.
type Candidate struct {
	Text      string
	Relevance *float64
	Sources   []string
	Rule      string
	// Unresolved are placeholders the strategy could not fill.
	Unresolved []string
	// Formality overrides the profile's formality during style adaptation.
	Formality *float64
	Adapt     bool
	// Fallback candidates are accepted regardless of threshold.
	Fallback bool
	// Score computes confidence from the style-match score, which is nil
	// without a profile.
	Score func(styleMatch *float64) float64
}

// Strategy drafts a reply. Draft returns a nil candidate when the strategy
// does not apply to the input.
type Strategy interface {
	Name() types.Strategy
	Draft(ctx context.Context, in *Input) (*Candidate, error)
}

// DefaultStrategies returns RAG, Rule, Hybrid and Template in that order.
func DefaultStrategies(cfg Config, composer Composer) []Strategy {
	return []Strategy{
		&RAGStrategy{cfg: cfg, composer: composer},
		&RuleStrategy{cfg: cfg},
		&HybridStrategy{cfg: cfg},
		&TemplateStrategy{cfg: cfg},
	}
}

func styleOr(match *float64, neutral float64) float64 {
	if match == nil {
		return neutral
	}
	return *match
}

func fixedScore(v float64) func(*float64) float64 {
	return func(*float64) float64 { return v }
}

// contextBudget is the request's limit if set, else the configured one.
func contextBudget(in *Input, cfg Config) int {
	if in.Request.MaxContextLength > 0 {
		return in.Request.MaxContextLength
	}
	return cfg.MaxContextLength
}

// budgetPassages keeps passages in order until their text exhausts limit
// characters. The passage crossing the limit is cut at a word boundary, or
// dropped when no whole word fits.
func budgetPassages(passages []types.Passage, limit int) []types.Passage {
	var out []types.Passage
	remaining := limit
	for _, p := range passages {
		if remaining <= 0 {
			break
		}
		text := strings.Join(strings.Fields(p.Text), " ")
		if len(text) > remaining {
			text = truncate(text, remaining)
		}
		if text == "" {
			continue
		}
		p.Text = text
		out = append(out, p)
		remaining -= len(text)
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if s[cut] == ' ' {
		return strings.TrimSpace(s[:cut])
	}
	sp := strings.LastIndexByte(s[:cut], ' ')
	if sp <= 0 {
		return ""
	}
	return strings.TrimSpace(s[:sp])
}

func meanScore(passages []types.Passage) float64 {
	if len(passages) == 0 {
		return 0
	}
	var sum float64
	for _, p := range passages {
		sum += p.Score
	}
	return sum / float64(len(passages))
}

func sourceIDs(passages []types.Passage) []string {
	ids := make([]string, 0, len(passages))
	for _, p := range passages {
		ids = append(ids, p.SourceID)
	}
	return ids
}

func sortPassages(passages []types.Passage) {
	sort.SliceStable(passages, func(i, j int) bool { return passages[i].Score > passages[j].Score })
}

func hasTags(p types.Passage, required []string) bool {
	for _, want := range required {
		found := false
		for _, t := range p.Tags {
			if strings.EqualFold(t, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

package generation

import (
	"context"
	"fmt"

	"github.com/ChuLiYu/replydraft/pkg/types"
)

// RAGStrategy composes a reply from passages above the similarity threshold.
// Relevance is the mean score of the passages the composer actually drew on.
type RAGStrategy struct {
	cfg      Config
	composer Composer
}

// Name returns StrategyRAG.
func (s *RAGStrategy) Name() types.Strategy { return types.StrategyRAG }

// Draft composes from the budgeted passages. It does not apply when no
// passage clears the threshold or the composer uses none of them.
func (s *RAGStrategy) Draft(ctx context.Context, in *Input) (*Candidate, error) {
	if in.RetrievalErr != nil {
		return nil, nil
	}
	var relevant []types.Passage
	for _, p := range in.Passages {
		if p.Score >= s.cfg.SimilarityThreshold {
			relevant = append(relevant, p)
		}
	}
	used := budgetPassages(relevant, contextBudget(in, s.cfg))
	if len(used) == 0 {
		return nil, nil
	}

	comp, err := s.composer.Compose(ctx, ComposeInput{Request: in.Request, Analysis: in.Analysis, Passages: used})
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	if len(comp.Used) == 0 {
		return nil, nil
	}

	relevance := meanScore(comp.Used)
	cfg := s.cfg
	return &Candidate{
		Text:       comp.Text,
		Relevance:  &relevance,
		Sources:    sourceIDs(comp.Used),
		Unresolved: strayPlaceholders(comp.Text, composeSources(in, used)...),
		Adapt:      true,
		Score: func(match *float64) float64 {
			return cfg.RAGRelevanceWeight*relevance + cfg.RAGStyleWeight*styleOr(match, cfg.NeutralStyleMatch)
		},
	}, nil
}

// composeSources is the text a composer may legitimately copy from.
func composeSources(in *Input, passages []types.Passage) []string {
	msg := in.Request.Message
	out := []string{msg.Sender, msg.Subject, msg.Body, in.Request.CustomInstructions}
	for _, p := range passages {
		out = append(out, p.Text)
	}
	return out
}

package generation

import (
	"context"
	"strings"

	"github.com/ChuLiYu/replydraft/pkg/types"
)

const contextSlot = "{context}"

// HybridStrategy fills the matched rule's {context} slot with retrieved
// passages. Passages need not clear the similarity threshold but must carry
// the rule's required context tags. A template without a slot gets the
// context as its own paragraph.
type HybridStrategy struct {
	cfg Config
}

// Name returns StrategyHybrid.
func (s *HybridStrategy) Name() types.Strategy { return types.StrategyHybrid }

// Draft applies when a rule matched and some tagged passage fits the budget.
func (s *HybridStrategy) Draft(_ context.Context, in *Input) (*Candidate, error) {
	if in.Rule == nil || in.RetrievalErr != nil || len(in.Passages) == 0 {
		return nil, nil
	}
	var tagged []types.Passage
	for _, p := range in.Passages {
		if hasTags(p, in.Rule.RequiredContextTags) {
			tagged = append(tagged, p)
		}
	}
	fitting := budgetPassages(tagged, contextBudget(in, s.cfg))
	snippet, used := contextSentences(fitting, defaultComposeSentences)
	if len(used) == 0 {
		return nil, nil
	}
	vars := templateVars(in)
	vars["context"] = snippet
	text := Fill(in.Rule.Template, vars)
	if !strings.Contains(in.Rule.Template, contextSlot) {
		text = insertParagraph(text, snippet)
	}

	relevance := meanScore(used)
	base := s.cfg.HybridRuleWeight*ruleConfidence(in.Rule, s.cfg) + s.cfg.HybridContextWeight*relevance
	cfg := s.cfg
	c := &Candidate{
		Text:       text,
		Relevance:  &relevance,
		Sources:    sourceIDs(used),
		Rule:       in.Rule.ID,
		Unresolved: Unresolved(in.Rule.Template, vars),
		Adapt:      true,
		Score: func(match *float64) float64 {
			return cfg.HybridBaseWeight*base + cfg.HybridStyleWeight*styleOr(match, cfg.NeutralStyleMatch)
		},
	}
	if f, ok := formalityTarget(in.Rule.Formality); ok {
		c.Formality = &f
	}
	return c, nil
}

// insertParagraph puts para before the last paragraph of text, which is
// usually the sign-off.
func insertParagraph(text, para string) string {
	paragraphs := strings.Split(strings.TrimSpace(text), "\n\n")
	if len(paragraphs) < 2 {
		return text + "\n\n" + para
	}
	last := len(paragraphs) - 1
	out := append(paragraphs[:last:last], para, paragraphs[last])
	return strings.Join(out, "\n\n")
}

package generation

import (
	"context"

	"github.com/ChuLiYu/replydraft/pkg/types"
)

// RuleStrategy fills the matched rule's template from message fields. Its
// confidence is the rule's own.
type RuleStrategy struct {
	cfg Config
}

// Name returns StrategyRule.
func (s *RuleStrategy) Name() types.Strategy { return types.StrategyRule }

// Draft applies whenever a rule matched the message.
func (s *RuleStrategy) Draft(_ context.Context, in *Input) (*Candidate, error) {
	if in.Rule == nil {
		return nil, nil
	}
	vars := templateVars(in)
	c := &Candidate{
		Text:       Fill(in.Rule.Template, vars),
		Rule:       in.Rule.ID,
		Unresolved: Unresolved(in.Rule.Template, vars),
		Adapt:      true,
		Score:      fixedScore(ruleConfidence(in.Rule, s.cfg)),
	}
	if f, ok := formalityTarget(in.Rule.Formality); ok {
		c.Formality = &f
	}
	return c, nil
}

func ruleConfidence(r *types.ResponseRule, cfg Config) float64 {
	if r.Confidence > 0 {
		return r.Confidence
	}
	return cfg.DefaultRuleConfidence
}

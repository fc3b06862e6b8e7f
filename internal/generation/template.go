package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChuLiYu/replydraft/internal/analysis"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

var replyTemplates = map[string]string{
	analysis.CategoryAcknowledgment:     "Thank you for your email regarding '{subject}'. I have received your message and will review it carefully.",
	analysis.CategoryMeetingRequest:     "Thank you for your meeting request. I will check my calendar and get back to you with available times.",
	analysis.CategoryInformationRequest: "Thank you for your inquiry. I will gather the requested information and provide you with a comprehensive response.",
	analysis.CategoryFollowUp:           "Thank you for following up on this matter. I will prioritize this and get back to you soon.",
	analysis.CategoryUrgent:             "I understand this is urgent. I am reviewing your message now and will respond as quickly as possible.",
	analysis.CategoryGeneric:            "Thank you for your email. I will review your message and get back to you shortly.",
}

// TemplateStrategy is the last resort: a canned acknowledgment chosen by
// message category. It always produces a draft.
type TemplateStrategy struct {
	cfg Config
}

// Name returns StrategyTemplate.
func (s *TemplateStrategy) Name() types.Strategy { return types.StrategyTemplate }

// Draft never returns a nil candidate.
func (s *TemplateStrategy) Draft(_ context.Context, in *Input) (*Candidate, error) {
	category := in.Analysis.Category
	if category == analysis.CategoryGeneric && strings.TrimSpace(in.Request.Message.Subject) != "" {
		category = analysis.CategoryAcknowledgment
	}
	body, ok := replyTemplates[category]
	if !ok {
		body = replyTemplates[analysis.CategoryGeneric]
	}
	vars := templateVars(in)
	text := fmt.Sprintf("Hi %s,\n\n%s\n\nBest regards,", vars["sender_name"], Fill(body, vars))
	return &Candidate{
		Text:       text,
		Unresolved: Unresolved(body, vars),
		Fallback:   true,
		Score:    fixedScore(s.cfg.TemplateConfidence),
	}, nil
}

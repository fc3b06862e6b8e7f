package tasks

import (
	"context"
	"fmt"

	"github.com/ChuLiYu/replydraft/internal/analysis"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

const analyzeProgressEvery = 10

// AnalyzeResult holds one analysis per message plus tallies.
type AnalyzeResult struct {
	Messages   []analysis.MessageAnalysis `json:"messages"`
	Categories map[string]int             `json:"categories"`
	Urgent     int                        `json:"urgent"`
}

// AnalyzeHandler classifies inbound messages.
type AnalyzeHandler struct{}

func (h *AnalyzeHandler) Validate(payload any) error {
	return validateAs[types.AnalyzeRequest](payload)
}

func (h *AnalyzeHandler) Execute(ctx context.Context, payload any, progress func(string)) (any, error) {
	req, err := payloadAs[types.AnalyzeRequest](payload)
	if err != nil {
		return nil, err
	}
	res := AnalyzeResult{
		Messages:   make([]analysis.MessageAnalysis, 0, len(req.Messages)),
		Categories: make(map[string]int),
	}
	for i, msg := range req.Messages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a := analysis.Analyze(msg)
		res.Messages = append(res.Messages, a)
		res.Categories[a.Category]++
		if a.Urgency == analysis.UrgencyHigh {
			res.Urgent++
		}
		if (i+1)%analyzeProgressEvery == 0 {
			progress(fmt.Sprintf("analyzed %d/%d messages", i+1, len(req.Messages)))
		}
	}
	return res, nil
}

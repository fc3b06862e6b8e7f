package tasks

import (
	"context"

	"github.com/ChuLiYu/replydraft/internal/generation"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

// GenerateHandler drafts a reply; its result is a types.GeneratedDraft.
type GenerateHandler struct {
	engine *generation.Engine
}

func (h *GenerateHandler) Validate(payload any) error {
	return validateAs[types.GenerationRequest](payload)
}

func (h *GenerateHandler) Execute(ctx context.Context, payload any, progress func(string)) (any, error) {
	req, err := payloadAs[types.GenerationRequest](payload)
	if err != nil {
		return nil, err
	}
	progress("drafting reply")
	draft, err := h.engine.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return draft, nil
}

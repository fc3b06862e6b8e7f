package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ChuLiYu/replydraft/internal/retrieval"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

const vectorizeBatch = 50

// VectorizeResult reports how many documents became searchable.
type VectorizeResult struct {
	UserID  string `json:"user_id"`
	Indexed int    `json:"indexed"`
	Skipped int    `json:"skipped"`
}

// VectorizeHandler indexes documents for context retrieval in batches,
// persisting each batch when a DocumentSaver is configured.
type VectorizeHandler struct {
	index  *retrieval.Index
	docs   DocumentSaver
	logger *slog.Logger
}

func (h *VectorizeHandler) Validate(payload any) error {
	return validateAs[types.VectorizeRequest](payload)
}

func (h *VectorizeHandler) Execute(ctx context.Context, payload any, progress func(string)) (any, error) {
	req, err := payloadAs[types.VectorizeRequest](payload)
	if err != nil {
		return nil, err
	}
	res := VectorizeResult{UserID: req.UserID}
	total := len(req.Documents)

	for start := 0; start < total; start += vectorizeBatch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+vectorizeBatch, total)
		batch := req.Documents[start:end]

		if h.docs != nil {
			if err := h.docs.SaveDocuments(ctx, req.UserID, batch); err != nil {
				return nil, fmt.Errorf("persisting documents: %w", err)
			}
		}
		n := h.index.Upsert(req.UserID, batch)
		res.Indexed += n
		res.Skipped += len(batch) - n
		progress(fmt.Sprintf("indexed %d/%d documents", end, total))
	}

	h.logger.Info("documents indexed", "user_id", req.UserID, "indexed", res.Indexed, "skipped", res.Skipped)
	return res, nil
}

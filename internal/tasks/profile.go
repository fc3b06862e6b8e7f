package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/replydraft/internal/analysis"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

// ProfileHandler rebuilds a user's style profile from sent mail; its
// result is the new types.StyleProfile.
type ProfileHandler struct {
	profiles ProfileSaver
	logger   *slog.Logger
	now      func() time.Time
}

func (h *ProfileHandler) Validate(payload any) error {
	return validateAs[types.ProfileUpdateRequest](payload)
}

func (h *ProfileHandler) Execute(ctx context.Context, payload any, progress func(string)) (any, error) {
	req, err := payloadAs[types.ProfileUpdateRequest](payload)
	if err != nil {
		return nil, err
	}
	progress(fmt.Sprintf("analyzing %d sent messages", len(req.SentMessages)))
	profile := analysis.BuildStyleProfile(req.UserID, req.SentMessages, h.now())

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.profiles != nil {
		progress("saving profile")
		if err := h.profiles.SaveProfile(ctx, profile); err != nil {
			return nil, fmt.Errorf("saving profile: %w", err)
		}
	}
	h.logger.Info("style profile updated", "user_id", req.UserID, "samples", profile.SampleCount, "confidence", profile.Confidence)
	return profile, nil
}

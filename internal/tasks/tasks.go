// Package tasks implements the controller handlers for the four job kinds.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/replydraft/internal/controller"
	"github.com/ChuLiYu/replydraft/internal/generation"
	"github.com/ChuLiYu/replydraft/internal/retrieval"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

// DocumentSaver persists indexed documents.
type DocumentSaver interface {
	SaveDocuments(ctx context.Context, userID string, docs []types.Document) error
}

// ProfileSaver persists style profiles.
type ProfileSaver interface {
	SaveProfile(ctx context.Context, p types.StyleProfile) error
}

// Deps are the collaborators the handlers run against. Documents and
// Profiles may be nil, in which case nothing is persisted.
type Deps struct {
	Engine    *generation.Engine
	Index     *retrieval.Index
	Documents DocumentSaver
	Profiles  ProfileSaver
	Logger    *slog.Logger
	Now       func() time.Time
}

// Handlers builds one handler per job kind.
func Handlers(d Deps) map[types.JobKind]controller.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return map[types.JobKind]controller.Handler{
		types.KindGenerateResponse: &GenerateHandler{engine: d.Engine},
		types.KindVectorize:        &VectorizeHandler{index: d.Index, docs: d.Documents, logger: d.Logger},
		types.KindAnalyze:          &AnalyzeHandler{},
		types.KindProfileUpdate:    &ProfileHandler{profiles: d.Profiles, logger: d.Logger, now: d.Now},
	}
}

// payloadAs accepts a T or a *T.
func payloadAs[T any](payload any) (T, error) {
	var zero T
	switch p := payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
	}
	return zero, types.NewValidationError("payload", fmt.Sprintf("expected %T, got %T", zero, payload))
}

type validatable interface{ Validate() error }

func validateAs[T validatable](payload any) error {
	p, err := payloadAs[T](payload)
	if err != nil {
		return err
	}
	return p.Validate()
}

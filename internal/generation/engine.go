package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/replydraft/internal/analysis"
	"github.com/ChuLiYu/replydraft/internal/metrics"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

// Engine drafts replies by trying its strategies in order.
type Engine struct {
	cfg        Config
	retriever  ContextRetriever
	profiles   StyleProfileProvider
	rules      RuleSetProvider
	composer   Composer
	strategies []Strategy
	metrics    *metrics.Collector
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetriever sets the context source. Without one, RAG and Hybrid never apply.
func WithRetriever(r ContextRetriever) Option { return func(e *Engine) { e.retriever = r } }

// WithProfiles sets the style profile source.
func WithProfiles(p StyleProfileProvider) Option { return func(e *Engine) { e.profiles = p } }

// WithRules sets the rule source.
func WithRules(r RuleSetProvider) Option { return func(e *Engine) { e.rules = r } }

// WithComposer replaces the ExtractiveComposer used by the RAG strategy.
func WithComposer(c Composer) Option { return func(e *Engine) { e.composer = c } }

// WithStrategies replaces the default strategy order.
func WithStrategies(s ...Strategy) Option { return func(e *Engine) { e.strategies = s } }

// WithMetrics records accepted drafts and strategy rejections on m.
func WithMetrics(m *metrics.Collector) Option { return func(e *Engine) { e.metrics = m } }

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock replaces time.Now for timestamps and generation timing.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine returns an Engine using cfg, with zero fields defaulted.
func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg.WithDefaults(),
		composer: ExtractiveComposer{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.strategies == nil {
		e.strategies = DefaultStrategies(e.cfg, e.composer)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Generate drafts a reply to req. It fails only for an invalid request or a
// cancelled ctx; every other problem moves on to the next strategy.
func (e *Engine) Generate(ctx context.Context, req types.GenerationRequest) (*types.GeneratedDraft, error) {
	start := e.now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in := &Input{Request: req, Analysis: analysis.Analyze(req.Message), Now: start}
	e.loadUserData(ctx, in)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.retrieve(ctx, in)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, s := range e.strategies {
		draft, reason, err := e.attempt(ctx, s, in)
		if err != nil {
			return nil, err
		}
		if draft == nil {
			e.metrics.RecordRejection(string(s.Name()), reason)
			e.logger.Debug("strategy rejected", "strategy", s.Name(), "reason", reason)
			continue
		}
		return e.finish(draft, in, start), nil
	}

	// Only reachable with a custom strategy list that has no fallback.
	cand, _ := (&TemplateStrategy{cfg: e.cfg}).Draft(ctx, in)
	return e.finish(e.toDraft(types.StrategyTemplate, cand, cand.Text, nil), in, start), nil
}

func (e *Engine) attempt(ctx context.Context, s Strategy, in *Input) (*types.GeneratedDraft, string, error) {
	cand, err := s.Draft(ctx, in)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, "", ctxErr
	}
	if err != nil {
		e.logger.Warn("strategy failed", "strategy", s.Name(), "error", err)
		return nil, "error", nil
	}
	if cand == nil {
		return nil, "not_applicable", nil
	}

	text := strings.TrimSpace(cand.Text)
	var match *float64
	if cand.Adapt {
		res := Adapt(text, in.Profile, cand.Formality)
		text, match = res.Text, res.Match
	}

	if err := CheckQuality(text, cand.Unresolved, e.cfg.MinWords, e.cfg.MaxWords); err != nil {
		if !cand.Fallback {
			e.logger.Debug("draft failed quality check", "strategy", s.Name(), "error", err)
			return nil, rejectionReason(err), nil
		}
		e.logger.Warn("fallback draft failed quality check", "strategy", s.Name(), "error", err)
	}

	draft := e.toDraft(s.Name(), cand, text, match)
	if !cand.Fallback && draft.Confidence < e.cfg.AcceptanceThreshold {
		return nil, "below_threshold", nil
	}
	return draft, "", nil
}

func (e *Engine) toDraft(name types.Strategy, cand *Candidate, text string, match *float64) *types.GeneratedDraft {
	sources := cand.Sources
	if sources == nil {
		sources = []string{}
	}
	return &types.GeneratedDraft{
		Text:           text,
		Strategy:       name,
		Confidence:     clamp01(cand.Score(match)),
		Relevance:      cand.Relevance,
		StyleMatch:     match,
		ContextSources: sources,
		RuleApplied:    cand.Rule,
	}
}

// finish appends the requester's custom instructions as a closing note and
// fills in the bookkeeping fields.
func (e *Engine) finish(d *types.GeneratedDraft, in *Input, start time.Time) *types.GeneratedDraft {
	if note := strings.TrimSpace(in.Request.CustomInstructions); note != "" {
		d.Text = strings.TrimRight(d.Text, "\n") + "\n\nNote: " + note
		d.CustomInstructions = note
	}
	d.WordCount = analysis.WordCount(d.Text)
	d.GenerationTime = e.now().Sub(start)
	e.metrics.RecordDraft(string(d.Strategy), d.Confidence)
	e.logger.Info("draft generated",
		"strategy", d.Strategy,
		"confidence", d.Confidence,
		"words", d.WordCount,
		"sources", len(d.ContextSources))
	return d
}

// loadUserData fetches the profile and rules concurrently. A missing or
// failing provider leaves the corresponding input empty.
func (e *Engine) loadUserData(ctx context.Context, in *Input) {
	userID := in.Request.UserID
	if userID == "" {
		return
	}
	var (
		g       errgroup.Group
		profile *types.StyleProfile
		rules   []types.ResponseRule
	)
	if e.profiles != nil {
		g.Go(func() error {
			p, err := e.profiles.GetProfile(ctx, userID)
			switch {
			case err == nil:
				profile = &p
			case errors.Is(err, types.ErrNotFound):
				e.logger.Debug("no style profile", "user_id", userID)
			default:
				e.logger.Warn("style profile lookup failed", "user_id", userID, "error", err)
			}
			return nil
		})
	}
	if e.rules != nil {
		g.Go(func() error {
			r, err := e.rules.GetRules(ctx, userID)
			if err != nil && !errors.Is(err, types.ErrNotFound) {
				e.logger.Warn("rule lookup failed", "user_id", userID, "error", err)
			}
			rules = r
			return nil
		})
	}
	_ = g.Wait()

	in.Profile = profile
	in.Rule = MatchRule(SortRules(rules), in.Request.Message)
}

func (e *Engine) retrieve(ctx context.Context, in *Input) {
	if e.retriever == nil {
		in.RetrievalErr = types.ErrRetrievalUnavailable
		return
	}
	msg := in.Request.Message
	query := strings.TrimSpace(msg.Subject + "\n" + msg.Body)
	scope := types.Scope{UserID: in.Request.UserID, Sender: in.Analysis.Sender, ThreadID: msg.ThreadID}

	passages, err := e.retriever.Search(ctx, query, scope, e.cfg.MaxResults)
	if err != nil {
		if !errors.Is(err, types.ErrRetrievalUnavailable) {
			err = fmt.Errorf("%w: %v", types.ErrRetrievalUnavailable, err)
		}
		e.logger.Warn("context retrieval failed", "user_id", in.Request.UserID, "error", err)
		in.RetrievalErr = err
		return
	}
	sortPassages(passages)
	if len(passages) > e.cfg.MaxResults {
		passages = passages[:e.cfg.MaxResults]
	}
	in.Passages = passages
}

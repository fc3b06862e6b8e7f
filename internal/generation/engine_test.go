package generation

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/replydraft/internal/analysis"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

type fakeRetriever struct {
	passages []types.Passage
	err      error
	calls    atomic.Int32
	scope    types.Scope
	hook     func()
}

func (f *fakeRetriever) Search(_ context.Context, _ string, scope types.Scope, _ int) ([]types.Passage, error) {
	f.calls.Add(1)
	f.scope = scope
	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]types.Passage, len(f.passages))
	copy(out, f.passages)
	return out, nil
}

type fakeProfiles struct {
	profile *types.StyleProfile
	err     error
}

func (f fakeProfiles) GetProfile(context.Context, string) (types.StyleProfile, error) {
	if f.err != nil {
		return types.StyleProfile{}, f.err
	}
	if f.profile == nil {
		return types.StyleProfile{}, types.ErrNotFound
	}
	return *f.profile, nil
}

type fakeRules []types.ResponseRule

func (f fakeRules) GetRules(context.Context, string) ([]types.ResponseRule, error) {
	return f, nil
}

type failingComposer struct{}

func (failingComposer) Compose(context.Context, ComposeInput) (Composition, error) {
	return Composition{}, errors.New("model offline")
}

// cannedComposer returns text and reports every passage it was given as used.
type cannedComposer struct {
	text string
}

func (c cannedComposer) Compose(_ context.Context, in ComposeInput) (Composition, error) {
	return Composition{Text: c.text, Used: in.Passages}, nil
}

func longPassage() types.Passage {
	return types.Passage{
		SourceID: "p1",
		Text:     "The launch slipped a week. QA found two blockers. Both are fixed now. The release notes are drafted. Marketing signed off yesterday.",
		Score:    0.91,
	}
}

var fixedNow = time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

func newTestEngine(opts ...Option) *Engine {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewEngine(DefaultConfig(), opts...)
}

func deadlineRequest() types.GenerationRequest {
	return types.GenerationRequest{
		UserID: "u1",
		Message: types.Message{
			Sender:   "Dana Scully <dana@example.com>",
			Subject:  "Deadline",
			Body:     "Can we move the deadline to Friday?",
			ThreadID: "t-1",
		},
	}
}

func ragPassages() []types.Passage {
	return []types.Passage{
		{SourceID: "p1", Text: "The deadline for the launch is flexible.", Score: 0.91},
		{SourceID: "p2", Text: "Friday works for the review team.", Score: 0.84},
		{SourceID: "p3", Text: "The cafeteria menu changes weekly.", Score: 0.6},
	}
}

func TestGenerateRAGSuccess(t *testing.T) {
	retriever := &fakeRetriever{passages: ragPassages()}
	engine := newTestEngine(WithRetriever(retriever))

	draft, err := engine.Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)

	assert.Equal(t, types.StrategyRAG, draft.Strategy)
	require.NotNil(t, draft.Relevance)
	assert.InDelta(t, 0.875, *draft.Relevance, 1e-9)
	assert.Equal(t, []string{"p1", "p2"}, draft.ContextSources)
	assert.Nil(t, draft.StyleMatch)
	assert.InDelta(t, 0.7*0.875+0.3*0.5, draft.Confidence, 1e-9)
	assert.Contains(t, draft.Text, "Friday works for the review team.")
	assert.NotContains(t, draft.Text, "cafeteria")
	assert.Equal(t, draft.WordCount, len(strings.Fields(draft.Text)))

	assert.Equal(t, types.Scope{UserID: "u1", Sender: "dana@example.com", ThreadID: "t-1"}, retriever.scope)
}

func TestGenerateFullFallback(t *testing.T) {
	retriever := &fakeRetriever{err: types.ErrRetrievalUnavailable}
	rules := fakeRules{{ID: "invoice", TriggerPatterns: []types.Matcher{{Pattern: "invoice"}}, Template: "Invoice received, thank you {sender_name}."}}
	engine := newTestEngine(WithRetriever(retriever), WithRules(rules))

	draft, err := engine.Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)

	assert.Equal(t, types.StrategyTemplate, draft.Strategy)
	assert.InDelta(t, DefaultConfig().TemplateConfidence, draft.Confidence, 1e-9)
	assert.NotEmpty(t, draft.Text)
	assert.Nil(t, draft.Relevance)
	assert.NotNil(t, draft.ContextSources)
	assert.Empty(t, draft.ContextSources)
	assert.Contains(t, draft.Text, "Hi Dana Scully,")
}

func TestGenerateWithoutCollaborators(t *testing.T) {
	draft, err := newTestEngine().Generate(context.Background(), types.GenerationRequest{
		Message: types.Message{Body: "Could we schedule a call?"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.StrategyTemplate, draft.Strategy)
	assert.Contains(t, draft.Text, "meeting request")
}

func TestGenerateStrategyMonotonicity(t *testing.T) {
	rules := fakeRules{{
		ID:              "deadline",
		Confidence:      0.99,
		TriggerPatterns: []types.Matcher{{Pattern: "deadline"}},
		Template:        "Hi {sender_name},\n\nI will confirm the new deadline today.\n\nBest regards,",
	}}
	engine := newTestEngine(WithRetriever(&fakeRetriever{passages: ragPassages()}), WithRules(rules))

	draft, err := engine.Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StrategyRAG, draft.Strategy)
	assert.Empty(t, draft.RuleApplied)
}

func TestGenerateRuleWhenContextInsufficient(t *testing.T) {
	rules := fakeRules{
		{ID: "low", Priority: 1, Confidence: 0.9, TriggerPatterns: []types.Matcher{{Pattern: "deadline"}}, Template: "Low priority reply to {sender_name} about {subject}."},
		{ID: "high", Priority: 5, Confidence: 0.9, TriggerPatterns: []types.Matcher{{Type: MatchRegex, Pattern: `move\s+the\s+deadline`}},
			Template: "Hi {sender_name},\n\nThanks for reaching out about {subject}. I will confirm the new date on {date}.\n\nBest regards,"},
	}
	retriever := &fakeRetriever{passages: []types.Passage{{SourceID: "p1", Text: "Unrelated.", Score: 0.5}}}
	engine := newTestEngine(WithRetriever(retriever), WithRules(rules))

	draft, err := engine.Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)

	assert.Equal(t, types.StrategyRule, draft.Strategy)
	assert.Equal(t, "high", draft.RuleApplied)
	assert.InDelta(t, 0.9, draft.Confidence, 1e-9)
	assert.Nil(t, draft.Relevance)
	assert.Empty(t, draft.ContextSources)
	assert.Contains(t, draft.Text, "Hi Dana Scully,")
	assert.Contains(t, draft.Text, "about Deadline")
	assert.Contains(t, draft.Text, "January 2, 2026")
}

func TestGenerateRuleDefaultConfidence(t *testing.T) {
	rules := fakeRules{{ID: "r", TriggerPatterns: []types.Matcher{{Pattern: "friday"}}, Template: "Friday should work for me, {sender_name}."}}
	draft, err := newTestEngine(WithRules(rules)).Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StrategyRule, draft.Strategy)
	assert.InDelta(t, DefaultConfig().DefaultRuleConfidence, draft.Confidence, 1e-9)
}

func TestGenerateRuleBelowThreshold(t *testing.T) {
	rules := fakeRules{{ID: "weak", Confidence: 0.4, TriggerPatterns: []types.Matcher{{Pattern: "deadline"}}, Template: "The deadline is fine by me."}}
	draft, err := newTestEngine(WithRules(rules)).Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StrategyTemplate, draft.Strategy)
}

func TestGenerateHybrid(t *testing.T) {
	rules := fakeRules{{
		ID:                  "schedule",
		Confidence:          0.9,
		TriggerPatterns:     []types.Matcher{{Pattern: "deadline"}},
		Template:            "Hi {sender_name},\n\nAbout {subject}: {context}\n\nBest regards,",
		RequiredContextTags: []string{"schedule"},
	}}
	retriever := &fakeRetriever{passages: []types.Passage{
		{SourceID: "p1", Text: "The launch moved to March.", Score: 0.5, Tags: []string{"Schedule"}},
		{SourceID: "p2", Text: "Office party on Monday.", Score: 0.55},
	}}
	engine := newTestEngine(WithRetriever(retriever), WithRules(rules))

	draft, err := engine.Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)

	assert.Equal(t, types.StrategyHybrid, draft.Strategy)
	assert.Equal(t, "schedule", draft.RuleApplied)
	require.NotNil(t, draft.Relevance)
	assert.InDelta(t, 0.5, *draft.Relevance, 1e-9)
	assert.InDelta(t, 0.8*(0.5*0.9+0.5*0.5)+0.2*0.5, draft.Confidence, 1e-9)
	assert.Equal(t, []string{"p1"}, draft.ContextSources)
	assert.Contains(t, draft.Text, "About Deadline: The launch moved to March.")
	assert.NotContains(t, draft.Text, "{context}")
}

func TestGenerateHybridNeedsTaggedContext(t *testing.T) {
	rules := fakeRules{{
		ID:                  "schedule",
		Confidence:          0.9,
		TriggerPatterns:     []types.Matcher{{Pattern: "deadline"}},
		Template:            "Hi {sender_name},\n\n{context}\n\nBest regards,",
		RequiredContextTags: []string{"schedule"},
	}}
	retriever := &fakeRetriever{passages: []types.Passage{{SourceID: "p1", Text: "Office party on Monday.", Score: 0.5}}}

	draft, err := newTestEngine(WithRetriever(retriever), WithRules(rules)).Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StrategyTemplate, draft.Strategy)
}

func TestGenerateHybridWithoutSlot(t *testing.T) {
	rules := fakeRules{{
		ID:              "weak",
		Confidence:      0.5,
		TriggerPatterns: []types.Matcher{{Pattern: "deadline"}},
		Template:        "Hi {sender_name},\n\nLet me check the calendar.\n\nBest regards,",
	}}
	retriever := &fakeRetriever{passages: []types.Passage{{SourceID: "p1", Text: "The launch moved to March.", Score: 0.9}}}
	engine := newTestEngine(WithRetriever(retriever), WithRules(rules), WithComposer(failingComposer{}))

	draft, err := engine.Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)

	assert.Equal(t, types.StrategyHybrid, draft.Strategy)
	assert.InDelta(t, 0.8*(0.5*0.5+0.5*0.9)+0.2*0.5, draft.Confidence, 1e-9)
	assert.Contains(t, draft.Text, "Let me check the calendar.\n\nThe launch moved to March.\n\nBest regards,")
}

func TestGenerateQualityCascade(t *testing.T) {
	rules := fakeRules{{ID: "terse", Confidence: 0.9, TriggerPatterns: []types.Matcher{{Pattern: "deadline"}}, Template: "OK."}}
	draft, err := newTestEngine(WithRules(rules)).Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StrategyTemplate, draft.Strategy)
	assert.Empty(t, draft.RuleApplied)
}

func TestGenerateComposerErrorFallsThrough(t *testing.T) {
	engine := newTestEngine(WithRetriever(&fakeRetriever{passages: ragPassages()}), WithComposer(failingComposer{}))
	draft, err := engine.Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StrategyTemplate, draft.Strategy)
}

func TestGenerateRetrieverErrorIsNonFatal(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("connection refused")}
	draft, err := newTestEngine(WithRetriever(retriever)).Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StrategyTemplate, draft.Strategy)
	assert.EqualValues(t, 1, retriever.calls.Load())
}

func TestGenerateStyleProfile(t *testing.T) {
	t.Run("missing profile skips adaptation", func(t *testing.T) {
		engine := newTestEngine(WithRetriever(&fakeRetriever{passages: ragPassages()}), WithProfiles(fakeProfiles{}))
		draft, err := engine.Generate(context.Background(), deadlineRequest())
		require.NoError(t, err)
		assert.Equal(t, types.StrategyRAG, draft.Strategy)
		assert.Nil(t, draft.StyleMatch)
	})

	t.Run("profile lookup error skips adaptation", func(t *testing.T) {
		engine := newTestEngine(WithRetriever(&fakeRetriever{passages: ragPassages()}), WithProfiles(fakeProfiles{err: errors.New("db down")}))
		draft, err := engine.Generate(context.Background(), deadlineRequest())
		require.NoError(t, err)
		assert.Nil(t, draft.StyleMatch)
	})

	t.Run("profile adapts and scores", func(t *testing.T) {
		profile := &types.StyleProfile{UserID: "u1", FormalityScore: 0.5, Closings: []string{"Cheers,"}, Greetings: []string{"Hello all,"}}
		engine := newTestEngine(WithRetriever(&fakeRetriever{passages: ragPassages()}), WithProfiles(fakeProfiles{profile: profile}))
		draft, err := engine.Generate(context.Background(), deadlineRequest())
		require.NoError(t, err)

		assert.Equal(t, types.StrategyRAG, draft.Strategy)
		require.NotNil(t, draft.StyleMatch)
		assert.InDelta(t, 0.7*0.875+0.3*(*draft.StyleMatch), draft.Confidence, 1e-9)
		assert.Contains(t, draft.Text, "Hello Dana Scully,")
		assert.Contains(t, draft.Text, "Cheers,")
		assert.NotContains(t, draft.Text, "Best regards,")
	})
}

func TestGenerateValidation(t *testing.T) {
	retriever := &fakeRetriever{}
	_, err := newTestEngine(WithRetriever(retriever)).Generate(context.Background(), types.GenerationRequest{
		UserID:  "u1",
		Message: types.Message{Subject: "hello", Body: "   "},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Zero(t, retriever.calls.Load())
}

func TestGenerateCancelled(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		retriever := &fakeRetriever{passages: ragPassages()}
		_, err := newTestEngine(WithRetriever(retriever)).Generate(ctx, deadlineRequest())
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, retriever.calls.Load())
	})

	t.Run("during retrieval", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		retriever := &fakeRetriever{passages: ragPassages(), hook: cancel}
		_, err := newTestEngine(WithRetriever(retriever)).Generate(ctx, deadlineRequest())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestGenerateSourcesAreOnlyPassagesInText(t *testing.T) {
	retriever := &fakeRetriever{passages: []types.Passage{
		longPassage(),
		{SourceID: "p2", Text: "Friday works for the review team.", Score: 0.74},
	}}
	draft, err := newTestEngine(WithRetriever(retriever)).Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)

	assert.Equal(t, types.StrategyRAG, draft.Strategy)
	assert.Equal(t, []string{"p1"}, draft.ContextSources)
	require.NotNil(t, draft.Relevance)
	assert.InDelta(t, 0.91, *draft.Relevance, 1e-9)
	assert.Contains(t, draft.Text, "The release notes are drafted.")
	assert.NotContains(t, draft.Text, "Marketing signed off")
	assert.NotContains(t, draft.Text, "Friday works")
}

func TestGenerateHybridSourcesAreOnlyPassagesInText(t *testing.T) {
	rules := fakeRules{{
		ID:                  "schedule",
		Confidence:          0.9,
		TriggerPatterns:     []types.Matcher{{Pattern: "deadline"}},
		Template:            "Hi {sender_name},\n\n{context}\n\nBest regards,",
		RequiredContextTags: []string{"schedule"},
	}}
	first := longPassage()
	first.Score, first.Tags = 0.65, []string{"schedule"}
	retriever := &fakeRetriever{passages: []types.Passage{
		first,
		{SourceID: "p2", Text: "Friday works for the review team.", Score: 0.6, Tags: []string{"schedule"}},
	}}
	draft, err := newTestEngine(WithRetriever(retriever), WithRules(rules)).Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)

	assert.Equal(t, types.StrategyHybrid, draft.Strategy)
	assert.Equal(t, []string{"p1"}, draft.ContextSources)
	assert.InDelta(t, 0.65, *draft.Relevance, 1e-9)
	assert.InDelta(t, 0.8*(0.5*0.9+0.5*0.65)+0.2*0.5, draft.Confidence, 1e-9)
	assert.NotContains(t, draft.Text, "Friday works")
}

func TestGenerateComposerUsingNoPassages(t *testing.T) {
	composer := composerFunc(func(context.Context, ComposeInput) (Composition, error) {
		return Composition{Text: "Hi Dana,\n\nI will get back to you on the deadline.\n\nBest regards,"}, nil
	})
	engine := newTestEngine(WithRetriever(&fakeRetriever{passages: ragPassages()}), WithComposer(composer))
	draft, err := engine.Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StrategyTemplate, draft.Strategy)
}

func TestGenerateBracesInMessageFields(t *testing.T) {
	req := deadlineRequest()
	req.Message.Subject = "Budget {draft}"
	rules := fakeRules{{
		ID:              "budget",
		Confidence:      0.9,
		TriggerPatterns: []types.Matcher{{Pattern: "budget"}},
		Template:        "Hi {sender_name},\n\nThanks for your note about {subject}. I will follow up tomorrow.\n\nBest regards,",
	}}

	draft, err := newTestEngine(WithRules(rules)).Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.StrategyRule, draft.Strategy)
	assert.InDelta(t, 0.9, draft.Confidence, 1e-9)
	assert.Contains(t, draft.Text, "about Budget {draft}.")

	t.Run("composer may copy them", func(t *testing.T) {
		engine := newTestEngine(
			WithRetriever(&fakeRetriever{passages: ragPassages()}),
			WithComposer(cannedComposer{text: "Hi Dana,\n\nYour Budget {draft} looks fine to me.\n\nBest regards,"}))
		draft, err := engine.Generate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, types.StrategyRAG, draft.Strategy)
	})

	t.Run("composer may not invent them", func(t *testing.T) {
		engine := newTestEngine(
			WithRetriever(&fakeRetriever{passages: ragPassages()}),
			WithComposer(cannedComposer{text: "Hi {recipient},\n\nThe deadline can move to Friday.\n\nBest regards,"}))
		draft, err := engine.Generate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, types.StrategyTemplate, draft.Strategy)
	})
}

func TestGenerateRuleWithUnknownPlaceholder(t *testing.T) {
	rules := fakeRules{{
		ID:              "attach",
		Confidence:      0.9,
		TriggerPatterns: []types.Matcher{{Pattern: "deadline"}},
		Template:        "Hi {sender_name},\n\nPlease see {attachment_name} for the new plan.\n\nBest regards,",
	}}
	draft, err := newTestEngine(WithRules(rules)).Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StrategyTemplate, draft.Strategy)
	assert.Empty(t, draft.RuleApplied)
}

func TestGenerateCustomInstructions(t *testing.T) {
	req := deadlineRequest()
	req.CustomInstructions = "  Mention the Q3 numbers.  "

	draft, err := newTestEngine(WithRetriever(&fakeRetriever{passages: ragPassages()})).Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, types.StrategyRAG, draft.Strategy)
	assert.True(t, strings.HasSuffix(draft.Text, "Best regards,\n\nNote: Mention the Q3 numbers."), draft.Text)
	assert.Equal(t, "Mention the Q3 numbers.", draft.CustomInstructions)
	assert.Equal(t, len(strings.Fields(draft.Text)), draft.WordCount)

	t.Run("fallback drafts carry them too", func(t *testing.T) {
		draft, err := newTestEngine().Generate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, types.StrategyTemplate, draft.Strategy)
		assert.Contains(t, draft.Text, "\n\nNote: Mention the Q3 numbers.")
	})

	t.Run("absent", func(t *testing.T) {
		draft, err := newTestEngine().Generate(context.Background(), deadlineRequest())
		require.NoError(t, err)
		assert.NotContains(t, draft.Text, "Note:")
		assert.Empty(t, draft.CustomInstructions)
	})
}

func TestContextSentences(t *testing.T) {
	passages := []types.Passage{
		{SourceID: "a", Text: "One. Two."},
		{SourceID: "b", Text: "two. One."},
		{SourceID: "c", Text: "Three. Four. Five."},
		{SourceID: "d", Text: "Six."},
	}
	text, used := contextSentences(passages, 4)
	assert.Equal(t, "One. Two. Three. Four.", text)
	assert.Equal(t, []string{"a", "c"}, sourceIDs(used))

	text, used = contextSentences(nil, 4)
	assert.Empty(t, text)
	assert.Empty(t, used)
}

func TestGenerateContextBudget(t *testing.T) {
	retriever := &fakeRetriever{passages: []types.Passage{
		{SourceID: "p1", Text: "The deadline can move.", Score: 0.9},
		{SourceID: "p2", Text: "Alternatively Friday afternoon also works fine.", Score: 0.8},
	}}
	req := deadlineRequest()
	req.MaxContextLength = 30

	draft, err := newTestEngine(WithRetriever(retriever)).Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, types.StrategyRAG, draft.Strategy)
	assert.Equal(t, []string{"p1"}, draft.ContextSources)
	assert.InDelta(t, 0.9, *draft.Relevance, 1e-9)
}

func TestGenerateCustomStrategiesStillReturnDraft(t *testing.T) {
	engine := newTestEngine(WithStrategies(&RuleStrategy{cfg: DefaultConfig()}))
	draft, err := engine.Generate(context.Background(), deadlineRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StrategyTemplate, draft.Strategy)
	assert.NotEmpty(t, draft.Text)
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{AcceptanceThreshold: 0.8}.WithDefaults()
	assert.Equal(t, 0.8, cfg.AcceptanceThreshold)
	assert.Equal(t, DefaultConfig().SimilarityThreshold, cfg.SimilarityThreshold)
	assert.Equal(t, 400, cfg.MaxWords)
}

func TestBudgetPassages(t *testing.T) {
	in := []types.Passage{
		{SourceID: "a", Text: "one two   three"},
		{SourceID: "b", Text: "four five six seven"},
	}
	out := budgetPassages(in, 20)
	require.Len(t, out, 2)
	assert.Equal(t, "one two three", out[0].Text)
	assert.Equal(t, "four", out[1].Text)
	assert.Equal(t, "one two   three", in[0].Text)

	assert.Empty(t, budgetPassages([]types.Passage{{Text: "unbreakable"}}, 4))
}

type composerFunc func(context.Context, ComposeInput) (Composition, error)

func (f composerFunc) Compose(ctx context.Context, in ComposeInput) (Composition, error) {
	return f(ctx, in)
}

func newInput(msg types.Message) *Input {
	return &Input{Request: types.GenerationRequest{Message: msg}, Analysis: analysis.Analyze(msg), Now: fixedNow}
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/replydraft/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	require.NoError(t, err)
	v1, err := s1.AppliedMigrations()
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, v1)
	assert.Equal(t, v1, v2)
}

func TestProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, err, ErrProfileNotFound)

	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	profile := types.StyleProfile{
		UserID:         "u1",
		FormalityScore: 0.7,
		Closings:       []string{"Cheers,"},
		Signature:      "Best,\nAnn",
		SampleCount:    12,
		Confidence:     0.6,
		UpdatedAt:      updated,
	}
	require.NoError(t, s.SaveProfile(ctx, profile))

	got, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, profile.Closings, got.Closings)
	assert.Equal(t, profile.Signature, got.Signature)
	assert.True(t, updated.Equal(got.UpdatedAt))

	profile.FormalityScore = 0.2
	require.NoError(t, s.SaveProfile(ctx, profile))
	got, err = s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.2, got.FormalityScore)
}

func TestSaveProfileRequiresUser(t *testing.T) {
	s := openTestStore(t)
	err := s.SaveProfile(context.Background(), types.StyleProfile{})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestSaveProfileStampsTime(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.SaveProfile(context.Background(), types.StyleProfile{UserID: "u1"}))
	got, err := s.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, now.Equal(got.UpdatedAt))
}

func ruleIDs(rules []types.ResponseRule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}

func TestRules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rules, err := s.GetRules(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, rules)

	require.NoError(t, s.ReplaceRules(ctx, "u1", []types.ResponseRule{
		{ID: "a", Priority: 1, Template: "A", TriggerPatterns: []types.Matcher{{Pattern: "x"}}},
		{ID: "b", Priority: 5, Template: "B", TriggerPatterns: []types.Matcher{{Type: "regex", Pattern: "y+"}}},
		{ID: "c", Priority: 1, Template: "C"},
	}))
	require.NoError(t, s.ReplaceRules(ctx, GlobalUser, []types.ResponseRule{
		{ID: "g", Priority: 100, Template: "G"},
	}))

	rules, err = s.GetRules(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c", "g"}, ruleIDs(rules))
	assert.Equal(t, "regex", rules[0].TriggerPatterns[0].Type)

	rules, err = s.GetRules(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"g"}, ruleIDs(rules))

	require.NoError(t, s.ReplaceRules(ctx, "u1", []types.ResponseRule{{ID: "z", Template: "Z"}}))
	rules, err = s.GetRules(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "g"}, ruleIDs(rules))

	owners, err := s.RuleOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{GlobalUser, "u1"}, owners)

	require.NoError(t, s.ReplaceRules(ctx, "u1", nil))
	owners, err = s.RuleOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{GlobalUser}, owners)
}

func TestReplaceRulesRollsBackOnDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceRules(ctx, "u1", []types.ResponseRule{{ID: "keep", Template: "K"}}))
	err := s.ReplaceRules(ctx, "u1", []types.ResponseRule{{ID: "dup", Template: "1"}, {ID: "dup", Template: "2"}})
	require.Error(t, err)

	rules, err := s.GetRules(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, ruleIDs(rules))
}

func TestDocuments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDocuments(ctx, "u1", []types.Document{
		{SourceID: "d1", Sender: "bob@example.com", ThreadID: "t1", Text: "first", Tags: []string{"a", "b"}},
		{SourceID: "d2", Text: "second"},
	}))
	require.NoError(t, s.SaveDocuments(ctx, "u2", []types.Document{{SourceID: "d1", Text: "other user"}}))
	require.NoError(t, s.SaveDocuments(ctx, "u1", []types.Document{{SourceID: "d2", Text: "second, edited"}}))

	all, err := s.AllDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, all["u1"], 2)
	require.Len(t, all["u2"], 1)
	assert.Equal(t, []string{"a", "b"}, all["u1"][0].Tags)
	assert.Equal(t, "t1", all["u1"][0].ThreadID)
	assert.Equal(t, "second, edited", all["u1"][1].Text)
	assert.Empty(t, all["u1"][1].Tags)
}

package matchengine_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"reddalert/internal/domain/matchengine"
	"reddalert/internal/domain/normalizer"
	"reddalert/internal/store"
)

// fakeConfig serves a fixed set of (tenant, keyword, subreddit) pairs,
// standing in for the Tenant Config Reader cache.
type fakeConfig struct {
	pairs map[string][]matchengine.TenantKeyword
}

func (f *fakeConfig) KeywordsForSubreddit(_ context.Context, subreddit string) ([]matchengine.TenantKeyword, error) {
	return f.pairs[subreddit], nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "reddalert.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func phrasesJSON(t *testing.T, phrases []string) string {
	t.Helper()
	b, err := json.Marshal(phrases)
	if err != nil {
		t.Fatalf("marshal phrases: %v", err)
	}
	return string(b)
}

func contentFrom(id, subreddit, text string, createdAt time.Time) store.RedditContent {
	norm := normalizer.Normalize(text)
	joined := ""
	for i, s := range norm.Sentences {
		if i > 0 {
			joined += " "
		}
		joined += s
	}
	return store.RedditContent{
		ID:              id,
		SourceID:        id,
		Subreddit:       subreddit,
		ContentType:     store.ContentPost,
		Title:           text,
		Body:            "",
		Author:          "someuser",
		NormalizedText:  joined,
		ContentHash:     "hash-" + id,
		Permalink:       "/r/" + subreddit + "/comments/" + id,
		CreatedAtRemote: createdAt,
		FetchedAt:       createdAt,
	}
}

func TestProcessContentInsertsMatch(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	kw := store.Keyword{
		ID:              "kw-1",
		TenantID:        "tenant-1",
		Phrases:         phrasesJSON(t, []string{"arbitrage betting"}),
		Exclusions:      "[]",
		ProximityWindow: 5,
		IsActive:        true,
	}
	sub := store.MonitoredSubreddit{
		ID:                "sub-1",
		TenantID:          "tenant-1",
		Name:              "golang",
		Status:            store.SubredditActive,
		IncludeMediaPosts: true,
	}
	cfg := &fakeConfig{pairs: map[string][]matchengine.TenantKeyword{
		"golang": {{Keyword: kw, Subreddit: sub}},
	}}

	engine := matchengine.New(st, cfg)
	engine.Start(ctx)
	t.Cleanup(engine.Stop)

	content := contentFrom("c1", "golang", "I recommend arbitrage betting strategies for new sportsbooks.", now)
	if _, _, err := st.UpsertContent(ctx, content); err != nil {
		t.Fatalf("UpsertContent: %v", err)
	}

	if err := engine.ProcessContent(ctx, content); err != nil {
		t.Fatalf("ProcessContent: %v", err)
	}

	pending, err := st.PendingMatchesForTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("PendingMatchesForTenant: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("len(pending) = %d, want 1", len(pending))
	}
	if pending[0].MatchedPhrase != "arbitrage betting" {
		t.Fatalf("MatchedPhrase = %q, want %q", pending[0].MatchedPhrase, "arbitrage betting")
	}
	if pending[0].RedditURL != "https://reddit.com/r/golang/comments/c1" {
		t.Fatalf("RedditURL = %q", pending[0].RedditURL)
	}
}

func TestProcessContentSkipsNoHit(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	kw := store.Keyword{
		ID:              "kw-1",
		TenantID:        "tenant-1",
		Phrases:         phrasesJSON(t, []string{"nonexistent phrase"}),
		Exclusions:      "[]",
		ProximityWindow: 5,
		IsActive:        true,
	}
	sub := store.MonitoredSubreddit{ID: "sub-1", TenantID: "tenant-1", Name: "golang", Status: store.SubredditActive, IncludeMediaPosts: true}
	cfg := &fakeConfig{pairs: map[string][]matchengine.TenantKeyword{"golang": {{Keyword: kw, Subreddit: sub}}}}

	engine := matchengine.New(st, cfg)
	engine.Start(ctx)
	t.Cleanup(engine.Stop)

	content := contentFrom("c1", "golang", "just a normal unrelated post", now)
	if err := engine.ProcessContent(ctx, content); err != nil {
		t.Fatalf("ProcessContent: %v", err)
	}

	pending, err := st.PendingMatchesForTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("PendingMatchesForTenant: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no matches, got %d", len(pending))
	}
}

func TestProcessContentFiltersMediaWhenExcluded(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	kw := store.Keyword{
		ID:              "kw-1",
		TenantID:        "tenant-1",
		Phrases:         phrasesJSON(t, []string{"arbitrage betting"}),
		Exclusions:      "[]",
		ProximityWindow: 5,
		IsActive:        true,
	}
	sub := store.MonitoredSubreddit{ID: "sub-1", TenantID: "tenant-1", Name: "golang", Status: store.SubredditActive, IncludeMediaPosts: false}
	cfg := &fakeConfig{pairs: map[string][]matchengine.TenantKeyword{"golang": {{Keyword: kw, Subreddit: sub}}}}

	engine := matchengine.New(st, cfg)
	engine.Start(ctx)
	t.Cleanup(engine.Stop)

	// Empty body marks this a link/media post per the engine's heuristic.
	content := contentFrom("c1", "golang", "arbitrage betting strategies", now)
	content.Body = ""
	content.Title = "arbitrage betting strategies"

	if err := engine.ProcessContent(ctx, content); err != nil {
		t.Fatalf("ProcessContent: %v", err)
	}

	pending, err := st.PendingMatchesForTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("PendingMatchesForTenant: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected media post to be filtered out, got %d matches", len(pending))
	}
}

func TestProcessContentFiltersBotAuthor(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	kw := store.Keyword{
		ID:              "kw-1",
		TenantID:        "tenant-1",
		Phrases:         phrasesJSON(t, []string{"arbitrage betting"}),
		Exclusions:      "[]",
		ProximityWindow: 5,
		IsActive:        true,
	}
	sub := store.MonitoredSubreddit{ID: "sub-1", TenantID: "tenant-1", Name: "golang", Status: store.SubredditActive, IncludeMediaPosts: true, FilterBots: true}
	cfg := &fakeConfig{pairs: map[string][]matchengine.TenantKeyword{"golang": {{Keyword: kw, Subreddit: sub}}}}

	engine := matchengine.New(st, cfg)
	engine.Start(ctx)
	t.Cleanup(engine.Stop)

	content := contentFrom("c1", "golang", "arbitrage betting strategies here", now)
	content.Author = "AutoModerator"

	if err := engine.ProcessContent(ctx, content); err != nil {
		t.Fatalf("ProcessContent: %v", err)
	}

	pending, err := st.PendingMatchesForTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("PendingMatchesForTenant: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected bot author post to be filtered out, got %d matches", len(pending))
	}
}

func TestProcessContentDedupSkipsRepeat(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	kw := store.Keyword{
		ID:              "kw-1",
		TenantID:        "tenant-1",
		Phrases:         phrasesJSON(t, []string{"arbitrage betting"}),
		Exclusions:      "[]",
		ProximityWindow: 5,
		IsActive:        true,
	}
	sub := store.MonitoredSubreddit{ID: "sub-1", TenantID: "tenant-1", Name: "golang", Status: store.SubredditActive, IncludeMediaPosts: true}
	cfg := &fakeConfig{pairs: map[string][]matchengine.TenantKeyword{"golang": {{Keyword: kw, Subreddit: sub}}}}

	engine := matchengine.New(st, cfg)
	engine.Start(ctx)
	t.Cleanup(engine.Stop)

	content := contentFrom("c1", "golang", "arbitrage betting strategies", now)
	if err := engine.ProcessContent(ctx, content); err != nil {
		t.Fatalf("first ProcessContent: %v", err)
	}
	if err := engine.ProcessContent(ctx, content); err != nil {
		t.Fatalf("second ProcessContent: %v", err)
	}

	pending, err := st.PendingMatchesForTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("PendingMatchesForTenant: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("len(pending) = %d, want 1 (second pass should be a no-op)", len(pending))
	}
}

package tenant_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"reddalert/internal/domain/tenant"
	"reddalert/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "reddalert.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustPhrases(t *testing.T, phrases ...string) string {
	t.Helper()
	b, err := json.Marshal(phrases)
	if err != nil {
		t.Fatalf("marshal phrases: %v", err)
	}
	return string(b)
}

func TestRefreshAllPopulatesSnapshotAndSharedSubredditIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	for _, id := range []string{"tenant-a", "tenant-b"} {
		if err := st.CreateTenant(ctx, store.Tenant{ID: id, Email: id + "@example.com", PollIntervalMinutes: 5, CreatedAt: now}); err != nil {
			t.Fatalf("create tenant %s: %v", id, err)
		}
		if err := st.CreateMonitoredSubreddit(ctx, store.MonitoredSubreddit{
			ID: id + "-sub", TenantID: id, Name: "golang", Status: store.SubredditActive,
		}); err != nil {
			t.Fatalf("create subreddit for %s: %v", id, err)
		}
		if err := st.CreateKeyword(ctx, store.Keyword{
			ID: id + "-kw", TenantID: id, Phrases: mustPhrases(t, "widget"), Exclusions: "[]", IsActive: true, CreatedAt: now,
		}); err != nil {
			t.Fatalf("create keyword for %s: %v", id, err)
		}
	}

	r := tenant.New(st, nil)
	if err := r.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	if _, ok := r.Get("tenant-a"); !ok {
		t.Fatalf("expected tenant-a to have a cached snapshot")
	}
	if _, ok := r.Get("tenant-b"); !ok {
		t.Fatalf("expected tenant-b to have a cached snapshot")
	}

	pairs, err := r.KeywordsForSubreddit(ctx, "golang")
	if err != nil {
		t.Fatalf("KeywordsForSubreddit: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected both tenants watching r/golang to surface a pair, got %d", len(pairs))
	}
}

func TestKeywordsForSubredditExcludesInactiveSubreddit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	if err := st.CreateTenant(ctx, store.Tenant{ID: "tenant-1", Email: "t@example.com", PollIntervalMinutes: 5, CreatedAt: now}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if err := st.CreateMonitoredSubreddit(ctx, store.MonitoredSubreddit{
		ID: "sub-1", TenantID: "tenant-1", Name: "golang", Status: store.SubredditInaccessible,
	}); err != nil {
		t.Fatalf("create subreddit: %v", err)
	}
	if err := st.CreateKeyword(ctx, store.Keyword{
		ID: "kw-1", TenantID: "tenant-1", Phrases: mustPhrases(t, "widget"), Exclusions: "[]", IsActive: true, CreatedAt: now,
	}); err != nil {
		t.Fatalf("create keyword: %v", err)
	}

	r := tenant.New(st, nil)
	if err := r.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	pairs, err := r.KeywordsForSubreddit(ctx, "golang")
	if err != nil {
		t.Fatalf("KeywordsForSubreddit: %v", err)
	}
	if len(pairs) != 0 {
		t.Fatalf("expected an inaccessible subreddit to be excluded, got %d pairs", len(pairs))
	}
}

// TestRefreshStaleSkipsUnchangedTenantBeforeTTL adds a second keyword behind
// the Reader's back (no config_version bump, no TTL elapsed) and checks that
// RefreshStale leaves the cached snapshot alone — the cheap per-tick check
// must not reload every tenant on every call.
func TestRefreshStaleSkipsUnchangedTenantBeforeTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	if err := st.CreateTenant(ctx, store.Tenant{ID: "tenant-1", Email: "t@example.com", PollIntervalMinutes: 5, CreatedAt: now}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if err := st.CreateKeyword(ctx, store.Keyword{
		ID: "kw-1", TenantID: "tenant-1", Phrases: mustPhrases(t, "widget"), Exclusions: "[]", IsActive: true, CreatedAt: now,
	}); err != nil {
		t.Fatalf("create keyword: %v", err)
	}

	frozen := now
	r := tenant.New(st, func() time.Time { return frozen })
	if err := r.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	if err := st.CreateKeyword(ctx, store.Keyword{
		ID: "kw-2", TenantID: "tenant-1", Phrases: mustPhrases(t, "gadget"), Exclusions: "[]", IsActive: true, CreatedAt: now,
	}); err != nil {
		t.Fatalf("create second keyword: %v", err)
	}

	if err := r.RefreshStale(ctx); err != nil {
		t.Fatalf("RefreshStale: %v", err)
	}

	snap, ok := r.Get("tenant-1")
	if !ok {
		t.Fatalf("expected a cached snapshot for tenant-1")
	}
	if len(snap.Keywords) != 1 {
		t.Fatalf("expected RefreshStale to leave the snapshot untouched before TTL/version change, got %d keywords", len(snap.Keywords))
	}
}

// TestRefreshStaleReloadsAfterTTL advances the injected clock past the
// Reader's TTL fallback and confirms a stale snapshot picks up a keyword
// added after the initial load.
func TestRefreshStaleReloadsAfterTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	if err := st.CreateTenant(ctx, store.Tenant{ID: "tenant-1", Email: "t@example.com", PollIntervalMinutes: 5, CreatedAt: now}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if err := st.CreateKeyword(ctx, store.Keyword{
		ID: "kw-1", TenantID: "tenant-1", Phrases: mustPhrases(t, "widget"), Exclusions: "[]", IsActive: true, CreatedAt: now,
	}); err != nil {
		t.Fatalf("create keyword: %v", err)
	}

	clock := now
	r := tenant.New(st, func() time.Time { return clock })
	if err := r.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	if err := st.CreateKeyword(ctx, store.Keyword{
		ID: "kw-2", TenantID: "tenant-1", Phrases: mustPhrases(t, "gadget"), Exclusions: "[]", IsActive: true, CreatedAt: now,
	}); err != nil {
		t.Fatalf("create second keyword: %v", err)
	}

	clock = now.Add(2 * time.Minute)
	if err := r.RefreshStale(ctx); err != nil {
		t.Fatalf("RefreshStale: %v", err)
	}

	snap, ok := r.Get("tenant-1")
	if !ok {
		t.Fatalf("expected a cached snapshot for tenant-1")
	}
	if len(snap.Keywords) != 2 {
		t.Fatalf("expected RefreshStale to reload after TTL elapsed, got %d keywords", len(snap.Keywords))
	}
}

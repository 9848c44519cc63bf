package scheduler_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"reddalert/internal/domain/alerts"
	"reddalert/internal/domain/matchengine"
	"reddalert/internal/domain/reddit"
	"reddalert/internal/domain/scheduler"
	"reddalert/internal/domain/tenant"
	"reddalert/internal/store"
)

type fakeSource struct {
	posts map[string][]reddit.Post
}

func (f *fakeSource) FetchNewPosts(_ context.Context, subreddit, _ string) ([]reddit.Post, error) {
	return f.posts[subreddit], nil
}

func (f *fakeSource) FetchTopLevelComments(_ context.Context, _ string) ([]reddit.Comment, error) {
	return nil, nil
}

type fakeSender struct {
	calls int
}

func (f *fakeSender) Send(_ context.Context, _ string, _ alerts.EmbedPayload) (alerts.SendOutcome, error) {
	f.calls++
	return alerts.SendOutcome{}, nil
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

// TestSchedulerDrivesIngestionThroughDispatch seeds one tenant watching one
// subreddit for one phrase with a primary webhook, starts the Scheduler
// against a fake forum source and a fake webhook sender, and waits for a
// post containing that phrase to travel all the way from poll through
// match to a sent webhook call.
func TestSchedulerDrivesIngestionThroughDispatch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newTestStore(t)
	now := time.Now().UTC()

	if err := st.CreateTenant(ctx, store.Tenant{ID: "tenant-1", Email: "t@example.com", PollIntervalMinutes: 5, CreatedAt: now}); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if err := st.CreateMonitoredSubreddit(ctx, store.MonitoredSubreddit{
		ID: "sub-1", TenantID: "tenant-1", Name: "golang", Status: store.SubredditActive, IncludeMediaPosts: true,
	}); err != nil {
		t.Fatalf("seed subreddit: %v", err)
	}
	phrases, err := json.Marshal([]string{"arbitrage betting"})
	if err != nil {
		t.Fatalf("marshal phrases: %v", err)
	}
	if err := st.CreateKeyword(ctx, store.Keyword{
		ID: "kw-1", TenantID: "tenant-1", Phrases: string(phrases), Exclusions: "[]", ProximityWindow: 5, IsActive: true, CreatedAt: now,
	}); err != nil {
		t.Fatalf("seed keyword: %v", err)
	}
	if err := st.CreateWebhook(ctx, store.WebhookConfig{
		ID: "wh-1", TenantID: "tenant-1", URL: "https://discord.example/hook", IsPrimary: true, IsActive: true,
	}); err != nil {
		t.Fatalf("seed webhook: %v", err)
	}

	// Three posts so the dispatcher's batchThreshold (spec.md §4.6: at
	// least 3 within the 2-minute window) is met immediately, instead of
	// leaving a lone match pending for a future tick.
	src := &fakeSource{posts: map[string][]reddit.Post{
		"golang": {
			{ID: "t3_1", Subreddit: "golang", Title: "arbitrage betting strategies one", Author: "someuser", Permalink: "/r/golang/comments/t3_1", CreatedAt: now},
			{ID: "t3_2", Subreddit: "golang", Title: "arbitrage betting strategies two", Author: "someuser", Permalink: "/r/golang/comments/t3_2", CreatedAt: now},
			{ID: "t3_3", Subreddit: "golang", Title: "arbitrage betting strategies three", Author: "someuser", Permalink: "/r/golang/comments/t3_3", CreatedAt: now},
		},
	}}
	sender := &fakeSender{}

	poller := reddit.NewPoller(src, st)
	reader := tenant.New(st, nil)
	engine := matchengine.New(st, reader)
	dispatcher := alerts.New(st, sender, nil, nil)

	cfg := scheduler.Config{
		PollTick:           20 * time.Millisecond,
		MatchTick:          20 * time.Millisecond,
		DispatchTick:       20 * time.Millisecond,
		RetentionDays:      9999,
		RetentionSweepHour: 3,
	}
	sched := scheduler.New(cfg, poller, engine, dispatcher, reader, st, nil)
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(sched.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sender.calls > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if sender.calls == 0 {
		t.Fatalf("expected webhook sender to be called at least once within the deadline")
	}

	pending, err := st.PendingMatchesForTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("PendingMatchesForTenant: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected the dispatched match to leave the pending set, got %d", len(pending))
	}
}

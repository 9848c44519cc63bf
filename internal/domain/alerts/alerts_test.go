package alerts_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"reddalert/internal/domain/alerts"
	"reddalert/internal/store"
)

// fakeSender records every call it receives and returns a scripted
// outcome/error pair, standing in for *alerts.DiscordSender.
type fakeSender struct {
	outcome   alerts.SendOutcome
	err       error
	calls     int
	embedsLen []int
}

func (f *fakeSender) Send(_ context.Context, _ string, payload alerts.EmbedPayload) (alerts.SendOutcome, error) {
	f.calls++
	f.embedsLen = append(f.embedsLen, len(payload.Embeds))
	return f.outcome, f.err
}

// fakeFallback records which matches were handed to it.
type fakeFallback struct {
	notified []string
}

func (f *fakeFallback) NotifyDeliveryFailed(_ context.Context, _ string, m store.Match) error {
	f.notified = append(f.notified, m.ID)
	return nil
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

func seedMatch(t *testing.T, st *store.Store, id, tenantID string, detectedAt time.Time) {
	t.Helper()
	m := store.Match{
		ID:            id,
		TenantID:      tenantID,
		KeywordID:     "kw-1",
		ContentID:     "content-" + id,
		ContentType:   store.ContentPost,
		Subreddit:     "golang",
		MatchedPhrase: "arbitrage betting",
		AlsoMatched:   "[]",
		Snippet:       "arbitrage betting strategies",
		FullText:      "arbitrage betting strategies",
		RedditURL:     "https://reddit.com/r/golang/comments/" + id,
		RedditAuthor:  "someuser",
		DetectedAt:    detectedAt,
	}
	if _, err := st.InsertMatch(context.Background(), m); err != nil {
		t.Fatalf("seed match %s: %v", id, err)
	}
}

func TestRunTickDispatchesAgedMatchIndividually(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	seedMatch(t, st, "m1", "tenant-1", now.Add(-3*time.Minute)) // older than the 2-minute window

	sender := &fakeSender{}
	d := alerts.New(st, sender, nil, func() time.Time { return now })
	d.Start(ctx)
	t.Cleanup(d.Stop)

	if err := d.RunTick(ctx, "tenant-1", "https://discord.example/hook"); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	if sender.calls != 1 {
		t.Fatalf("sender.calls = %d, want 1", sender.calls)
	}
	if sender.embedsLen[0] != 1 {
		t.Fatalf("embeds in call = %d, want 1", sender.embedsLen[0])
	}

	pending, err := st.PendingMatchesForTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("PendingMatchesForTenant: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending matches left, got %d", len(pending))
	}
}

func TestRunTickBatchesWhenThresholdMet(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	seedMatch(t, st, "m1", "tenant-1", now.Add(-time.Minute))
	seedMatch(t, st, "m2", "tenant-1", now.Add(-time.Minute))
	seedMatch(t, st, "m3", "tenant-1", now.Add(-time.Minute))

	sender := &fakeSender{}
	d := alerts.New(st, sender, nil, func() time.Time { return now })
	d.Start(ctx)
	t.Cleanup(d.Stop)

	if err := d.RunTick(ctx, "tenant-1", "https://discord.example/hook"); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	if sender.calls != 1 {
		t.Fatalf("sender.calls = %d, want 1 (all three batched into one call)", sender.calls)
	}
	if sender.embedsLen[0] != 3 {
		t.Fatalf("embeds in call = %d, want 3", sender.embedsLen[0])
	}

	pending, err := st.PendingMatchesForTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("PendingMatchesForTenant: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected batch to clear all pending matches, got %d", len(pending))
	}
}

func TestRunTickLeavesBelowThresholdPending(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	seedMatch(t, st, "m1", "tenant-1", now.Add(-time.Minute))
	seedMatch(t, st, "m2", "tenant-1", now.Add(-time.Minute))

	sender := &fakeSender{}
	d := alerts.New(st, sender, nil, func() time.Time { return now })
	d.Start(ctx)
	t.Cleanup(d.Stop)

	if err := d.RunTick(ctx, "tenant-1", "https://discord.example/hook"); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	if sender.calls != 0 {
		t.Fatalf("sender.calls = %d, want 0 (below batchThreshold, not yet aged out)", sender.calls)
	}

	pending, err := st.PendingMatchesForTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("PendingMatchesForTenant: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected both matches to remain pending, got %d", len(pending))
	}
}

func TestRunTickMarksFailedAndNotifiesFallbackOnPermanentError(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	seedMatch(t, st, "m1", "tenant-1", now.Add(-3*time.Minute))

	// Retry:false plus a non-nil err makes this a permanent failure, so
	// the dispatcher's send should give up on the first attempt instead
	// of spending its backoff budget — keeping this test fast.
	sender := &fakeSender{err: errors.New("webhook rejected: unknown route")}
	fallback := &fakeFallback{}
	d := alerts.New(st, sender, fallback, func() time.Time { return now })
	d.Start(ctx)
	t.Cleanup(d.Stop)

	if err := d.RunTick(ctx, "tenant-1", "https://discord.example/hook"); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	if sender.calls != 1 {
		t.Fatalf("sender.calls = %d, want 1 (permanent failure should not retry)", sender.calls)
	}
	if len(fallback.notified) != 1 || fallback.notified[0] != "m1" {
		t.Fatalf("fallback.notified = %v, want [m1]", fallback.notified)
	}

	pending, err := st.PendingMatchesForTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("PendingMatchesForTenant: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected failed match to leave the pending set, got %d", len(pending))
	}
}

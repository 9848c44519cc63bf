// Package scheduler implements the cooperative time wheel described by
// spec.md §4.7: a poll tick, a match tick, a dispatch tick, and a daily
// retention sweep running as concurrent activities sharing only the
// durable store and the Tenant Config Reader's cache.
//
// Each activity is registered as a node with internal/infra/lifecycle's
// Manager, the same dependency-ordered start/stop primitive the teacher's
// internal/app/runner.go drove its startAllServices/stopAllServices
// sequence through — here generalized from a fixed hand-written sequence
// of Telegram subsystems to a small fixed set of named ticks, each wired
// as its own node so Shutdown tears them down in the reverse of start
// order and lets an in-flight tick finish before canceling the next.
package scheduler

import (
	"context"
	"sync"
	"time"

	"reddalert/internal/domain/alerts"
	"reddalert/internal/domain/matchengine"
	"reddalert/internal/domain/reddit"
	"reddalert/internal/domain/tenant"
	"reddalert/internal/infra/clock"
	"reddalert/internal/infra/lifecycle"
	"reddalert/internal/infra/logger"
	"reddalert/internal/store"
)

// Config carries the tick cadences and retention policy, sourced from
// internal/infra/config's EnvConfig (kept decoupled here so scheduler
// doesn't import config directly, matching the teacher's preference for
// passing already-resolved values into domain packages).
type Config struct {
	PollTick     time.Duration
	MatchTick    time.Duration
	DispatchTick time.Duration

	RetentionDays      int
	RetentionSweepHour int
	RetentionSweepMin  int
}

// Scheduler owns the four concurrent activities and the lifecycle.Manager
// that starts/stops them in order.
type Scheduler struct {
	cfg Config

	poller     *reddit.Poller
	engine     *matchengine.Engine
	dispatcher *alerts.Dispatcher
	reader     *tenant.Reader
	store      *store.Store
	clock      clock.Clock

	manager *lifecycle.Manager

	matchCursor time.Time
	lastSweep   time.Time
}

// New wires a Scheduler against its four activities. Call Start to launch
// every tick and Stop to tear them down in reverse order.
func New(cfg Config, poller *reddit.Poller, engine *matchengine.Engine, dispatcher *alerts.Dispatcher,
	reader *tenant.Reader, st *store.Store, c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.Real{}
	}
	return &Scheduler{
		cfg:         cfg,
		poller:      poller,
		engine:      engine,
		dispatcher:  dispatcher,
		reader:      reader,
		store:       st,
		clock:       c,
		matchCursor: c.Now(),
	}
}

// Start registers and starts every tick node. An initial RefreshAll on the
// Tenant Config Reader runs synchronously first so the very first ticks
// have a populated cache to work from.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.reader.RefreshAll(ctx); err != nil {
		logger.Warnf("scheduler: initial config refresh: %v", err)
	}

	s.manager = lifecycle.New(ctx)
	s.poller.Start(ctx)
	s.dispatcher.Start(ctx)
	s.engine.Start(ctx)

	pollStart, pollStop := tickNode(s.cfg.PollTick, s.runPollTick)
	if err := s.manager.Register("poll-tick", "", nil, pollStart, pollStop); err != nil {
		return err
	}
	matchStart, matchStop := tickNode(s.cfg.MatchTick, s.runMatchTick)
	if err := s.manager.Register("match-tick", "", nil, matchStart, matchStop); err != nil {
		return err
	}
	dispatchStart, dispatchStop := tickNode(s.cfg.DispatchTick, s.runDispatchTick)
	if err := s.manager.Register("dispatch-tick", "", nil, dispatchStart, dispatchStop); err != nil {
		return err
	}
	sweepStart, sweepStop := tickNode(time.Hour, s.runRetentionSweepIfDue)
	if err := s.manager.Register("retention-sweep", "", nil, sweepStart, sweepStop); err != nil {
		return err
	}
	return s.manager.StartAll()
}

// Stop cancels and waits for every tick node, then halts the activities'
// own background loops.
func (s *Scheduler) Stop() {
	if s.manager != nil {
		if err := s.manager.Shutdown(); err != nil {
			logger.Warnf("scheduler: shutdown: %v", err)
		}
	}
	s.engine.Stop()
	s.dispatcher.Stop()
	s.poller.Stop()
}

// tickNode builds a lifecycle Start/Stop pair that runs fn once immediately
// and then on every interval until its context is canceled. The paired
// StopFunc blocks on the tick goroutine's WaitGroup, so Shutdown lets an
// in-flight call finish its current item before the node is considered
// stopped (spec.md §5's cancellation rule).
func tickNode(interval time.Duration, fn func(ctx context.Context)) (lifecycle.StartFunc, lifecycle.StopFunc) {
	var wg sync.WaitGroup

	start := func(ctx context.Context) (context.Context, error) {
		wg.Go(func() {
			fn(ctx)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fn(ctx)
				}
			}
		})
		return nil, nil
	}

	stop := func(context.Context) error {
		wg.Wait()
		return nil
	}

	return start, stop
}

// runPollTick fetches every subreddit due for a poll (spec.md §4.4/§4.7).
// One subreddit's failure does not block the others.
func (s *Scheduler) runPollTick(ctx context.Context) {
	if err := s.reader.RefreshStale(ctx); err != nil {
		logger.Warnf("scheduler: config refresh: %v", err)
	}

	due, err := s.store.DueSubreddits(ctx, s.clock.Now())
	if err != nil {
		logger.Errorf("scheduler: list due subreddits: %v", err)
		return
	}
	for _, subreddit := range due {
		if err := s.poller.PollSubreddit(ctx, subreddit); err != nil {
			logger.Warnf("scheduler: poll r/%s: %v", subreddit, err)
		}
	}
}

// runMatchTick drains every content row ingested since the last tick,
// oldest first, through the Match Engine (spec.md §4.5/§4.7).
func (s *Scheduler) runMatchTick(ctx context.Context) {
	rows, err := s.store.ContentFetchedSince(ctx, s.matchCursor)
	if err != nil {
		logger.Errorf("scheduler: list new content: %v", err)
		return
	}
	for _, row := range rows {
		if err := s.engine.ProcessContent(ctx, row); err != nil {
			logger.Warnf("scheduler: process content %s: %v", row.ID, err)
		}
		if row.FetchedAt.After(s.matchCursor) {
			s.matchCursor = row.FetchedAt
		}
	}
}

// runDispatchTick drains pending matches for every tenant with at least
// one, applying the batching rule per tenant (spec.md §4.6/§4.7).
func (s *Scheduler) runDispatchTick(ctx context.Context) {
	tenantIDs, err := s.store.PendingTenantIDs(ctx)
	if err != nil {
		logger.Errorf("scheduler: list pending tenants: %v", err)
		return
	}
	for _, tenantID := range tenantIDs {
		snap, ok := s.reader.Get(tenantID)
		if !ok {
			continue
		}
		webhookURL, ok := primaryWebhook(snap)
		if !ok {
			continue
		}
		if err := s.dispatcher.RunTick(ctx, tenantID, webhookURL); err != nil {
			logger.Warnf("scheduler: dispatch tenant %s: %v", tenantID, err)
		}
	}
}

// runRetentionSweepIfDue runs the daily retention sweep once per calendar
// day after the configured anchor time has passed (spec.md §4.7).
func (s *Scheduler) runRetentionSweepIfDue(ctx context.Context) {
	now := s.clock.Now()
	anchor := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.RetentionSweepHour, s.cfg.RetentionSweepMin, 0, 0, now.Location())
	if now.Before(anchor) {
		return
	}
	if sameDay(s.lastSweep, now) {
		return
	}

	cutoff := now.AddDate(0, 0, -s.cfg.RetentionDays)
	matchesDeleted, contentDeleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		logger.Errorf("scheduler: retention sweep: %v", err)
		return
	}
	s.lastSweep = now
	logger.Infof("scheduler: retention sweep removed %d matches, %d content rows older than %s",
		matchesDeleted, contentDeleted, cutoff.Format(time.RFC3339))
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// primaryWebhook returns the tenant's primary active webhook URL, if one
// is configured.
func primaryWebhook(snap tenant.Snapshot) (string, bool) {
	for _, w := range snap.Webhooks {
		if w.IsPrimary && w.IsActive {
			return w.URL, true
		}
	}
	return "", false
}

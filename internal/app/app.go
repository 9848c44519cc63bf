// Package app is the worker's top-level wiring: it connects configuration,
// the durable store, the forum source, the Match Engine, the Alert
// Dispatcher, the Tenant Config Reader, and the Scheduler that drives all
// four on their own cadence. It owns nothing the domain packages don't
// already own themselves — App.Init builds each component once and hands
// it to the Scheduler, then App.Run blocks until the process is told to
// stop.
package app

import (
	"context"
	"fmt"
	"time"

	"reddalert/internal/domain/alerts"
	"reddalert/internal/domain/matchengine"
	"reddalert/internal/domain/reddit"
	"reddalert/internal/domain/scheduler"
	"reddalert/internal/domain/tenant"
	"reddalert/internal/infra/config"
	"reddalert/internal/infra/logger"
	"reddalert/internal/infra/timeutil"
	"reddalert/internal/metrics"
	"reddalert/internal/store"
)

// App aggregates the worker's dependencies and manages their wiring.
// Responsible for:
//   - the durable store (open at startup, closed at shutdown),
//   - the forum source and the Poller/Match Engine/Dispatcher built on it,
//   - the Tenant Config Reader feeding all three their per-tenant config,
//   - the metrics instruments every domain component records against,
//   - constructing the Scheduler, which owns the actual run loop.
type App struct {
	store *store.Store
	inst  *metrics.Instruments
	sched *scheduler.Scheduler
}

// NewApp creates an empty shell. Actual wiring happens in Init.
func NewApp() *App {
	return &App{}
}

// Init opens the store and wires every domain component against it and
// against the loaded EnvConfig. Returns an error if any stage fails; the
// caller is expected to exit without calling Run in that case.
func (a *App) Init(ctx context.Context) error {
	logger.Info("reddalert worker initializing...")

	env := config.Env()

	st, err := store.Open(env.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = st

	inst, err := metrics.New(nil)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("init metrics: %w", err)
	}
	a.inst = inst

	source := reddit.NewHTTPSource(env.ForumAppID, env.ForumAppSecret, env.ForumUserAgent)
	poller := reddit.NewPoller(source, st)
	poller.SetInstruments(inst)

	reader := tenant.New(st, nil)

	engine := matchengine.New(st, reader)
	engine.SetInstruments(inst)

	dispatcher := alerts.New(st, alerts.NewDiscordSender(), nil, nil)
	dispatcher.SetInstruments(inst)

	sweepHour, sweepMin := timeutil.ParseScheduleEntry(env.RetentionSweepTime)
	cfg := scheduler.Config{
		PollTick:           time.Duration(env.PollTickSeconds) * time.Second,
		MatchTick:          time.Duration(env.MatchTickSeconds) * time.Second,
		DispatchTick:       time.Duration(env.DispatchTickSeconds) * time.Second,
		RetentionDays:      env.RetentionDays,
		RetentionSweepHour: sweepHour,
		RetentionSweepMin:  sweepMin,
	}
	a.sched = scheduler.New(cfg, poller, engine, dispatcher, reader, st, nil)

	if err := a.sched.Start(ctx); err != nil {
		_ = st.Close()
		return fmt.Errorf("start scheduler: %w", err)
	}

	logger.Info("reddalert worker initialized")
	return nil
}

// Run blocks until ctx is canceled, then tears down the Scheduler and
// closes the store.
func (a *App) Run(ctx context.Context) error {
	logger.Info("reddalert worker running...")
	<-ctx.Done()

	logger.Info("reddalert worker shutting down...")
	a.sched.Stop()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

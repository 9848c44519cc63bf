// Package metrics is the worker's OTEL instrument set, grounded on the
// pack's own otel/metric usage (nevindra-oasis's observer package): a
// fixed, pre-registered Instruments struct handed to each domain package at
// wiring time, instead of ad hoc metric.Meter lookups scattered through the
// codebase.
//
// No OTLP exporter is wired here. New falls back to a no-op
// metric.MeterProvider unless the caller supplies one of their own, so the
// worker always has a safe Instruments value to record against; turning on
// real export is a deployment concern outside spec.md's external-interfaces
// list.
package metrics

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const scopeName = "reddalert"

// Instruments holds every counter/histogram the pipeline records against.
type Instruments struct {
	Meter metric.Meter

	PostsFetched   metric.Int64Counter
	MatchesFound   metric.Int64Counter
	AlertsSent     metric.Int64Counter
	AlertsFailed   metric.Int64Counter
	SubredditFlips metric.Int64Counter

	PollDuration     metric.Float64Histogram
	DispatchDuration metric.Float64Histogram
}

// New builds an Instruments set against provider. Pass nil to fall back to
// a no-op provider (no recording, no allocation cost beyond the struct).
func New(provider metric.MeterProvider) (*Instruments, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter(scopeName)

	postsFetched, err := meter.Int64Counter("reddalert.posts.fetched",
		metric.WithDescription("Reddit posts fetched from subreddit listings"),
		metric.WithUnit("{item}"))
	if err != nil {
		return nil, err
	}
	matchesFound, err := meter.Int64Counter("reddalert.matches.found",
		metric.WithDescription("keyword matches recorded by the match engine"),
		metric.WithUnit("{match}"))
	if err != nil {
		return nil, err
	}
	alertsSent, err := meter.Int64Counter("reddalert.alerts.sent",
		metric.WithDescription("matches successfully delivered to a webhook"),
		metric.WithUnit("{alert}"))
	if err != nil {
		return nil, err
	}
	alertsFailed, err := meter.Int64Counter("reddalert.alerts.failed",
		metric.WithDescription("matches that exhausted delivery retries"),
		metric.WithUnit("{alert}"))
	if err != nil {
		return nil, err
	}
	subredditFlips, err := meter.Int64Counter("reddalert.subreddits.status_flips",
		metric.WithDescription("subreddit status transitions (active/inaccessible/private)"),
		metric.WithUnit("{flip}"))
	if err != nil {
		return nil, err
	}
	pollDuration, err := meter.Float64Histogram("reddalert.poll.duration",
		metric.WithDescription("time spent fetching one subreddit's new posts"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	dispatchDuration, err := meter.Float64Histogram("reddalert.dispatch.duration",
		metric.WithDescription("time spent delivering one batch of matches to a webhook"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Meter:            meter,
		PostsFetched:     postsFetched,
		MatchesFound:     matchesFound,
		AlertsSent:       alertsSent,
		AlertsFailed:     alertsFailed,
		SubredditFlips:   subredditFlips,
		PollDuration:     pollDuration,
		DispatchDuration: dispatchDuration,
	}, nil
}

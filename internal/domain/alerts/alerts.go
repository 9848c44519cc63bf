// Package alerts implements the Alert Dispatcher (spec.md §4.6): batches a
// tenant's pending matches by their 2-minute accumulation window, formats
// them into Discord embeds, and delivers them to the tenant's primary
// webhook with bounded retry.
//
// The shape — a PreparedSender interface returning a SendOutcome the
// caller branches on (retry/permanent-failure/success), deciding whether
// to requeue or record a terminal failure — is the teacher's
// notifications.Queue/PreparedSender contract, adapted from an in-memory
// job backlog to pulling directly off the durable store (Reddalert has no
// in-memory backlog to persist: the store's alertStatus column already is
// the durable queue).
package alerts

import (
	"context"
	"errors"
	"time"

	"reddalert/internal/domain/errs"
	"reddalert/internal/infra/logger"
	"reddalert/internal/infra/throttle"
	"reddalert/internal/metrics"
	"reddalert/internal/store"
)

// errRetryRequested signals a retryable send with no underlying error of
// its own (e.g. a non-2xx the sender classified as transient without
// also returning an error), so the throttler's retry loop still sees a
// non-nil err to act on.
var errRetryRequested = errors.New("alerts: webhook send requested retry")

// permanentSendErr wraps a send failure the sender marked non-retryable
// (outcome.Retry == false), so the Throttler's StopRetryer check returns
// it immediately instead of spending its backoff budget on a webhook
// that will never succeed (a bad URL, a permanently rejected payload).
type permanentSendErr struct{ err error }

func (e *permanentSendErr) Error() string { return e.err.Error() }
func (e *permanentSendErr) Unwrap() error { return e.err }
func (e *permanentSendErr) StopRetry() bool { return true }

// batchWindow is spec.md §4.6's sliding accumulation window.
const batchWindow = 2 * time.Minute

// batchThreshold is the minimum count within batchWindow that triggers a
// single batched message instead of one message per match.
const batchThreshold = 3

// maxEmbedsPerCall bounds a single webhook POST's embed count; overflow
// is split across additional calls.
const maxEmbedsPerCall = 10

// maxDeliveryAttempts is spec.md §4.6's retry budget before a match is
// marked failed and handed to the fallback path.
const maxDeliveryAttempts = 3

// SendOutcome reports what happened to one webhook delivery attempt,
// mirroring the teacher's PermanentFailures/NetworkDown/Retry split so
// the dispatcher can decide requeue vs terminal failure without the
// sender needing to know about match rows at all.
type SendOutcome struct {
	Retry bool // honor backoff and try again later, attempt budget permitting
}

// WebhookSender delivers one already-formatted payload to a webhook URL.
// The production implementation is *DiscordSender; tests substitute a
// fake.
type WebhookSender interface {
	Send(ctx context.Context, webhookURL string, payload EmbedPayload) (SendOutcome, error)
}

// FallbackNotifier is invoked once a match exhausts its retry budget
// (spec.md §7's fallback-enqueue rule). The production implementation
// would email the tenant; tests substitute a fake or nil.
type FallbackNotifier interface {
	NotifyDeliveryFailed(ctx context.Context, tenantID string, m store.Match) error
}

// Dispatcher drains a tenant's pending matches on each tick, batching per
// spec.md §4.6's rule. Each webhook call is retried under a Throttler
// configured for exactly 3 attempts total on a base-4 exponential backoff
// (about 1s before the second attempt and 4s before the third) with
// ±20% jitter — the same token-bucket-plus-backoff machinery the Poller
// uses, reconfigured for the Dispatcher's own schedule and with Discord's
// 429 Retry-After wired through WebhookRetryAfter instead of Reddit's.
type Dispatcher struct {
	store     *store.Store
	sender    WebhookSender
	fallback  FallbackNotifier
	now       func() time.Time
	throttler *throttle.Throttler
	inst      *metrics.Instruments
}

// SetInstruments attaches a metrics.Instruments set for the Dispatcher to
// record against. Nil-safe: an unset Dispatcher records nothing.
func (d *Dispatcher) SetInstruments(inst *metrics.Instruments) { d.inst = inst }

// New wires a Dispatcher. now defaults to time.Now if nil, overridable in
// tests for deterministic batch-window math. Call Start/Stop to run the
// retry throttler's background refill loop.
func New(st *store.Store, sender WebhookSender, fallback FallbackNotifier, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	// maxDeliveryAttempts counts the initial send, so the retry budget is
	// maxDeliveryAttempts-1: Do's attempt>=maxRetries guard trips on the
	// (maxRetries+1)th call, giving exactly maxDeliveryAttempts total sends.
	th := throttle.New(5,
		throttle.WithMaxRetries(maxDeliveryAttempts-1),
		throttle.WithWaitExtractors(WebhookRetryAfter),
		throttle.WithBackoffBase(4),
		throttle.WithJitter(0.8, 1.2))
	return &Dispatcher{store: st, sender: sender, fallback: fallback, now: now, throttler: th}
}

// Start begins the Dispatcher's retry throttler.
func (d *Dispatcher) Start(ctx context.Context) { d.throttler.Start(ctx) }

// Stop halts the Dispatcher's retry throttler.
func (d *Dispatcher) Stop() { d.throttler.Stop() }

// RunTick processes one dispatch cycle for a single tenant: matches that
// have aged past batchWindow are dispatched individually; if batchWindow's
// worth of recent matches meets batchThreshold, they go out as one batch.
// Matches younger than the window that don't yet meet the threshold are
// left pending for a future tick, per spec.md §4.6.
func (d *Dispatcher) RunTick(ctx context.Context, tenantID, webhookURL string) error {
	pending, err := d.store.PendingMatchesForTenant(ctx, tenantID)
	if err != nil {
		return errs.Wrap(errs.KindWebhookDelivery, "alerts.RunTick", tenantID, err, "load pending matches")
	}
	if len(pending) == 0 {
		return nil
	}

	now := d.now()
	cutoff := now.Add(-batchWindow)

	var recent, aged []store.Match
	for _, m := range pending {
		if m.DetectedAt.Before(cutoff) {
			aged = append(aged, m)
		} else {
			recent = append(recent, m)
		}
	}

	for _, m := range aged {
		d.deliverOne(ctx, tenantID, webhookURL, m)
	}

	if len(recent) >= batchThreshold {
		d.deliverBatch(ctx, tenantID, webhookURL, recent)
	}
	// recent < batchThreshold: leave pending for the next tick to
	// reconsider once more matches accumulate or the window ages them out.
	return nil
}

func (d *Dispatcher) deliverOne(ctx context.Context, tenantID, webhookURL string, m store.Match) {
	payload := EmbedPayload{Embeds: []Embed{embedFor(m)}}
	d.send(ctx, tenantID, webhookURL, payload, []store.Match{m})
}

func (d *Dispatcher) deliverBatch(ctx context.Context, tenantID, webhookURL string, matches []store.Match) {
	for start := 0; start < len(matches); start += maxEmbedsPerCall {
		end := min(start+maxEmbedsPerCall, len(matches))
		chunk := matches[start:end]

		embeds := make([]Embed, len(chunk))
		for i, m := range chunk {
			embeds[i] = embedFor(m)
		}
		d.send(ctx, tenantID, webhookURL, EmbedPayload{Embeds: embeds}, chunk)
	}
}

// send delivers one webhook call covering the given matches under the
// Dispatcher's retry throttler (base-4 exponential backoff of about 1s, 4s,
// ±jitter, honoring any 429 Retry-After), and updates every covered
// match's state based on the final outcome. A call failure applies the
// same outcome to every match it covers, since Discord has no
// partial-success signal for a multi-embed payload.
func (d *Dispatcher) send(ctx context.Context, tenantID, webhookURL string, payload EmbedPayload, matches []store.Match) {
	start := d.now()
	defer func() {
		if d.inst != nil {
			d.inst.DispatchDuration.Record(ctx, float64(d.now().Sub(start).Milliseconds()))
		}
	}()

	sendErr := d.throttler.Do(ctx, func() error {
		outcome, err := d.sender.Send(ctx, webhookURL, payload)
		switch {
		case err == nil && outcome.Retry:
			return errRetryRequested
		case err == nil:
			return nil
		case outcome.Retry:
			return err
		default:
			return &permanentSendErr{err: err}
		}
	})

	if sendErr == nil {
		now := d.now()
		for _, m := range matches {
			if err := d.store.MarkMatchSent(ctx, m.ID, now); err != nil {
				logger.Warnf("alerts: mark sent for match %s: %v", m.ID, err)
			}
		}
		if d.inst != nil {
			d.inst.AlertsSent.Add(ctx, int64(len(matches)))
		}
		return
	}

	logger.Warnf("alerts: webhook delivery exhausted retries for tenant %s: %v", tenantID, sendErr)
	for _, m := range matches {
		if _, err := d.store.IncrementDeliveryAttempt(ctx, m.ID); err != nil {
			logger.Warnf("alerts: increment delivery attempt for match %s: %v", m.ID, err)
		}
		if err := d.store.MarkMatchFailed(ctx, m.ID); err != nil {
			logger.Warnf("alerts: mark failed for match %s: %v", m.ID, err)
		}
		if d.fallback != nil {
			if fbErr := d.fallback.NotifyDeliveryFailed(ctx, tenantID, m); fbErr != nil {
				logger.Warnf("alerts: fallback notify for match %s: %v", m.ID, fbErr)
			}
		}
	}
	if d.inst != nil {
		d.inst.AlertsFailed.Add(ctx, int64(len(matches)))
	}
}

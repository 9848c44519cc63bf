// Package throttle provides a shared rate-limit-plus-retry mechanism for
// outbound calls to external services. At its core is a token bucket
// (rate + burst) paired with exponential backoff and jitter. Server-supplied
// wait hints (Retry-After, rate-limit headers, etc.) are supported through
// pluggable WaitExtractors. StopRetryer lets a caller abort retries
// immediately. The Throttler is safe for concurrent use: Do may be called
// from multiple goroutines; Start/Stop are idempotent.
//
// Reddalert uses one Throttler instance per outbound integration: one
// retrying Poller calls to the forum source (its ≤100/min pacing comes from
// the Poller's own x/time/rate limiter; this Throttler's rate is 100/sec)
// and one retrying Dispatcher calls to a tenant's webhook (3 attempts,
// base-4 backoff of about 1s then 4s, honoring any 429 retry-after).
package throttle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// burstMultiplier sets the default burst as a multiple of rate. A value of
// 2 means the bucket can briefly absorb up to 2*rate calls.
const burstMultiplier = 2

// WaitExtractor inspects an error and, if it recognizes a server-supplied
// wait hint, returns the duration to wait. The bool reports whether the
// extractor recognized the error shape. Extractors are tried in
// registration order; the first match wins.
type WaitExtractor func(err error) (time.Duration, bool)

// StopRetryer marks an error as one that must abort retries immediately.
// Any error implementing this interface is returned to the caller unwaited.
type StopRetryer interface {
	StopRetry() bool
}

// Option configures a Throttler at construction time.
type Option func(*Throttler)

// WithMaxRetries bounds the number of retries. <=0 means unlimited.
func WithMaxRetries(maxRetries int) Option {
	return func(t *Throttler) {
		t.maxRetries = maxRetries
	}
}

// WithBurst overrides the token bucket capacity. burst<=0 falls back to the
// default of 2*rate.
func WithBurst(burst int) Option {
	return func(t *Throttler) {
		t.burst = burst
	}
}

// WithWaitExtractors registers extractors that recognize server-supplied
// retry delays.
func WithWaitExtractors(extractors ...WaitExtractor) Option {
	return func(t *Throttler) {
		if len(extractors) == 0 {
			return
		}
		cloned := make([]WaitExtractor, len(extractors))
		copy(cloned, extractors)
		t.waitExtractors = append(t.waitExtractors, cloned...)
	}
}

// WithBackoffBase overrides the exponential backoff base (default 2.0,
// giving a 1s/2s/4s/8s... schedule). A caller needing a steeper schedule —
// e.g. the Dispatcher's 1s/4s/16s — passes 4.0.
func WithBackoffBase(base float64) Option {
	return func(t *Throttler) {
		if base > 1 {
			t.backoffBase = base
		}
	}
}

// WithJitter overrides the multiplicative jitter range applied to each
// backoff delay. Default is [0.85, 1.15] (±15%). min/max describe the full
// multiplier range, e.g. WithJitter(0.8, 1.2) for ±20%.
func WithJitter(min, max float64) Option {
	return func(t *Throttler) {
		if max > min {
			t.jitterMin = min
			t.jitterRange = max - min
		}
	}
}

// WithRand sets the randomness source. Mostly useful for deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(t *Throttler) {
		if r != nil {
			t.randomFn = r.Float64
		}
	}
}

// WithRandom sets the jitter random-number function directly (for tests).
func WithRandom(fn func() float64) Option {
	return func(t *Throttler) {
		if fn != nil {
			t.randomFn = fn
		}
	}
}

// ErrNotStarted is returned when Do is called before Start.
var ErrNotStarted = errors.New("throttle: Start must be called before Do")

// Throttler bundles a token bucket (rate + burst) with an exponential
// backoff-plus-jitter retry strategy and WaitExtractor-based server-delay
// support. Safe for concurrent use: Do may run from many goroutines;
// Start/Stop are idempotent.
type Throttler struct {
	rate  int
	burst int

	tokens chan struct{}

	waitExtractors []WaitExtractor
	maxRetries     int
	backoffBase    float64
	jitterMin      float64
	jitterRange    float64

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	rootCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	randomFn func() float64
}

// New creates a throttler limiting calls to rate operations/sec. Default
// burst is 2*rate with a floor of 1. Start must be called separately to
// begin refilling the bucket.
func New(rate int, opts ...Option) *Throttler {
	if rate <= 0 {
		rate = 1
	}

	t := &Throttler{
		rate:        rate,
		burst:       rate * burstMultiplier,
		maxRetries:  -1,
		backoffBase: 2.0,
		jitterMin:   0.85,
		jitterRange: 0.3,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.burst <= 0 {
		t.burst = rate * burstMultiplier
	}
	if t.burst < 1 {
		t.burst = 1
	}

	if t.randomFn == nil {
		t.randomFn = rand.Float64
	}

	return t
}

// Start allocates the token channel, pre-fills the bucket, and launches the
// refill goroutine. Idempotent; a nil ctx becomes context.Background().
func (t *Throttler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	t.startOnce.Do(func() {
		t.rootCtx, t.cancel = context.WithCancel(ctx)
		t.tokens = make(chan struct{}, t.burst)
		for range t.burst {
			t.tokens <- struct{}{}
		}
		t.wg.Go(func() {
			t.refillLoop()
		})
	})
}

// Stop cancels the refill loop and waits for it to exit. Idempotent.
func (t *Throttler) Stop() {
	if !t.isStarted() {
		return
	}
	t.stopOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		t.wg.Wait()
	})
}

// SetMaxRetries changes the retry limit after construction. <=0 continues
// to mean unlimited. Safe for concurrent use.
func (t *Throttler) SetMaxRetries(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxRetries = n
}

// Do runs fn under the token bucket and retry policy:
//  1. wait for a token (honoring ctx and Stop);
//  2. call fn;
//  3. on error: a StopRetryer aborts immediately; a canceled context
//     propagates; a recognized wait hint sleeps and retries without
//     growing attempt; otherwise exponential backoff with jitter, bounded
//     by the retry limit.
//
// Returns nil on success or the last error once the strategy is exhausted.
func (t *Throttler) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	root := t.rootContext()
	if root == nil {
		return ErrNotStarted
	}
	maxRetries := t.currentMaxRetries()

	attempt := 0
	for {
		if err := t.takeToken(ctx, root); err != nil {
			return err
		}

		callErr := fn()
		if callErr == nil {
			return nil
		}

		var stopper StopRetryer
		waitDur, hasWait := t.extractWait(callErr)

		switch {
		case errors.As(callErr, &stopper) && stopper.StopRetry():
			return callErr

		case errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded):
			return callErr

		case hasWait:
			if wErr := t.wait(ctx, root, waitDur); wErr != nil {
				return wErr
			}
			continue
		}

		if maxRetries > 0 && attempt >= maxRetries {
			return fmt.Errorf("throttle: max retries reached (%d): last error: %w", maxRetries, callErr)
		}

		sleep := t.expBackoff(attempt)
		attempt++
		if wErr := t.wait(ctx, root, sleep); wErr != nil {
			return wErr
		}
	}
}

func (t *Throttler) rootContext() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootCtx
}

func (t *Throttler) isStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootCtx != nil
}

func (t *Throttler) currentMaxRetries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxRetries
}

// takeToken blocks until a token is available or a context is canceled.
// When the throttler itself is stopped, returns context.Canceled.
func (t *Throttler) takeToken(ctx, rootCtx context.Context) error {
	tokenCh := t.tokenChannel()
	if tokenCh == nil {
		return ErrNotStarted
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rootCtx.Done():
		return context.Canceled
	case <-tokenCh:
		return nil
	}
}

func (t *Throttler) tokenChannel() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens
}

// refillLoop adds one token every 1/rate seconds, never exceeding burst.
func (t *Throttler) refillLoop() {
	rootCtx := t.rootContext()
	if rootCtx == nil {
		return
	}

	interval := time.Second / time.Duration(t.rate)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			return
		case <-ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

func (t *Throttler) extractWait(err error) (time.Duration, bool) {
	for _, extractor := range t.waitExtractors {
		if extractor == nil {
			continue
		}
		if wait, ok := extractor(err); ok {
			return wait, true
		}
	}
	return 0, false
}

func (t *Throttler) wait(ctx, rootCtx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer stopTimer(timer)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rootCtx.Done():
		return context.Canceled
	case <-timer.C:
		return nil
	}
}

// expBackoff computes backoffBase^attempt seconds, capped at 60s, scaled by
// the configured jitter range (default [0.85, 1.15]).
func (t *Throttler) expBackoff(attempt int) time.Duration {
	const maxSeconds = 60.0

	base := math.Pow(t.backoffBase, float64(attempt))
	if base > maxSeconds {
		base = maxSeconds
	}

	jitter := t.random()*t.jitterRange + t.jitterMin
	seconds := base * jitter
	return time.Duration(seconds * float64(time.Second))
}

func (t *Throttler) random() float64 {
	if t.randomFn == nil {
		return rand.Float64() // #nosec G404
	}
	return t.randomFn()
}

func stopTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

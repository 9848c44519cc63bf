// Package concurrency holds helper infrastructure for concurrent execution.
// This file implements Deduplicator, a thread-safe "seen recently" cache
// that suppresses repeated processing of an event within a given time
// window.
//
// Reddalert layers two independent dedup mechanisms (spec.md §4.3): content
// dedup on ingestion relies on the store's unique (subreddit, contentType,
// contentHash) index and lives in internal/store; this in-memory set backs
// match dedup on emission — an additional short-term guard in front of the
// store's unique (tenantId, keywordId, contentId) constraint, so a re-run of
// the match engine over already-processed content skips a DB round trip
// instead of relying on the unique-conflict error path every time.
package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reddalert/internal/infra/logger"
)

// Deduplicator holds "signatures" of recently processed events and decides
// whether the next occurrence counts as a repeat within the configured
// window. Safe for concurrent use.
type Deduplicator struct {
	mu     sync.Mutex           // guards seen against concurrent goroutines
	seen   map[string]time.Time // key -> expireAt; lets repeat checks be O(1)
	window time.Duration        // dedup window; before expireAt, an event is a repeat

	runMu  sync.Mutex         // guards start/stop of the background cleanup goroutine
	cancel context.CancelFunc // stops the cleanup loop if one was started
	wg     sync.WaitGroup     // waits for the background goroutine to exit on Stop
}

// NewDeduplicator creates a repeat-suppression cache with a window of
// windowSec seconds. Zero means "no repeats" only at the current instant, so
// in practice callers pass a positive window (match dedup uses 120s, wide
// enough to straddle a match tick without growing unbounded).
func NewDeduplicator(windowSec int) *Deduplicator {
	return &Deduplicator{
		seen:   make(map[string]time.Time),
		window: time.Duration(windowSec) * time.Second,
	}
}

// Start launches the background goroutine that purges stale keys. Repeated
// calls are safe and ignored. A nil context aborts the start.
func (d *Deduplicator) Start(ctx context.Context) {
	if ctx == nil {
		return
	}

	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.cancel != nil {
		return
	}

	// Decouple the cleanup loop's lifetime from the caller's context via our
	// own CancelFunc.
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Go(func() {
		// Sweep expired entries once a minute so the map doesn't grow forever.
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.Cleanup()
			}
		}
	})
}

// Stop cleanly stops the background cleanup and waits for it to exit,
// guaranteeing no cleanup goroutine races a concurrent map mutation after
// Stop returns.
func (d *Deduplicator) Stop() {
	d.runMu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.runMu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	d.wg.Wait()
}

// SeenMatch reports whether a (tenantId, keywordId, contentId) match has
// already been emitted within the dedup window. Returns true if the entry is
// still live (a repeat); otherwise it registers a fresh entry expiring after
// d.window and returns false.
func (d *Deduplicator) SeenMatch(tenantID, keywordID, contentID string) bool {
	key := fmt.Sprintf("%s:%s:%s", tenantID, keywordID, contentID)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		logger.Debugf("match dedup hit: %s", key)
		return true
	}
	d.seen[key] = now.Add(d.window)
	return false
}

// Cleanup removes every entry past its expiry. Safe for concurrent use and
// may be called either from the background loop (via Start) or synchronously.
func (d *Deduplicator) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
}

// Package tenant implements the Tenant Config Reader (spec.md §4.9): an
// in-memory, copy-on-write snapshot of each tenant's active keywords,
// monitored subreddits, and webhooks, refreshed from the durable store on
// an API-signaled config_version bump or a time-to-live fallback. It is the
// only path the rest of the pipeline uses to read tenant configuration —
// the store itself, and the version column in particular, exists so the
// API can be the only writer.
//
// The singleton-plus-mutex-plus-periodic-refresh shape is the teacher's
// internal/infra/config.Config pattern, adapted from a process-wide,
// load-once environment snapshot to a per-tenant cache with many
// independent entries, each invalidated on its own schedule.
package tenant

import (
	"context"
	"sync"
	"time"

	"reddalert/internal/domain/matchengine"
	"reddalert/internal/infra/logger"
	"reddalert/internal/store"
)

// defaultTTL is the fallback refresh interval applied when no version bump
// has been observed (spec.md §4.9).
const defaultTTL = 60 * time.Second

// Snapshot is one tenant's cached configuration.
type Snapshot struct {
	Version    int64
	Keywords   []store.Keyword
	Subreddits []store.MonitoredSubreddit
	Webhooks   []store.WebhookConfig
	loadedAt   time.Time
}

// Reader caches a Snapshot per tenant, keyed by tenant ID. Readers take a
// read lock; refreshes build each Snapshot outside the lock and swap it in
// under the write lock, so concurrent callers see either the old or the
// new snapshot in full, never a partial update.
type Reader struct {
	store *store.Store
	ttl   time.Duration
	now   func() time.Time

	mu        sync.RWMutex
	snapshots map[string]Snapshot

	// subredditIndex maps a subreddit name to the tenant IDs currently
	// watching it, rebuilt alongside snapshots so KeywordsForSubreddit
	// doesn't have to scan every tenant on every lookup.
	subredditIndex map[string][]string
}

// New wires a Reader against the durable store. now defaults to time.Now
// if nil, overridable in tests for deterministic TTL expiry.
func New(st *store.Store, now func() time.Time) *Reader {
	if now == nil {
		now = time.Now
	}
	return &Reader{
		store:          st,
		ttl:            defaultTTL,
		now:            now,
		snapshots:      make(map[string]Snapshot),
		subredditIndex: make(map[string][]string),
	}
}

// RefreshAll reloads every active tenant's snapshot unconditionally,
// suitable for the Scheduler to call at startup and on its own periodic
// tick. A failure for one tenant does not prevent others from refreshing
// (spec.md §5: tenant-scoped failures stay isolated); the previous snapshot
// for that tenant is kept on failure.
func (r *Reader) RefreshAll(ctx context.Context) error {
	ids, err := r.store.ActiveTenantIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.refreshTenant(ctx, id); err != nil {
			logger.Warnf("tenant: refresh %s: %v", id, err)
		}
	}
	return nil
}

// RefreshStale reloads only tenants whose cached snapshot has either aged
// past the TTL or fallen behind the store's config_version — the cheap
// check the Scheduler can run on every tick without a full reload.
func (r *Reader) RefreshStale(ctx context.Context) error {
	ids, err := r.store.ActiveTenantIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		stale, err := r.isStale(ctx, id)
		if err != nil {
			logger.Warnf("tenant: version check %s: %v", id, err)
			continue
		}
		if !stale {
			continue
		}
		if err := r.refreshTenant(ctx, id); err != nil {
			logger.Warnf("tenant: refresh %s: %v", id, err)
		}
	}
	return nil
}

func (r *Reader) isStale(ctx context.Context, tenantID string) (bool, error) {
	r.mu.RLock()
	snap, ok := r.snapshots[tenantID]
	r.mu.RUnlock()
	if !ok {
		return true, nil
	}
	if r.now().Sub(snap.loadedAt) >= r.ttl {
		return true, nil
	}
	version, err := r.store.TenantConfigVersion(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return version != snap.Version, nil
}

func (r *Reader) refreshTenant(ctx context.Context, tenantID string) error {
	version, err := r.store.TenantConfigVersion(ctx, tenantID)
	if err != nil {
		return err
	}
	keywords, err := r.store.TenantKeywords(ctx, tenantID)
	if err != nil {
		return err
	}
	subreddits, err := r.store.TenantSubreddits(ctx, tenantID)
	if err != nil {
		return err
	}
	webhooks, err := r.store.TenantWebhooks(ctx, tenantID)
	if err != nil {
		return err
	}

	snap := Snapshot{
		Version:    version,
		Keywords:   keywords,
		Subreddits: subreddits,
		Webhooks:   webhooks,
		loadedAt:   r.now(),
	}

	r.mu.Lock()
	r.snapshots[tenantID] = snap
	r.reindexLocked(tenantID, subreddits)
	r.mu.Unlock()
	return nil
}

// reindexLocked rebuilds this tenant's entries in subredditIndex. Callers
// must hold mu for writing.
func (r *Reader) reindexLocked(tenantID string, subs []store.MonitoredSubreddit) {
	for name, tenants := range r.subredditIndex {
		r.subredditIndex[name] = removeTenant(tenants, tenantID)
		if len(r.subredditIndex[name]) == 0 {
			delete(r.subredditIndex, name)
		}
	}
	for _, sub := range subs {
		r.subredditIndex[sub.Name] = appendUnique(r.subredditIndex[sub.Name], tenantID)
	}
}

func removeTenant(ids []string, tenantID string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != tenantID {
			out = append(out, id)
		}
	}
	return out
}

func appendUnique(ids []string, tenantID string) []string {
	for _, id := range ids {
		if id == tenantID {
			return ids
		}
	}
	return append(ids, tenantID)
}

// Get returns a tenant's cached snapshot and whether one exists yet.
func (r *Reader) Get(tenantID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[tenantID]
	return snap, ok
}

// Tenants returns the set of tenant IDs currently cached.
func (r *Reader) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.snapshots))
	for id := range r.snapshots {
		out = append(out, id)
	}
	return out
}

// KeywordsForSubreddit satisfies matchengine.ConfigSource: every active
// (tenant, keyword) pair subscribed to subreddit, across every cached
// tenant, paired with the MonitoredSubreddit row carrying that tenant's
// per-subreddit filters.
func (r *Reader) KeywordsForSubreddit(_ context.Context, subreddit string) ([]matchengine.TenantKeyword, error) {
	r.mu.RLock()
	tenantIDs := append([]string(nil), r.subredditIndex[subreddit]...)
	snapshots := make(map[string]Snapshot, len(tenantIDs))
	for _, id := range tenantIDs {
		snapshots[id] = r.snapshots[id]
	}
	r.mu.RUnlock()

	var pairs []matchengine.TenantKeyword
	for _, id := range tenantIDs {
		snap := snapshots[id]
		var sub store.MonitoredSubreddit
		found := false
		for _, s := range snap.Subreddits {
			if s.Name == subreddit {
				sub = s
				found = true
				break
			}
		}
		if !found || sub.Status != store.SubredditActive {
			continue
		}
		for _, kw := range snap.Keywords {
			pairs = append(pairs, matchengine.TenantKeyword{Keyword: kw, Subreddit: sub})
		}
	}
	return pairs, nil
}

var _ matchengine.ConfigSource = (*Reader)(nil)

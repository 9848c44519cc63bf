package store

import (
	"context"
	"time"
)

// CreateTenant inserts a new tenant row with config_version=1.
func (s *Store) CreateTenant(ctx context.Context, t Tenant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, email, poll_interval_minutes, config_version, created_at) VALUES (?, ?, ?, 1, ?)`,
		t.ID, t.Email, t.PollIntervalMinutes, t.CreatedAt.Unix())
	return err
}

// CreateKeyword inserts a new keyword under a tenant.
func (s *Store) CreateKeyword(ctx context.Context, k Keyword) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO keywords
			(id, tenant_id, phrases, exclusions, proximity_window, require_order, use_stemming, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.TenantID, k.Phrases, k.Exclusions, k.ProximityWindow, k.RequireOrder, k.UseStemming, k.IsActive, k.CreatedAt.Unix())
	return err
}

// CreateMonitoredSubreddit inserts a new tenant subscription to a subreddit.
func (s *Store) CreateMonitoredSubreddit(ctx context.Context, sub MonitoredSubreddit) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO monitored_subreddits
			(id, tenant_id, name, status, include_media_posts, dedupe_crossposts, filter_bots)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.TenantID, sub.Name, string(sub.Status), sub.IncludeMediaPosts, sub.DedupeCrossposts, sub.FilterBots)
	return err
}

// CreateWebhook inserts a new tenant webhook target.
func (s *Store) CreateWebhook(ctx context.Context, w WebhookConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_configs (id, tenant_id, url, is_primary, is_active) VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.TenantID, w.URL, w.IsPrimary, w.IsActive)
	return err
}

// TenantConfigVersion returns a tenant's monotonic config_version, bumped
// by the API layer on any keyword/subreddit/webhook write (spec.md §4.9).
func (s *Store) TenantConfigVersion(ctx context.Context, tenantID string) (int64, error) {
	var v int64
	err := s.db.GetContext(ctx, &v, `SELECT config_version FROM tenants WHERE id = ?`, tenantID)
	return v, err
}

// ActiveTenantIDs returns every tenant ID known to the store, for the
// scheduler to drive per-tenant dispatch/config refresh loops over.
func (s *Store) ActiveTenantIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT id FROM tenants`)
	return ids, err
}

// TenantKeywords returns a tenant's active keywords.
func (s *Store) TenantKeywords(ctx context.Context, tenantID string) ([]Keyword, error) {
	var rows []keywordRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM keywords WHERE tenant_id = ? AND is_active = 1`, tenantID); err != nil {
		return nil, err
	}
	out := make([]Keyword, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// TenantSubreddits returns a tenant's monitored subreddits.
func (s *Store) TenantSubreddits(ctx context.Context, tenantID string) ([]MonitoredSubreddit, error) {
	var rows []subredditRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM monitored_subreddits WHERE tenant_id = ?`, tenantID); err != nil {
		return nil, err
	}
	out := make([]MonitoredSubreddit, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// TenantWebhooks returns a tenant's configured webhooks.
func (s *Store) TenantWebhooks(ctx context.Context, tenantID string) ([]WebhookConfig, error) {
	var rows []webhookRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM webhook_configs WHERE tenant_id = ? AND is_active = 1`, tenantID); err != nil {
		return nil, err
	}
	out := make([]WebhookConfig, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// SetSubredditStatus flips a subreddit's status for every tenant row with
// that name (spec.md §4.4 applies a fetch failure across all subscribing
// tenants at once, since the content is shared).
func (s *Store) SetSubredditStatus(ctx context.Context, name string, status SubredditStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE monitored_subreddits SET status = ? WHERE name = ?`, string(status), name)
	return err
}

// TouchSubredditPolled stamps last_polled_at for every tenant row watching
// name, after a successful poll cycle.
func (s *Store) TouchSubredditPolled(ctx context.Context, name string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE monitored_subreddits SET last_polled_at = ? WHERE name = ?`, at.Unix(), name)
	return err
}

// DueSubreddits returns the distinct, active subreddit names whose next
// poll is due at now: either never polled, or last polled at least the
// tightest subscribing tenant's poll interval ago (spec.md §4.4/§4.7 — the
// Poll tick's per-subreddit cadence gate). Content is shared across
// tenants watching the same subreddit, so the fetch runs on whichever
// tenant asked for the shortest interval.
func (s *Store) DueSubreddits(ctx context.Context, now time.Time) ([]string, error) {
	var rows []struct {
		Name         string `db:"name"`
		MinInterval  int    `db:"min_interval"`
		LastPolledAt *int64 `db:"last_polled_at"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT ms.name AS name,
		        MIN(t.poll_interval_minutes) AS min_interval,
		        MAX(ms.last_polled_at) AS last_polled_at
		 FROM monitored_subreddits ms
		 JOIN tenants t ON t.id = ms.tenant_id
		 WHERE ms.status = ?
		 GROUP BY ms.name`, string(SubredditActive))
	if err != nil {
		return nil, err
	}

	var due []string
	for _, r := range rows {
		if r.LastPolledAt == nil {
			due = append(due, r.Name)
			continue
		}
		next := time.Unix(*r.LastPolledAt, 0).Add(time.Duration(r.MinInterval) * time.Minute)
		if !next.After(now) {
			due = append(due, r.Name)
		}
	}
	return due, nil
}

type keywordRow struct {
	ID              string `db:"id"`
	TenantID        string `db:"tenant_id"`
	Phrases         string `db:"phrases"`
	Exclusions      string `db:"exclusions"`
	ProximityWindow int    `db:"proximity_window"`
	RequireOrder    bool   `db:"require_order"`
	UseStemming     bool   `db:"use_stemming"`
	IsActive        bool   `db:"is_active"`
	CreatedAt       int64  `db:"created_at"`
}

func (r keywordRow) toDomain() Keyword {
	return Keyword{
		ID:              r.ID,
		TenantID:        r.TenantID,
		Phrases:         r.Phrases,
		Exclusions:      r.Exclusions,
		ProximityWindow: r.ProximityWindow,
		RequireOrder:    r.RequireOrder,
		UseStemming:     r.UseStemming,
		IsActive:        r.IsActive,
		CreatedAt:       time.Unix(r.CreatedAt, 0).UTC(),
	}
}

type subredditRow struct {
	ID                string  `db:"id"`
	TenantID          string  `db:"tenant_id"`
	Name              string  `db:"name"`
	Status            string  `db:"status"`
	IncludeMediaPosts bool    `db:"include_media_posts"`
	DedupeCrossposts  bool    `db:"dedupe_crossposts"`
	FilterBots        bool    `db:"filter_bots"`
	LastPolledAt      *int64  `db:"last_polled_at"`
}

func (r subredditRow) toDomain() MonitoredSubreddit {
	var lastPolled *time.Time
	if r.LastPolledAt != nil {
		t := time.Unix(*r.LastPolledAt, 0).UTC()
		lastPolled = &t
	}
	return MonitoredSubreddit{
		ID:                r.ID,
		TenantID:          r.TenantID,
		Name:              r.Name,
		Status:            SubredditStatus(r.Status),
		IncludeMediaPosts: r.IncludeMediaPosts,
		DedupeCrossposts:  r.DedupeCrossposts,
		FilterBots:        r.FilterBots,
		LastPolledAt:      lastPolled,
	}
}

type webhookRow struct {
	ID           string `db:"id"`
	TenantID     string `db:"tenant_id"`
	URL          string `db:"url"`
	IsPrimary    bool   `db:"is_primary"`
	IsActive     bool   `db:"is_active"`
	LastTestedAt *int64 `db:"last_tested_at"`
}

func (r webhookRow) toDomain() WebhookConfig {
	var lastTested *time.Time
	if r.LastTestedAt != nil {
		t := time.Unix(*r.LastTestedAt, 0).UTC()
		lastTested = &t
	}
	return WebhookConfig{
		ID:           r.ID,
		TenantID:     r.TenantID,
		URL:          r.URL,
		IsPrimary:    r.IsPrimary,
		IsActive:     r.IsActive,
		LastTestedAt: lastTested,
	}
}

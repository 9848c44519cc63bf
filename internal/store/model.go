// Package store is the durable relational layer behind the pipeline: it
// owns the sqlite schema, idempotent content/match writes, and the tenant
// configuration snapshot query the Tenant Config Reader polls. It is a thin
// wrapper over database/sql plus jmoiron/sqlx for the read-heavy
// multi-column scans, in the spirit of the teacher's
// internal/infra/telegram/session file storage: one small, focused type per
// durable concern, atomic where a write must not leave a partial state.
package store

import "time"

// SubredditStatus mirrors spec.md §4.8's subreddit status machine.
type SubredditStatus string

const (
	SubredditActive       SubredditStatus = "active"
	SubredditInaccessible SubredditStatus = "inaccessible"
	SubredditPrivate      SubredditStatus = "private"
)

// AlertStatus mirrors spec.md §4.8's match status machine: pending is the
// only non-terminal state, sent/failed are terminal and never transition
// out.
type AlertStatus string

const (
	AlertPending AlertStatus = "pending"
	AlertSent    AlertStatus = "sent"
	AlertFailed  AlertStatus = "failed"
)

// ContentType distinguishes a top-level post from a top-level comment; the
// pipeline never traverses deeper than one level (spec.md §1 Non-goals).
type ContentType string

const (
	ContentPost    ContentType = "post"
	ContentComment ContentType = "comment"
)

// Tenant is one authenticated principal with its own alerting cadence.
type Tenant struct {
	ID                  string    `db:"id"`
	Email               string    `db:"email"`
	PollIntervalMinutes int       `db:"poll_interval_minutes"`
	ConfigVersion       int64     `db:"config_version"`
	CreatedAt           time.Time `db:"created_at"`
}

// Keyword is one tenant's OR-group phrase spec, consumed by the Matcher.
type Keyword struct {
	ID              string    `db:"id"`
	TenantID        string    `db:"tenant_id"`
	Phrases         string    `db:"phrases"`    // JSON-encoded []string
	Exclusions      string    `db:"exclusions"` // JSON-encoded []string
	ProximityWindow int       `db:"proximity_window"`
	RequireOrder    bool      `db:"require_order"`
	UseStemming     bool      `db:"use_stemming"`
	IsActive        bool      `db:"is_active"`
	CreatedAt       time.Time `db:"created_at"`
}

// MonitoredSubreddit is one tenant's subscription to a subreddit, with the
// per-tenant match-time filters spec.md §4.4 applies.
type MonitoredSubreddit struct {
	ID                string          `db:"id"`
	TenantID          string          `db:"tenant_id"`
	Name              string          `db:"name"`
	Status            SubredditStatus `db:"status"`
	IncludeMediaPosts bool            `db:"include_media_posts"`
	DedupeCrossposts  bool            `db:"dedupe_crossposts"`
	FilterBots        bool            `db:"filter_bots"`
	LastPolledAt      *time.Time      `db:"last_polled_at"`
}

// WebhookConfig is one tenant's Discord webhook target.
type WebhookConfig struct {
	ID           string     `db:"id"`
	TenantID     string     `db:"tenant_id"`
	URL          string     `db:"url"`
	IsPrimary    bool       `db:"is_primary"`
	IsActive     bool       `db:"is_active"`
	LastTestedAt *time.Time `db:"last_tested_at"`
}

// RedditContent is one ingested post or comment, shared across every
// tenant watching its subreddit.
type RedditContent struct {
	ID              string      `db:"id"`
	SourceID        string      `db:"source_id"`
	Subreddit       string      `db:"subreddit"`
	ContentType     ContentType `db:"content_type"`
	Title           string      `db:"title"`
	Body            string      `db:"body"`
	Author          string      `db:"author"`
	NormalizedText  string      `db:"normalized_text"`
	ContentHash     string      `db:"content_hash"`
	Permalink       string      `db:"permalink"`
	CrosspostOfID   *string     `db:"crosspost_of_id"`
	CreatedAtRemote time.Time   `db:"created_at_remote"`
	FetchedAt       time.Time   `db:"fetched_at"`
	IsDeleted       bool        `db:"is_deleted"`
}

// Match is one (tenant, keyword, content) hit, dispatched at most once per
// spec.md §3's uniqueness invariant.
type Match struct {
	ID              string      `db:"id"`
	TenantID        string      `db:"tenant_id"`
	KeywordID       string      `db:"keyword_id"`
	ContentID       string      `db:"content_id"`
	ContentType     ContentType `db:"content_type"`
	Subreddit       string      `db:"subreddit"`
	MatchedPhrase   string      `db:"matched_phrase"`
	AlsoMatched     string      `db:"also_matched"` // JSON-encoded []string
	Snippet         string      `db:"snippet"`
	FullText        string      `db:"full_text"`
	ProximityScore  float64     `db:"proximity_score"`
	RedditURL       string      `db:"reddit_url"`
	RedditAuthor    string      `db:"reddit_author"`
	IsDeleted       bool        `db:"is_deleted"`
	DetectedAt      time.Time   `db:"detected_at"`
	AlertSentAt     *time.Time  `db:"alert_sent_at"`
	AlertStatus     AlertStatus `db:"alert_status"`
	DeliveryAttempt int         `db:"delivery_attempt"`
}

package store

import "fmt"

// schema creates every table and index the pipeline needs. Index choices
// follow spec.md §6 exactly: content_hash uniqueness is scoped per
// (subreddit, content_type) for ingestion dedup, matches are unique per
// (tenant, keyword, content) for match dedup, and the two lookup indexes
// support the Poller's chronological fetch and the Dispatcher's pending
// scan. crosspost_references records a mirror-repost's source_id against
// the original content row it was deduped against, without a second
// reddit_content row.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		poll_interval_minutes INTEGER NOT NULL DEFAULT 15,
		config_version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS keywords (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		phrases TEXT NOT NULL,
		exclusions TEXT NOT NULL DEFAULT '[]',
		proximity_window INTEGER NOT NULL DEFAULT 15,
		require_order INTEGER NOT NULL DEFAULT 0,
		use_stemming INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_keywords_tenant ON keywords(tenant_id)`,
	`CREATE TABLE IF NOT EXISTS monitored_subreddits (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		include_media_posts INTEGER NOT NULL DEFAULT 1,
		dedupe_crossposts INTEGER NOT NULL DEFAULT 1,
		filter_bots INTEGER NOT NULL DEFAULT 0,
		last_polled_at INTEGER,
		UNIQUE(tenant_id, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subreddits_name ON monitored_subreddits(name)`,
	`CREATE TABLE IF NOT EXISTS webhook_configs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		url TEXT NOT NULL,
		is_primary INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		last_tested_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhooks_tenant ON webhook_configs(tenant_id)`,
	`CREATE TABLE IF NOT EXISTS reddit_content (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		subreddit TEXT NOT NULL,
		content_type TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		normalized_text TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		permalink TEXT NOT NULL DEFAULT '',
		crosspost_of_id TEXT,
		created_at_remote INTEGER NOT NULL,
		fetched_at INTEGER NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		UNIQUE(subreddit, content_type, content_hash)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_content_subreddit_created ON reddit_content(subreddit, created_at_remote)`,
	`CREATE INDEX IF NOT EXISTS idx_content_source_id ON reddit_content(source_id)`,
	`CREATE TABLE IF NOT EXISTS crosspost_references (
		source_id TEXT PRIMARY KEY,
		origin_content_id TEXT NOT NULL REFERENCES reddit_content(id),
		subreddit TEXT NOT NULL,
		detected_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS matches (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		keyword_id TEXT NOT NULL REFERENCES keywords(id),
		content_id TEXT NOT NULL REFERENCES reddit_content(id),
		content_type TEXT NOT NULL,
		subreddit TEXT NOT NULL,
		matched_phrase TEXT NOT NULL,
		also_matched TEXT NOT NULL DEFAULT '[]',
		snippet TEXT NOT NULL,
		full_text TEXT NOT NULL,
		proximity_score REAL NOT NULL,
		reddit_url TEXT NOT NULL DEFAULT '',
		reddit_author TEXT NOT NULL DEFAULT '',
		is_deleted INTEGER NOT NULL DEFAULT 0,
		detected_at INTEGER NOT NULL,
		alert_sent_at INTEGER,
		alert_status TEXT NOT NULL DEFAULT 'pending',
		delivery_attempt INTEGER NOT NULL DEFAULT 0,
		UNIQUE(tenant_id, keyword_id, content_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_tenant_status_detected ON matches(tenant_id, alert_status, detected_at)`,
}

// Init creates every table and index if they don't already exist. Safe to
// call on every process start; it never drops or alters existing data.
func (s *Store) Init() error {
	for _, ddl := range schema {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

package store

import (
	"context"
	"time"

	"reddalert/internal/domain/errs"
)

// InsertMatch persists a new Match with alertStatus=pending, enforcing the
// match dedup index (tenant_id, keyword_id, content_id). Per spec.md §7's
// StoreConflict rule, a unique-constraint violation here means the
// (tenant, keyword, content) triple was already matched — that is treated
// as success (inserted=false), not an error, since it is the expected
// concurrent/duplicate-pass outcome.
func (s *Store) InsertMatch(ctx context.Context, m Match) (inserted bool, err error) {
	_, execErr := s.db.ExecContext(ctx,
		`INSERT INTO matches
			(id, tenant_id, keyword_id, content_id, content_type, subreddit,
			 matched_phrase, also_matched, snippet, full_text, proximity_score,
			 reddit_url, reddit_author, is_deleted, detected_at, alert_status,
			 delivery_attempt)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, 0)`,
		m.ID, m.TenantID, m.KeywordID, m.ContentID, string(m.ContentType), m.Subreddit,
		m.MatchedPhrase, m.AlsoMatched, m.Snippet, m.FullText, m.ProximityScore,
		m.RedditURL, m.RedditAuthor, m.DetectedAt.Unix(), string(AlertPending),
	)
	if execErr == nil {
		return true, nil
	}
	if isUniqueConstraintErr(execErr) {
		return false, nil
	}
	return false, errs.Wrap(errs.KindTransientSource, "store.InsertMatch", m.TenantID, execErr, "insert match")
}

// PendingMatchesForTenant returns matches awaiting dispatch for a tenant,
// oldest-first, so the Dispatcher's batching window logic (spec.md §4.6)
// sees them in detection order.
func (s *Store) PendingMatchesForTenant(ctx context.Context, tenantID string) ([]Match, error) {
	var rows []matchRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM matches WHERE tenant_id = ? AND alert_status = ? ORDER BY detected_at ASC`,
		tenantID, string(AlertPending))
	if err != nil {
		return nil, err
	}
	return toMatches(rows), nil
}

// PendingTenantIDs returns the distinct set of tenants with at least one
// pending match, so the Dispatcher only visits tenants with work.
func (s *Store) PendingTenantIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT DISTINCT tenant_id FROM matches WHERE alert_status = ?`, string(AlertPending))
	return ids, err
}

// MarkMatchSent transitions a match to the terminal "sent" state.
func (s *Store) MarkMatchSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE matches SET alert_status = ?, alert_sent_at = ? WHERE id = ? AND alert_status = ?`,
		string(AlertSent), sentAt.Unix(), id, string(AlertPending))
	return err
}

// MarkMatchFailed transitions a match to the terminal "failed" state after
// the retry budget is spent.
func (s *Store) MarkMatchFailed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE matches SET alert_status = ? WHERE id = ? AND alert_status = ?`,
		string(AlertFailed), id, string(AlertPending))
	return err
}

// IncrementDeliveryAttempt adds one to a match's delivery_attempt counter,
// whatever its alert_status, and returns the new count. The Dispatcher
// calls it once per failed delivery, after its Throttler has spent the
// retry budget; the budget itself is counted by the Throttler.
func (s *Store) IncrementDeliveryAttempt(ctx context.Context, id string) (attempts int, err error) {
	_, execErr := s.db.ExecContext(ctx,
		`UPDATE matches SET delivery_attempt = delivery_attempt + 1 WHERE id = ?`, id)
	if execErr != nil {
		return 0, execErr
	}
	selErr := s.db.GetContext(ctx, &attempts, `SELECT delivery_attempt FROM matches WHERE id = ?`, id)
	return attempts, selErr
}

// HasMatchedCrosspostOrigin reports whether a match already exists for the
// given keyword against contentID, used by dedupeCrossposts filtering
// (spec.md §4.5) to skip a crosspost once its origin already alerted.
func (s *Store) HasMatchedCrosspostOrigin(ctx context.Context, tenantID, keywordID, originContentID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(1) FROM matches WHERE tenant_id = ? AND keyword_id = ? AND content_id = ?`,
		tenantID, keywordID, originContentID)
	return count > 0, err
}

// DeleteOlderThan removes matches and content rows past the retention
// window (spec.md §4.7's daily sweep). Matches are deleted first since
// they reference content_id.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (matchesDeleted, contentDeleted int64, err error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM matches WHERE detected_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, 0, err
	}
	matchesDeleted, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM reddit_content WHERE created_at_remote < ?`, cutoff.Unix())
	if err != nil {
		return matchesDeleted, 0, err
	}
	contentDeleted, _ = res.RowsAffected()
	return matchesDeleted, contentDeleted, nil
}

type matchRow struct {
	ID              string  `db:"id"`
	TenantID        string  `db:"tenant_id"`
	KeywordID       string  `db:"keyword_id"`
	ContentID       string  `db:"content_id"`
	ContentType     string  `db:"content_type"`
	Subreddit       string  `db:"subreddit"`
	MatchedPhrase   string  `db:"matched_phrase"`
	AlsoMatched     string  `db:"also_matched"`
	Snippet         string  `db:"snippet"`
	FullText        string  `db:"full_text"`
	ProximityScore  float64 `db:"proximity_score"`
	RedditURL       string  `db:"reddit_url"`
	RedditAuthor    string  `db:"reddit_author"`
	IsDeleted       bool    `db:"is_deleted"`
	DetectedAt      int64   `db:"detected_at"`
	AlertSentAt     *int64  `db:"alert_sent_at"`
	AlertStatus     string  `db:"alert_status"`
	DeliveryAttempt int     `db:"delivery_attempt"`
}

func toMatches(rows []matchRow) []Match {
	out := make([]Match, len(rows))
	for i, r := range rows {
		var sentAt *time.Time
		if r.AlertSentAt != nil {
			t := time.Unix(*r.AlertSentAt, 0).UTC()
			sentAt = &t
		}
		out[i] = Match{
			ID:              r.ID,
			TenantID:        r.TenantID,
			KeywordID:       r.KeywordID,
			ContentID:       r.ContentID,
			ContentType:     ContentType(r.ContentType),
			Subreddit:       r.Subreddit,
			MatchedPhrase:   r.MatchedPhrase,
			AlsoMatched:     r.AlsoMatched,
			Snippet:         r.Snippet,
			FullText:        r.FullText,
			ProximityScore:  r.ProximityScore,
			RedditURL:       r.RedditURL,
			RedditAuthor:    r.RedditAuthor,
			IsDeleted:       r.IsDeleted,
			DetectedAt:      time.Unix(r.DetectedAt, 0).UTC(),
			AlertSentAt:     sentAt,
			AlertStatus:     AlertStatus(r.AlertStatus),
			DeliveryAttempt: r.DeliveryAttempt,
		}
	}
	return out
}

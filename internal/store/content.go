package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"reddalert/internal/domain/errs"
	"reddalert/internal/infra/logger"
)

// UpsertContent inserts a newly fetched post/comment, enforcing the
// ingestion-time content dedup index (subreddit, content_type,
// content_hash). A unique-constraint violation is the expected,
// idempotent-success path per spec.md §7's StoreConflict rule: the caller
// gets back the existing row's ID and ok=false, not an error. content.ID
// and content.FetchedAt are stored as given; the caller sets both.
//
// spec.md §4.3: on a dedup conflict, a matching sourceId means the same
// post was re-fetched (its fetched_at is refreshed); a differing sourceId
// means a crosspost/mirror-repost sharing the same body text, recorded as
// a crosspost_references row pointing at the original instead of
// duplicating the content.
func (s *Store) UpsertContent(ctx context.Context, content RedditContent) (id string, inserted bool, err error) {
	_, execErr := s.db.ExecContext(ctx,
		`INSERT INTO reddit_content
			(id, source_id, subreddit, content_type, title, body, author,
			 normalized_text, content_hash, permalink, crosspost_of_id, created_at_remote,
			 fetched_at, is_deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		content.ID, content.SourceID, content.Subreddit, string(content.ContentType),
		content.Title, content.Body, content.Author, content.NormalizedText,
		content.ContentHash, content.Permalink, content.CrosspostOfID,
		content.CreatedAtRemote.Unix(), content.FetchedAt.Unix(),
	)
	if execErr == nil {
		return content.ID, true, nil
	}
	if !isUniqueConstraintErr(execErr) {
		return "", false, errs.Wrap(errs.KindTransientSource, "store.UpsertContent", content.Subreddit, execErr, "insert content")
	}

	existingID, existingSourceID, findErr := s.contentByHash(ctx, content.Subreddit, content.ContentType, content.ContentHash)
	if findErr != nil {
		return "", false, errs.Wrap(errs.KindTransientSource, "store.UpsertContent", content.Subreddit, findErr, "lookup existing content after conflict")
	}

	if existingSourceID == content.SourceID {
		if err := s.touchContentFetchedAt(ctx, existingID, content.FetchedAt); err != nil {
			logger.Warnf("store: refresh fetched_at for content %s: %v", existingID, err)
		}
		return existingID, false, nil
	}

	if err := s.recordCrosspostReference(ctx, content.SourceID, existingID, content.Subreddit, content.FetchedAt); err != nil {
		return "", false, errs.Wrap(errs.KindTransientSource, "store.UpsertContent", content.Subreddit, err, "record crosspost reference")
	}
	return existingID, false, nil
}

func (s *Store) contentByHash(ctx context.Context, subreddit string, contentType ContentType, hash string) (id, sourceID string, err error) {
	var row struct {
		ID       string `db:"id"`
		SourceID string `db:"source_id"`
	}
	err = s.db.GetContext(ctx, &row,
		`SELECT id, source_id FROM reddit_content WHERE subreddit = ? AND content_type = ? AND content_hash = ?`,
		subreddit, string(contentType), hash)
	return row.ID, row.SourceID, err
}

// touchContentFetchedAt refreshes fetched_at when the same post is
// re-ingested on a later poll.
func (s *Store) touchContentFetchedAt(ctx context.Context, id string, fetchedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE reddit_content SET fetched_at = ? WHERE id = ?`, fetchedAt.Unix(), id)
	return err
}

// recordCrosspostReference links a dedup-detected mirror-repost's sourceId
// to the original content row it matched on hash, per spec.md §4.3/§8
// scenario 5. Idempotent: a sourceId already recorded (e.g. re-polled
// before the grace window expires) is left as-is.
func (s *Store) recordCrosspostReference(ctx context.Context, sourceID, originContentID, subreddit string, detectedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crosspost_references (source_id, origin_content_id, subreddit, detected_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(source_id) DO NOTHING`,
		sourceID, originContentID, subreddit, detectedAt.Unix())
	return err
}

// CrosspostReferenceOrigin looks up the original content ID a mirror-repost
// sourceId was recorded against. ok is false if sourceId was never detected
// as a crosspost of something else.
func (s *Store) CrosspostReferenceOrigin(ctx context.Context, sourceID string) (originContentID string, ok bool, err error) {
	err = s.db.GetContext(ctx, &originContentID,
		`SELECT origin_content_id FROM crosspost_references WHERE source_id = ?`, sourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return originContentID, true, nil
}

// ContentByID fetches a single content row.
func (s *Store) ContentByID(ctx context.Context, id string) (RedditContent, error) {
	var c contentRow
	err := s.db.GetContext(ctx, &c, `SELECT * FROM reddit_content WHERE id = ?`, id)
	if err != nil {
		return RedditContent{}, err
	}
	return c.toDomain(), nil
}

// ContentBySubredditSince returns undeleted content for a subreddit with
// created_at_remote >= since, ordered oldest-first so the Match Engine
// processes items in source chronological order (spec.md §4.5).
func (s *Store) ContentBySubredditSince(ctx context.Context, subreddit string, since time.Time) ([]RedditContent, error) {
	var rows []contentRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM reddit_content
		 WHERE subreddit = ? AND is_deleted = 0 AND created_at_remote >= ?
		 ORDER BY created_at_remote ASC`,
		subreddit, since.Unix())
	if err != nil {
		return nil, err
	}
	out := make([]RedditContent, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// ContentFetchedSince returns undeleted content across every subreddit
// with fetched_at in or after since's whole second, ordered oldest-first,
// for the Match tick's global drain cursor (spec.md §4.7). fetched_at is
// stored in whole seconds, so rows sharing the cursor's second are
// returned again rather than skipped; re-matching them is a no-op.
// Ordering by fetched_at (not created_at_remote) matches the order content
// actually landed in the store, which is what the Match tick's cursor
// advances against.
func (s *Store) ContentFetchedSince(ctx context.Context, since time.Time) ([]RedditContent, error) {
	var rows []contentRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM reddit_content
		 WHERE is_deleted = 0 AND fetched_at >= ?
		 ORDER BY fetched_at ASC`,
		since.Unix())
	if err != nil {
		return nil, err
	}
	out := make([]RedditContent, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// MarkContentDeleted flips is_deleted for content absent on re-poll beyond
// the grace window (spec.md §3 lifecycle).
func (s *Store) MarkContentDeleted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE reddit_content SET is_deleted = 1 WHERE id IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	return err
}

// contentRow mirrors reddit_content's column layout for sqlx scanning;
// timestamps are stored as unix seconds, so it converts to/from
// RedditContent's time.Time fields.
type contentRow struct {
	ID              string  `db:"id"`
	SourceID        string  `db:"source_id"`
	Subreddit       string  `db:"subreddit"`
	ContentType     string  `db:"content_type"`
	Title           string  `db:"title"`
	Body            string  `db:"body"`
	Author          string  `db:"author"`
	NormalizedText  string  `db:"normalized_text"`
	ContentHash     string  `db:"content_hash"`
	Permalink       string  `db:"permalink"`
	CrosspostOfID   *string `db:"crosspost_of_id"`
	CreatedAtRemote int64   `db:"created_at_remote"`
	FetchedAt       int64   `db:"fetched_at"`
	IsDeleted       bool    `db:"is_deleted"`
}

func (c contentRow) toDomain() RedditContent {
	return RedditContent{
		ID:              c.ID,
		SourceID:        c.SourceID,
		Subreddit:       c.Subreddit,
		ContentType:     ContentType(c.ContentType),
		Title:           c.Title,
		Body:            c.Body,
		Author:          c.Author,
		NormalizedText:  c.NormalizedText,
		ContentHash:     c.ContentHash,
		Permalink:       c.Permalink,
		CrosspostOfID:   c.CrosspostOfID,
		CreatedAtRemote: time.Unix(c.CreatedAtRemote, 0).UTC(),
		FetchedAt:       time.Unix(c.FetchedAt, 0).UTC(),
		IsDeleted:       c.IsDeleted,
	}
}

// isUniqueConstraintErr reports whether err came from a UNIQUE index
// violation. modernc.org/sqlite wraps the sqlite3 result code in its own
// error type whose message includes "UNIQUE constraint failed"; matching
// on that text is how the pack's own sqlite code (store/sqlite's
// INSERT-OR-REPLACE callers) avoids needing a driver-specific error type
// import.
func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

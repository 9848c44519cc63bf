// Package reddit implements the Poller (spec.md §4.4): per-subreddit
// incremental fetch, rate-limit discipline, status classification, and
// persistence through internal/store. ForumSource abstracts the actual
// Reddit API call so the poll loop can be exercised against a fake in
// tests; HTTPSource is the production implementation.
package reddit

import (
	"context"
	"time"
)

// Post is one fetched submission, in source order (newest-first from the
// API, reordered oldest-first by the caller before persistence).
type Post struct {
	ID          string
	Subreddit   string
	Title       string
	Body        string
	Author      string
	Permalink   string
	IsMedia     bool
	CrosspostOf string // source ID of the crosspost origin, empty if none
	CreatedAt   time.Time
}

// Comment is one top-level comment under a post.
type Comment struct {
	ID        string
	PostID    string
	Subreddit string
	Body      string
	Author    string
	Permalink string
	CreatedAt time.Time
}

// ForumSource abstracts the Reddit API: fetching new posts since a cursor,
// and the top-level comments under a given post. afterID is the provider's
// post ID to fetch strictly after (empty on first poll); an implementation
// returns results newest-first, matching the real Reddit listing API.
type ForumSource interface {
	FetchNewPosts(ctx context.Context, subreddit, afterID string) ([]Post, error)
	FetchTopLevelComments(ctx context.Context, postID string) ([]Comment, error)
}

// StatusCode classifies a source failure into the subset spec.md §4.4
// cares about: subreddit-level permanent failures (404/403), rate limiting
// (429, carrying any retry-after hint), or anything else transient.
type StatusCode int

const (
	StatusTransient StatusCode = iota
	StatusNotFound             // 404: subreddit gone or banned
	StatusForbidden            // 403: subreddit private
	StatusRateLimited
)

// SourceError wraps a ForumSource failure with enough context for the
// Poller to classify and react: flip subreddit status, back off, or just
// log and leave the cursor unmoved.
type SourceError struct {
	Code       StatusCode
	Subreddit  string
	RetryAfter time.Duration // only meaningful when Code == StatusRateLimited
	Err        error
}

func (e *SourceError) Error() string {
	return "reddit source: " + e.Subreddit + ": " + e.Err.Error()
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// StopRetry marks 404/403 as permanent: the Throttler should not spend its
// backoff budget on a subreddit that is gone or private, it should return
// immediately so the Poller can classify and flip status.
func (e *SourceError) StopRetry() bool {
	return e.Code == StatusNotFound || e.Code == StatusForbidden
}

package reddit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"reddalert/internal/domain/dedup"
	"reddalert/internal/domain/normalizer"
	"reddalert/internal/infra/logger"
	"reddalert/internal/infra/throttle"
	"reddalert/internal/metrics"
	"reddalert/internal/store"
)

// maxCallsPerMinute is spec.md §4.4's ceiling on outbound forum-API calls.
const maxCallsPerMinute = 100

// Poller drives one poll cycle across every distinct monitored subreddit:
// fetch since the last seen post, persist new content (deduping on
// content hash), fetch each new post's top-level comments, and flip a
// subreddit's status on a permanent failure. The per-call pacing is a
// token bucket (x/time/rate, matching the cadence the teacher's Bot API
// sender paced itself with) layered under a Throttler that owns retry
// backoff for transient errors only — a 404/403 is never retried, it is
// classified and returned immediately.
type Poller struct {
	source ForumSource
	store  *store.Store

	limiter   *rate.Limiter
	throttler *throttle.Throttler

	cursors map[string]string // subreddit -> last seen post ID

	inst *metrics.Instruments
}

// SetInstruments attaches a metrics.Instruments set for the Poller to
// record against. Nil-safe: an unset Poller records nothing.
func (p *Poller) SetInstruments(inst *metrics.Instruments) { p.inst = inst }

// NewPoller wires a ForumSource and Store behind the shared rate budget.
// Call Start before the first PollSubreddit and Stop on shutdown.
func NewPoller(source ForumSource, st *store.Store) *Poller {
	limiter := rate.NewLimiter(rate.Limit(float64(maxCallsPerMinute)/60.0), maxCallsPerMinute)

	th := throttle.New(maxCallsPerMinute,
		throttle.WithMaxRetries(3),
		throttle.WithWaitExtractors(sourceRetryAfter))

	return &Poller{
		source:    source,
		store:     st,
		limiter:   limiter,
		throttler: th,
		cursors:   make(map[string]string),
	}
}

// Start begins the Throttler's refill loop.
func (p *Poller) Start(ctx context.Context) {
	p.throttler.Start(ctx)
}

// Stop halts the Throttler's refill loop.
func (p *Poller) Stop() {
	p.throttler.Stop()
}

// sourceRetryAfter lets the Throttler honor a rate-limited response's
// Retry-After instead of falling back to its own exponential backoff.
func sourceRetryAfter(err error) (time.Duration, bool) {
	var serr *SourceError
	if errors.As(err, &serr) && serr.Code == StatusRateLimited && serr.RetryAfter > 0 {
		return serr.RetryAfter, true
	}
	return 0, false
}

// PollSubreddit runs one cycle for a single subreddit: fetch new posts
// after the last cursor, persist each (and its top-level comments) as
// RedditContent, and advance the in-memory cursor on success. A
// permanent failure (404/403) flips the subreddit's stored status and
// returns nil — it is not an error the scheduler needs to retry.
func (p *Poller) PollSubreddit(ctx context.Context, subreddit string) error {
	start := time.Now()
	defer func() {
		if p.inst != nil {
			p.inst.PollDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
		}
	}()

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	after := p.cursors[subreddit]
	var posts []Post
	fetchErr := p.throttler.Do(ctx, func() error {
		var err error
		posts, err = p.source.FetchNewPosts(ctx, subreddit, after)
		return err
	})
	if fetchErr != nil {
		return p.handleFetchErr(ctx, subreddit, fetchErr)
	}

	// Reddit's "new" listing is newest-first; persist oldest-first so a
	// crash mid-cycle leaves the cursor consistent with what was actually
	// stored.
	for i := len(posts) - 1; i >= 0; i-- {
		post := posts[i]
		if err := p.ingestPost(ctx, post); err != nil {
			logger.Warnf("reddit: ingest post %s in r/%s: %v", post.ID, subreddit, err)
			continue
		}
	}

	if p.inst != nil && len(posts) > 0 {
		p.inst.PostsFetched.Add(ctx, int64(len(posts)))
	}
	if len(posts) > 0 {
		p.cursors[subreddit] = posts[0].ID
	}
	if err := p.store.TouchSubredditPolled(ctx, subreddit, time.Now().UTC()); err != nil {
		logger.Warnf("reddit: touch last-polled for r/%s: %v", subreddit, err)
	}
	return nil
}

func (p *Poller) handleFetchErr(ctx context.Context, subreddit string, err error) error {
	var serr *SourceError
	if !errors.As(err, &serr) {
		return err
	}
	switch serr.Code {
	case StatusNotFound:
		logger.Warnf("reddit: r/%s not found, marking inaccessible", subreddit)
		if p.inst != nil {
			p.inst.SubredditFlips.Add(ctx, 1)
		}
		return p.store.SetSubredditStatus(ctx, subreddit, store.SubredditInaccessible)
	case StatusForbidden:
		logger.Warnf("reddit: r/%s forbidden, marking private", subreddit)
		if p.inst != nil {
			p.inst.SubredditFlips.Add(ctx, 1)
		}
		return p.store.SetSubredditStatus(ctx, subreddit, store.SubredditPrivate)
	default:
		return err
	}
}

// ingestPost normalizes, hashes, and stores one post, then fetches and
// stores its top-level comments the same way.
func (p *Poller) ingestPost(ctx context.Context, post Post) error {
	if err := p.storeContent(ctx, post.Subreddit, store.ContentPost, post.ID, post.Title, post.Body,
		post.Author, post.Permalink, post.CrosspostOf, post.CreatedAt); err != nil {
		return err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	var comments []Comment
	err := p.throttler.Do(ctx, func() error {
		var cerr error
		comments, cerr = p.source.FetchTopLevelComments(ctx, post.ID)
		return cerr
	})
	if err != nil {
		// A comment-fetch failure does not invalidate the post itself.
		logger.Warnf("reddit: fetch comments for %s: %v", post.ID, err)
		return nil
	}
	for _, c := range comments {
		if err := p.storeContent(ctx, post.Subreddit, store.ContentComment, c.ID, "", c.Body, c.Author, c.Permalink, "", c.CreatedAt); err != nil {
			logger.Warnf("reddit: ingest comment %s: %v", c.ID, err)
		}
	}
	return nil
}

func (p *Poller) storeContent(ctx context.Context, subreddit string, kind store.ContentType, sourceID, title, body, author, permalink, crosspostOf string, createdAt time.Time) error {
	text := title
	if body != "" {
		if text != "" {
			text += "\n"
		}
		text += body
	}
	norm := normalizer.Normalize(text)
	normalizedText := joinNormalized(norm)

	var crosspost *string
	if crosspostOf != "" {
		crosspost = &crosspostOf
	}

	content := store.RedditContent{
		ID:              sourceID,
		SourceID:        sourceID,
		Subreddit:       subreddit,
		ContentType:     kind,
		Title:           title,
		Body:            body,
		Author:          author,
		NormalizedText:  normalizedText,
		ContentHash:     dedup.ContentHash(normalizedText),
		Permalink:       permalink,
		CrosspostOfID:   crosspost,
		CreatedAtRemote: createdAt,
		FetchedAt:       time.Now().UTC(),
	}
	_, _, err := p.store.UpsertContent(ctx, content)
	return err
}

func joinNormalized(n normalizer.Normalized) string {
	out := ""
	for i, s := range n.Sentences {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

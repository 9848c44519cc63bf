// Package matchengine implements the Match Engine (spec.md §4.5): for each
// newly ingested RedditContent row, it fans out over every (tenant,
// keyword) pair subscribed to that subreddit, applies per-tenant filters,
// runs the phrase matcher, and persists any hit as a pending Match.
//
// The fan-out-over-registered-rules shape (one content item dispatched
// against every applicable rule, first match per rule wins) mirrors the
// teacher's internal/domain/updates.Handlers loop over registered filters;
// the in-process short-circuit before the store's unique-conflict path is
// the same idempotency layering updates.Handlers applies via its notified
// cache in front of a slower downstream write.
package matchengine

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"reddalert/internal/domain/errs"
	"reddalert/internal/domain/matcher"
	"reddalert/internal/domain/normalizer"
	"reddalert/internal/infra/concurrency"
	"reddalert/internal/infra/logger"
	"reddalert/internal/metrics"
	"reddalert/internal/store"
)

// snippetMaxChars bounds a Match's human-readable excerpt (spec.md §4.5).
const snippetMaxChars = 200

// matchDedupWindowSec is the in-process short-term guard's window, wide
// enough to straddle a match-tick cycle without growing unbounded.
const matchDedupWindowSec = 120

// botAuthorSuffix flags an author name whose last word is "bot"
// (case-insensitive, with a word boundary before it: "some-bot" and "bot"
// match, "RedditBot" and "some_bot" do not), the regex half of spec.md
// §4.4's bot filter; the built-in list below covers well-known bots whose
// names don't end that way.
var botAuthorSuffix = regexp.MustCompile(`(?i)\bbot$`)

var builtinBotAuthors = map[string]bool{
	"automoderator": true,
}

// ConfigSource is the subset of the Tenant Config Reader (spec.md §4.9)
// the Match Engine needs: the active (tenant, keyword) pairs watching a
// given subreddit, each paired with the subscription row carrying that
// tenant's per-subreddit filters.
type ConfigSource interface {
	KeywordsForSubreddit(ctx context.Context, subreddit string) ([]TenantKeyword, error)
}

// TenantKeyword bundles one tenant's keyword with the subscription row
// governing the subreddit it's being evaluated against.
type TenantKeyword struct {
	Keyword   store.Keyword
	Subreddit store.MonitoredSubreddit
}

// Engine runs the match pass over freshly ingested content.
type Engine struct {
	store  *store.Store
	config ConfigSource
	dedup  *concurrency.Deduplicator
	inst   *metrics.Instruments
}

// SetInstruments attaches a metrics.Instruments set for the Engine to
// record against. Nil-safe: an unset Engine records nothing.
func (e *Engine) SetInstruments(inst *metrics.Instruments) { e.inst = inst }

// New wires an Engine against the durable store and a tenant config
// source. The caller starts/stops the returned Engine's internal
// Deduplicator independently via Start/Stop.
func New(st *store.Store, cfg ConfigSource) *Engine {
	return &Engine{
		store:  st,
		config: cfg,
		dedup:  concurrency.NewDeduplicator(matchDedupWindowSec),
	}
}

// Start launches the Engine's in-process dedup cleanup loop.
func (e *Engine) Start(ctx context.Context) { e.dedup.Start(ctx) }

// Stop halts the Engine's in-process dedup cleanup loop.
func (e *Engine) Stop() { e.dedup.Stop() }

// ProcessContent runs every applicable (tenant, keyword) pair against one
// content item, in the order content was fetched (callers are expected to
// iterate oldest-first per spec.md §4.5).
func (e *Engine) ProcessContent(ctx context.Context, content store.RedditContent) error {
	pairs, err := e.config.KeywordsForSubreddit(ctx, content.Subreddit)
	if err != nil {
		return errs.Wrap(errs.KindMatcherInvariant, "matchengine.ProcessContent", content.Subreddit, err, "load keyword config")
	}

	tokens := normalizer.Normalize(content.NormalizedText).Tokens

	for _, pair := range pairs {
		if !e.passesFilters(ctx, pair, content) {
			continue
		}

		kw, err := toMatcherKeyword(pair.Keyword)
		if err != nil {
			logger.Warnf("matchengine: malformed keyword %s: %v", pair.Keyword.ID, err)
			continue
		}

		hit, ok := matcher.Match(tokens, kw)
		if !ok {
			continue
		}

		if e.dedup.SeenMatch(pair.Keyword.TenantID, pair.Keyword.ID, content.ID) {
			continue
		}

		m, err := buildMatch(pair.Keyword, content, hit)
		if err != nil {
			logger.Warnf("matchengine: build match for keyword %s content %s: %v", pair.Keyword.ID, content.ID, err)
			continue
		}

		inserted, err := e.store.InsertMatch(ctx, m)
		if err != nil {
			logger.Warnf("matchengine: insert match for keyword %s content %s: %v", pair.Keyword.ID, content.ID, err)
			continue
		}
		if inserted && e.inst != nil {
			e.inst.MatchesFound.Add(ctx, 1)
		}
	}
	return nil
}

// passesFilters applies the per-tenant, per-subreddit filters spec.md
// §4.4 says run at match time rather than fetch time.
func (e *Engine) passesFilters(ctx context.Context, pair TenantKeyword, content store.RedditContent) bool {
	sub := pair.Subreddit
	if !sub.IncludeMediaPosts && content.ContentType == store.ContentPost && looksLikeMedia(content) {
		return false
	}
	if sub.FilterBots && isBotAuthor(content.Author) {
		return false
	}
	if sub.DedupeCrossposts && content.CrosspostOfID != nil {
		matched, err := e.store.HasMatchedCrosspostOrigin(ctx, pair.Keyword.TenantID, pair.Keyword.ID, *content.CrosspostOfID)
		if err != nil {
			logger.Warnf("matchengine: crosspost origin check: %v", err)
		} else if matched {
			return false
		}
	}
	return true
}

// looksLikeMedia is a conservative heuristic: a post with no selftext body
// is treated as a link/media submission. The Poller also tags is_video
// directly, but that flag isn't threaded through the stored row, so this
// filter works off the shape the ingested row actually has.
func looksLikeMedia(content store.RedditContent) bool {
	return strings.TrimSpace(content.Body) == ""
}

func isBotAuthor(author string) bool {
	if author == "" {
		return false
	}
	if botAuthorSuffix.MatchString(author) {
		return true
	}
	return builtinBotAuthors[strings.ToLower(author)]
}

func toMatcherKeyword(k store.Keyword) (matcher.Keyword, error) {
	var phrases, exclusions []string
	if err := json.Unmarshal([]byte(k.Phrases), &phrases); err != nil {
		return matcher.Keyword{}, err
	}
	if k.Exclusions != "" {
		if err := json.Unmarshal([]byte(k.Exclusions), &exclusions); err != nil {
			return matcher.Keyword{}, err
		}
	}
	return matcher.Keyword{
		Phrases:         phrases,
		Exclusions:      exclusions,
		ProximityWindow: k.ProximityWindow,
		RequireOrder:    k.RequireOrder,
		UseStemming:     k.UseStemming,
	}, nil
}

// buildMatch assembles a store.Match row from a matcher.Hit, truncating
// the snippet to at most snippetMaxChars of the original (pre-normalized)
// text around the hit's token span.
func buildMatch(k store.Keyword, content store.RedditContent, hit matcher.Hit) (store.Match, error) {
	alsoMatched, err := json.Marshal(hit.AlsoMatched)
	if err != nil {
		return store.Match{}, err
	}

	text := content.Title
	if content.Body != "" {
		if text != "" {
			text += "\n"
		}
		text += content.Body
	}

	return store.Match{
		ID:             newMatchID(k.TenantID, k.ID, content.ID),
		TenantID:       k.TenantID,
		KeywordID:      k.ID,
		ContentID:      content.ID,
		ContentType:    content.ContentType,
		Subreddit:      content.Subreddit,
		MatchedPhrase:  hit.Phrase,
		AlsoMatched:    string(alsoMatched),
		Snippet:        snippet(text, hit.Phrase),
		FullText:       text,
		ProximityScore: hit.Score,
		RedditURL:      redditURL(content.Permalink),
		RedditAuthor:   content.Author,
		DetectedAt:     time.Now().UTC(),
	}, nil
}

// snippet returns the window of text centered on phrase's first
// case-insensitive occurrence, expanded to at most snippetMaxChars runes,
// with "…" markers on whichever edges were cut (spec.md §4.5). If phrase
// can't be located in the raw text (normalization can shift exact
// substrings), it falls back to the leading snippetMaxChars runes.
func snippet(text, phrase string) string {
	runes := []rune(text)
	if len(runes) <= snippetMaxChars {
		return text
	}

	idx := strings.Index(strings.ToLower(text), strings.ToLower(phrase))
	center := 0
	if idx >= 0 {
		center = len([]rune(text[:idx])) + len([]rune(phrase))/2
	}

	half := snippetMaxChars / 2
	start := center - half
	end := start + snippetMaxChars
	if start < 0 {
		start = 0
		end = snippetMaxChars
	}
	if end > len(runes) {
		end = len(runes)
		start = end - snippetMaxChars
		if start < 0 {
			start = 0
		}
	}

	out := string(runes[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}

// redditURL qualifies a stored permalink (which Reddit returns relative)
// into a full link suitable for embedding in a Discord message.
func redditURL(permalink string) string {
	if permalink == "" {
		return ""
	}
	if strings.HasPrefix(permalink, "http://") || strings.HasPrefix(permalink, "https://") {
		return permalink
	}
	return "https://reddit.com" + permalink
}

// newMatchID derives a deterministic ID from the (tenant, keyword,
// content) triple so retried inserts of the same logical match collide on
// primary key too, not just on the unique index.
func newMatchID(tenantID, keywordID, contentID string) string {
	return tenantID + ":" + keywordID + ":" + contentID
}

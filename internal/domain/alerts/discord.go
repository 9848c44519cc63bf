package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"reddalert/internal/store"
)

// Embed is a single Discord embed, one per match (spec.md §4.6).
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp"`
	Fields      []EmbedField `json:"fields"`
}

// EmbedField is one labeled value on an Embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedPayload is the Discord webhook execute body: up to ten embeds.
type EmbedPayload struct {
	Embeds []Embed `json:"embeds"`
}

const embedColorMatch = 0x5865F2 // Discord blurple, no semantic meaning beyond "ours"

// embedFor renders one Match into a Discord embed carrying subreddit,
// matched phrase, snippet, author, timestamp, and link (spec.md §4.6).
func embedFor(m store.Match) Embed {
	fields := []EmbedField{
		{Name: "Subreddit", Value: "r/" + m.Subreddit, Inline: true},
		{Name: "Matched phrase", Value: m.MatchedPhrase, Inline: true},
		{Name: "Author", Value: "u/" + m.RedditAuthor, Inline: true},
	}
	return Embed{
		Title:       "New mention in r/" + m.Subreddit,
		Description: m.Snippet,
		URL:         m.RedditURL,
		Color:       embedColorMatch,
		Timestamp:   m.DetectedAt.UTC().Format(time.RFC3339),
		Fields:      fields,
	}
}

// DiscordSender POSTs an EmbedPayload to a webhook URL and classifies
// 429/5xx into the Retry outcome the Dispatcher's attempt-budget logic
// consumes. It does no pacing of its own; the Dispatcher's Throttler
// paces and retries the calls.
type DiscordSender struct {
	httpClient *http.Client
}

// NewDiscordSender builds a production WebhookSender.
func NewDiscordSender() *DiscordSender {
	return &DiscordSender{httpClient: &http.Client{Timeout: 15 * time.Second}}
}

// retryAfterErr carries a webhook 429's Retry-After so the Throttler
// wrapping this sender (see Poller for the twin pattern) can honor it
// instead of guessing a backoff.
type retryAfterErr struct {
	wait time.Duration
}

func (e *retryAfterErr) Error() string { return "discord webhook: rate limited" }

// WebhookRetryAfter is a throttle.WaitExtractor recognizing a rate-limited
// Discord response, for callers that wrap Send in a throttle.Throttler.
func WebhookRetryAfter(err error) (time.Duration, bool) {
	var rerr *retryAfterErr
	if errors.As(err, &rerr) {
		return rerr.wait, true
	}
	return 0, false
}

func (s *DiscordSender) Send(ctx context.Context, webhookURL string, payload EmbedPayload) (SendOutcome, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return SendOutcome{}, fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return SendOutcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return SendOutcome{Retry: true}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return SendOutcome{}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return SendOutcome{Retry: true}, &retryAfterErr{wait: retryAfterHeader(resp)}
	case resp.StatusCode >= 500:
		return SendOutcome{Retry: true}, fmt.Errorf("discord webhook: server error %d", resp.StatusCode)
	default:
		return SendOutcome{}, fmt.Errorf("discord webhook: unexpected status %d", resp.StatusCode)
	}
}

func retryAfterHeader(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPSource is the production ForumSource: OAuth2 client-credentials
// against Reddit's script-app flow, then plain GETs against the listing
// endpoints. Grounded on the teacher's Telegram Bot API client in spirit
// (a single http.Client, an access token refreshed on expiry, status-code
// branching into the same transient/permanent/rate-limited buckets the
// old notifier used for Bot API 4xx/5xx handling).
type HTTPSource struct {
	httpClient *http.Client
	appID      string
	appSecret  string
	userAgent  string
	token      tokenState
}

type tokenState struct {
	accessToken string
	expiresAt   time.Time
}

// NewHTTPSource builds a source authenticating with Reddit's script-app
// client-credentials grant. appID/appSecret come from FORUM_APP_ID /
// FORUM_APP_SECRET, userAgent from FORUM_USER_AGENT — Reddit rejects
// requests carrying its default Go http.Client user agent outright.
func NewHTTPSource(appID, appSecret, userAgent string) *HTTPSource {
	return &HTTPSource{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		appID:      appID,
		appSecret:  appSecret,
		userAgent:  userAgent,
	}
}

const baseURL = "https://oauth.reddit.com"

// FetchNewPosts lists a subreddit's newest submissions, newest-first, and
// classifies any non-2xx response into a *SourceError the Poller can act
// on.
func (c *HTTPSource) FetchNewPosts(ctx context.Context, subreddit, afterID string) ([]Post, error) {
	q := url.Values{}
	q.Set("limit", "100")
	q.Set("raw_json", "1")
	if afterID != "" {
		q.Set("before", afterID) // Reddit's "before" walks newest-first toward afterID
	}
	path := fmt.Sprintf("%s/r/%s/new.json?%s", baseURL, subreddit, q.Encode())

	var listing redditListing
	if err := c.getJSON(ctx, path, subreddit, &listing); err != nil {
		return nil, err
	}
	return listing.toPosts(subreddit), nil
}

// FetchTopLevelComments lists a post's immediate (depth-0) comments; Non-goals
// exclude deeper traversal, so nested replies are never requested.
func (c *HTTPSource) FetchTopLevelComments(ctx context.Context, postID string) ([]Comment, error) {
	q := url.Values{}
	q.Set("depth", "1")
	q.Set("limit", "100")
	q.Set("raw_json", "1")
	path := fmt.Sprintf("%s/comments/%s.json?%s", baseURL, postID, q.Encode())

	var pair []redditListing
	if err := c.getJSON(ctx, path, postID, &pair); err != nil {
		return nil, err
	}
	if len(pair) < 2 {
		return nil, nil
	}
	return pair[1].toComments(postID), nil
}

func (c *HTTPSource) getJSON(ctx context.Context, path, subject string, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return &SourceError{Code: StatusTransient, Subreddit: subject, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return &SourceError{Code: StatusTransient, Subreddit: subject, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SourceError{Code: StatusTransient, Subreddit: subject, Err: err}
	}
	defer resp.Body.Close()

	if serr := classifyStatus(resp, subject); serr != nil {
		return serr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &SourceError{Code: StatusTransient, Subreddit: subject, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// classifyStatus maps an HTTP response to spec.md §4.4's three buckets:
// 404 (gone/banned) and 403 (private) are permanent, 429 is rate-limited
// and carries Retry-After, everything else non-2xx is transient.
func classifyStatus(resp *http.Response, subject string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return &SourceError{Code: StatusNotFound, Subreddit: subject, Err: fmt.Errorf("subreddit not found")}
	case http.StatusForbidden:
		return &SourceError{Code: StatusForbidden, Subreddit: subject, Err: fmt.Errorf("subreddit private or forbidden")}
	case http.StatusTooManyRequests:
		return &SourceError{
			Code:       StatusRateLimited,
			Subreddit:  subject,
			RetryAfter: retryAfter(resp),
			Err:        fmt.Errorf("rate limited"),
		}
	default:
		return &SourceError{Code: StatusTransient, Subreddit: subject, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// accessToken returns a cached token, refreshing it against Reddit's
// client-credentials endpoint once it is within 30s of expiry.
func (c *HTTPSource) accessToken(ctx context.Context) (string, error) {
	if c.token.accessToken != "" && time.Now().Before(c.token.expiresAt.Add(-30*time.Second)) {
		return c.token.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://www.reddit.com/api/v1/access_token", nil)
	if err != nil {
		return "", err
	}
	req.URL.RawQuery = form.Encode()
	req.SetBasicAuth(c.appID, c.appSecret)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("access_token: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode access_token response: %w", err)
	}

	c.token.accessToken = body.AccessToken
	c.token.expiresAt = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return c.token.accessToken, nil
}

// redditListing is the subset of Reddit's generic Listing envelope this
// package cares about.
type redditListing struct {
	Data struct {
		Children []struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type rawPost struct {
	Name          string `json:"name"`
	Title         string `json:"title"`
	Selftext      string `json:"selftext"`
	Author        string `json:"author"`
	Permalink     string `json:"permalink"`
	IsVideo       bool   `json:"is_video"`
	Post          bool   `json:"is_self"`
	CrosspostList []struct {
		Name string `json:"name"`
	} `json:"crosspost_parent_list"`
	CreatedUTC float64 `json:"created_utc"`
}

type rawComment struct {
	Name       string  `json:"name"`
	LinkID     string  `json:"link_id"`
	Body       string  `json:"body"`
	Author     string  `json:"author"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
}

func (l redditListing) toPosts(subreddit string) []Post {
	out := make([]Post, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		var rp rawPost
		if err := json.Unmarshal(child.Data, &rp); err != nil {
			continue
		}
		p := Post{
			ID:        rp.Name,
			Subreddit: subreddit,
			Title:     rp.Title,
			Body:      rp.Selftext,
			Author:    rp.Author,
			Permalink: rp.Permalink,
			IsMedia:   rp.IsVideo || !rp.Post,
			CreatedAt: time.Unix(int64(rp.CreatedUTC), 0).UTC(),
		}
		if len(rp.CrosspostList) > 0 {
			p.CrosspostOf = rp.CrosspostList[0].Name
		}
		out = append(out, p)
	}
	return out
}

func (l redditListing) toComments(postID string) []Comment {
	out := make([]Comment, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		if child.Kind != "t1" {
			continue
		}
		var rc rawComment
		if err := json.Unmarshal(child.Data, &rc); err != nil {
			continue
		}
		out = append(out, Comment{
			ID:        rc.Name,
			PostID:    postID,
			Body:      rc.Body,
			Author:    rc.Author,
			Permalink: rc.Permalink,
			CreatedAt: time.Unix(int64(rc.CreatedUTC), 0).UTC(),
		})
	}
	return out
}

package reddit_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"reddalert/internal/domain/reddit"
	"reddalert/internal/store"
)

// fakeSource implements reddit.ForumSource against in-memory fixtures so
// the Poller's ingestion/cursor/status-flip logic can be exercised
// without a network call.
type fakeSource struct {
	posts     map[string][]reddit.Post // subreddit -> posts, newest-first
	comments  map[string][]reddit.Comment
	fetchErrs map[string]error // subreddit -> error to return instead
}

func (f *fakeSource) FetchNewPosts(_ context.Context, subreddit, _ string) ([]reddit.Post, error) {
	if err, ok := f.fetchErrs[subreddit]; ok {
		return nil, err
	}
	return f.posts[subreddit], nil
}

func (f *fakeSource) FetchTopLevelComments(_ context.Context, postID string) ([]reddit.Comment, error) {
	return f.comments[postID], nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "reddalert.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPollSubredditIngestsPostsAndComments(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	src := &fakeSource{
		posts: map[string][]reddit.Post{
			"golang": {
				{ID: "t3_2", Subreddit: "golang", Title: "second post", CreatedAt: now.Add(time.Minute)},
				{ID: "t3_1", Subreddit: "golang", Title: "first post", CreatedAt: now},
			},
		},
		comments: map[string][]reddit.Comment{
			"t3_1": {{ID: "t1_1", PostID: "t3_1", Body: "a comment", CreatedAt: now}},
		},
	}

	st := newTestStore(t)
	p := reddit.NewPoller(src, st)
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	if err := p.PollSubreddit(context.Background(), "golang"); err != nil {
		t.Fatalf("PollSubreddit: %v", err)
	}

	post, err := st.ContentByID(context.Background(), "t3_1")
	if err != nil {
		t.Fatalf("ContentByID post: %v", err)
	}
	if post.Title != "first post" {
		t.Fatalf("post.Title = %q, want %q", post.Title, "first post")
	}

	comment, err := st.ContentByID(context.Background(), "t1_1")
	if err != nil {
		t.Fatalf("ContentByID comment: %v", err)
	}
	if comment.ContentType != store.ContentComment {
		t.Fatalf("comment.ContentType = %q, want %q", comment.ContentType, store.ContentComment)
	}
}

func TestPollSubredditNotFoundMarksInaccessible(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	ctx := context.Background()

	tenantID, subID := "tenant-1", "sub-1"
	if err := st.CreateTenant(ctx, store.Tenant{ID: tenantID, Email: "t@example.com", PollIntervalMinutes: 5, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if err := st.CreateMonitoredSubreddit(ctx, store.MonitoredSubreddit{ID: subID, TenantID: tenantID, Name: "golang", Status: store.SubredditActive}); err != nil {
		t.Fatalf("seed subreddit: %v", err)
	}

	src := &fakeSource{
		fetchErrs: map[string]error{
			"golang": &reddit.SourceError{Code: reddit.StatusNotFound, Subreddit: "golang", Err: errNotFound},
		},
	}

	p := reddit.NewPoller(src, st)
	p.Start(ctx)
	t.Cleanup(p.Stop)

	if err := p.PollSubreddit(ctx, "golang"); err != nil {
		t.Fatalf("PollSubreddit: %v", err)
	}

	subs, err := st.TenantSubreddits(ctx, tenantID)
	if err != nil {
		t.Fatalf("TenantSubreddits: %v", err)
	}
	if len(subs) != 1 || subs[0].Status != store.SubredditInaccessible {
		t.Fatalf("subreddit status = %#v, want inaccessible", subs)
	}
}

var errNotFound = fakeErr("not found")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

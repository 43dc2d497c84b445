package fetcher

import (
	"strings"
	"testing"
	"time"

	"visualtweets/internal/model"
)

func TestExtractTweetID(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"twitter.com status url", "https://twitter.com/someuser/status/1928105439368995193", "1928105439368995193"},
		{"x.com status url", "https://x.com/someuser/status/1928105439368995193", "1928105439368995193"},
		{"status path without host", "/someuser/status/1928105439368995193", "1928105439368995193"},
		{"bare 19-digit id", "1928105439368995193", "1928105439368995193"},
		{"unrelated url", "https://example.com/not-a-tweet", ""},
		{"too-short numeric", "12345", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractTweetID(tc.in)
			if got != tc.want {
				t.Errorf("ExtractTweetID(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	if isRateLimited(nil) {
		t.Error("nil error should not be rate limited")
	}
	if !isRateLimited(errString("received 429 Too Many Requests")) {
		t.Error("429 error should be classified as rate limited")
	}
	if !isRateLimited(errString("Too Many Requests")) {
		t.Error("case-insensitive match should be classified as rate limited")
	}
	if isRateLimited(errString("connection reset by peer")) {
		t.Error("unrelated error should not be classified as rate limited")
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func mustTime(s string) time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return ts
}

func post(id, convID, text string, createdAt time.Time, likes, retweets, replies, quotes, bookmarks int) model.Post {
	return model.Post{
		ID:             id,
		Text:           text,
		Author:         model.Author{ID: "author-1", Username: "alice", Name: "alice"},
		CreatedAt:      createdAt,
		ConversationID: convID,
		Metrics: model.Metrics{
			Likes: likes, Retweets: retweets, Replies: replies, Quotes: quotes, Bookmarks: bookmarks,
		},
	}
}

// TestGroupPostsSingleton exercises the singleton path: a lone post in
// its own conversation bucket is emitted unchanged, not wrapped in a Thread.
func TestGroupPostsSingleton(t *testing.T) {
	p := post("100", "100", "hello world", mustTime("2026-01-01T00:00:00Z"), 1, 2, 3, 4, 5)
	items := groupPosts([]model.Post{p}, false, nil)

	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].Thread != nil {
		t.Fatal("singleton bucket must not be wrapped as a Thread")
	}
	if items[0].Post == nil || items[0].Post.ID != "100" {
		t.Fatalf("unexpected post: %+v", items[0].Post)
	}
}

// TestGroupPostsThreadOrdering covers testable property 1/2: a
// multi-post bucket becomes a Thread with ThreadTweets in ascending
// timestamp order, `[i/N]`-prefixed combined text, and element-wise
// summed metrics.
func TestGroupPostsThreadOrdering(t *testing.T) {
	p3 := post("300", "100", "part three", mustTime("2026-01-01T00:02:00Z"), 1, 1, 1, 1, 1)
	p1 := post("100", "100", "part one", mustTime("2026-01-01T00:00:00Z"), 2, 2, 2, 2, 2)
	p2 := post("200", "100", "part two", mustTime("2026-01-01T00:01:00Z"), 3, 3, 3, 3, 3)

	// Feed in out-of-order (as a real timeline response might).
	items := groupPosts([]model.Post{p3, p1, p2}, false, nil)

	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	thread := items[0].Thread
	if thread == nil {
		t.Fatal("multi-post bucket must be wrapped as a Thread")
	}
	if !thread.IsThread {
		t.Error("IsThread should be true")
	}
	if thread.ThreadTweetCount != 3 {
		t.Errorf("ThreadTweetCount = %d, want 3", thread.ThreadTweetCount)
	}

	wantOrder := []string{"100", "200", "300"}
	for i, id := range wantOrder {
		if thread.ThreadTweets[i].ID != id {
			t.Errorf("ThreadTweets[%d].ID = %s, want %s", i, thread.ThreadTweets[i].ID, id)
		}
	}

	if !strings.Contains(thread.Text, "[1/3] part one") ||
		!strings.Contains(thread.Text, "[2/3] part two") ||
		!strings.Contains(thread.Text, "[3/3] part three") {
		t.Errorf("combined text missing expected prefixes: %q", thread.Text)
	}
	if strings.Index(thread.Text, "part one") > strings.Index(thread.Text, "part two") ||
		strings.Index(thread.Text, "part two") > strings.Index(thread.Text, "part three") {
		t.Errorf("combined text not in ascending order: %q", thread.Text)
	}

	wantMetrics := model.Metrics{Likes: 6, Retweets: 6, Replies: 6, Quotes: 6, Bookmarks: 6}
	if thread.Metrics != wantMetrics {
		t.Errorf("aggregate metrics = %+v, want %+v", thread.Metrics, wantMetrics)
	}

	// PrimaryID is the earliest (not necessarily lowest-id) post.
	if thread.PrimaryID() != "100" {
		t.Errorf("PrimaryID() = %s, want 100", thread.PrimaryID())
	}
}

// TestGroupPostsNewestFirst covers the feed-level ordering: FeedItems
// are sorted newest-first by primary-post creation time, independent of
// input order.
func TestGroupPostsNewestFirst(t *testing.T) {
	older := post("1", "1", "older", mustTime("2026-01-01T00:00:00Z"), 0, 0, 0, 0, 0)
	newer := post("2", "2", "newer", mustTime("2026-01-02T00:00:00Z"), 0, 0, 0, 0, 0)

	items := groupPosts([]model.Post{older, newer}, false, nil)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Post.ID != "2" || items[1].Post.ID != "1" {
		t.Errorf("expected newest-first order [2,1], got [%s,%s]", items[0].Post.ID, items[1].Post.ID)
	}
}

// Package fetcher implements the Post Fetcher (C1): it calls the upstream
// social API via go-twitter/v2, reconstructs threads from out-of-order
// timeline responses, and groups conversations into singletons or Threads.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	twitter "github.com/g8rswimmer/go-twitter/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"visualtweets/internal/model"
)

// Fetcher is the capability set the Capture Orchestrator depends on.
type Fetcher interface {
	FetchRecent(ctx context.Context, handle string, daysBack, maxItems int) ([]string, error)
	FetchByID(ctx context.Context, postID string) (*model.Post, error)
	FetchByURL(ctx context.Context, url string) (*model.Post, error)
	GroupThreads(ctx context.Context, handle string, daysBack, maxItems int) ([]model.FeedItem, error)
}

// urlPatterns extracts a 19-digit tweet id, in priority order, matching
// tweet_services.py's _extract_tweet_id_from_url pattern list (testable
// property 4).
var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`twitter\.com/\w+/status/(\d+)`),
	regexp.MustCompile(`x\.com/\w+/status/(\d+)`),
	regexp.MustCompile(`/status/(\d+)`),
	regexp.MustCompile(`^(\d{19})$`),
}

// ExtractTweetID pulls a tweet id out of any of the URL shapes spec.md
// §4.1 names, or a bare 19-digit id. Returns "" if none match.
func ExtractTweetID(url string) string {
	for _, p := range urlPatterns {
		if m := p.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}

// auth implements twitter.Authorizer with a bearer token, matching the
// teacher's twitterAuth struct in server/services/social/twitter.go.
type auth struct {
	token string
}

func (a auth) Add(req *http.Request) {
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", a.token))
}

// TwitterFetcher implements Fetcher against the v2 API.
type TwitterFetcher struct {
	client  *twitter.Client
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewTwitterFetcher constructs a TwitterFetcher. requestsPerSecond bounds
// the Fetcher's own request volume as a client-side courtesy limit,
// independent of the upstream 429 handling in isRateLimited.
func NewTwitterFetcher(bearerToken string, requestsPerSecond float64, logger *logrus.Logger) *TwitterFetcher {
	client := &twitter.Client{
		Authorizer: auth{token: bearerToken},
		Client:     &http.Client{Timeout: 15 * time.Second},
		Host:       "https://api.twitter.com",
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1.0
	}
	return &TwitterFetcher{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:  logger,
	}
}

func (f *TwitterFetcher) wait(ctx context.Context) error {
	return f.limiter.Wait(ctx)
}

// isRateLimited reports whether err represents an HTTP 429 from the
// upstream API, in which case spec.md §6 requires aborting the current
// handle's fetch without in-process retry.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "429") || strings.Contains(strings.ToLower(err.Error()), "too many requests")
}

// FetchByURL accepts any of the URL shapes in §4.1 (or a bare 19-digit
// id); returns nil, nil for inputs matching none of them.
func (f *TwitterFetcher) FetchByURL(ctx context.Context, url string) (*model.Post, error) {
	id := ExtractTweetID(strings.TrimSpace(url))
	if id == "" {
		return nil, nil
	}
	return f.FetchByID(ctx, id)
}

// FetchByID looks up a single post with author expansion.
func (f *TwitterFetcher) FetchByID(ctx context.Context, postID string) (*model.Post, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}

	opts := twitter.TweetLookupOpts{
		Expansions: []twitter.Expansion{twitter.ExpansionAuthorID},
		TweetFields: []twitter.TweetField{
			twitter.TweetFieldCreatedAt,
			twitter.TweetFieldPublicMetrics,
			twitter.TweetFieldConversationID,
		},
		UserFields: []twitter.UserField{twitter.UserFieldUserName, twitter.UserFieldName},
	}

	resp, err := f.client.TweetLookup(ctx, []string{postID}, opts)
	if err != nil {
		if isRateLimited(err) {
			f.logger.WithField("component", "fetcher").WithError(err).Warn("rate limited fetching tweet by id")
			return nil, nil
		}
		return nil, fmt.Errorf("fetcher: tweet lookup %s: %w", postID, err)
	}
	if resp == nil || len(resp.Raw.Tweets) == 0 {
		return nil, nil
	}

	tw := resp.Raw.Tweets[0]
	post := tweetToPost(tw, resp.Raw.Includes)
	return &post, nil
}

// FetchRecent returns up to maxItems post URLs authored by handle within
// the trailing daysBack days, excluding replies, newest-first.
func (f *TwitterFetcher) FetchRecent(ctx context.Context, handle string, daysBack, maxItems int) ([]string, error) {
	tweets, _, err := f.fetchUserTimeline(ctx, handle, daysBack, maxItems)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(tweets))
	for _, tw := range tweets {
		urls = append(urls, fmt.Sprintf("https://twitter.com/%s/status/%s", handle, tw.ID))
	}
	return urls, nil
}

// fetchUserTimeline resolves handle to a user id, then fetches its recent
// non-reply tweets within the trailing daysBack days. It returns the raw
// tweets plus whether the API reported more pages than max_items allowed
// for (a truncation signal, logged by GroupThreads).
func (f *TwitterFetcher) fetchUserTimeline(ctx context.Context, handle string, daysBack, maxItems int) ([]*twitter.TweetObj, bool, error) {
	if err := f.wait(ctx); err != nil {
		return nil, false, err
	}

	userResp, err := f.client.UserNameLookup(ctx, []string{handle}, twitter.UserLookupOpts{})
	if err != nil {
		if isRateLimited(err) {
			f.logger.WithField("component", "fetcher").WithError(err).Warn("rate limited resolving handle")
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetcher: user lookup %s: %w", handle, err)
	}
	if userResp == nil || len(userResp.Raw.Users) == 0 {
		f.logger.WithField("handle", handle).Warn("fetcher: handle not found")
		return nil, false, nil
	}
	userID := userResp.Raw.Users[0].ID

	if err := f.wait(ctx); err != nil {
		return nil, false, err
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -daysBack)

	opts := twitter.UserTweetTimelineOpts{
		MaxResults: maxItems,
		StartTime:  start,
		EndTime:    end,
		Excludes:   []twitter.Exclude{twitter.ExcludeReplies},
		TweetFields: []twitter.TweetField{
			twitter.TweetFieldCreatedAt,
			twitter.TweetFieldPublicMetrics,
			twitter.TweetFieldConversationID,
		},
	}

	resp, err := f.client.UserTweetTimeline(ctx, userID, opts)
	if err != nil {
		if isRateLimited(err) {
			f.logger.WithField("component", "fetcher").WithError(err).Warn("rate limited fetching timeline")
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetcher: user tweet timeline %s: %w", handle, err)
	}
	if resp == nil {
		return nil, false, nil
	}

	truncated := resp.Meta != nil && resp.Meta.NextToken != ""
	return resp.Raw.Tweets, truncated, nil
}

// GroupThreads fetches recent posts for handle, buckets them by
// conversation_id, and emits singletons unchanged / multi-post buckets as
// Threads, sorted newest-first by primary-post creation time. Grounded
// line-for-line on detect_and_group_threads in tweet_services.py.
func (f *TwitterFetcher) GroupThreads(ctx context.Context, handle string, daysBack, maxItems int) ([]model.FeedItem, error) {
	tweets, truncated, err := f.fetchUserTimeline(ctx, handle, daysBack, maxItems)
	if err != nil {
		return nil, err
	}
	if len(tweets) == 0 {
		return nil, nil
	}

	posts := make([]model.Post, 0, len(tweets))
	for _, tw := range tweets {
		convID := tw.ConversationID
		if convID == "" {
			convID = tw.ID
		}
		posts = append(posts, rawTweetToPost(tw, handle, convID))
	}

	return groupPosts(posts, truncated, f.logger), nil
}

// groupPosts buckets already-converted posts by conversation_id,
// reconstructs multi-post buckets into Threads (ascending-timestamp
// ThreadTweets order, `[i/N]`-prefixed combined text, element-wise summed
// Metrics), and returns every FeedItem sorted newest-first by
// primary-post creation time. Factored out of GroupThreads's API-specific
// conversion step so it can be exercised without a live API call.
func groupPosts(posts []model.Post, truncated bool, logger *logrus.Logger) []model.FeedItem {
	buckets := map[string][]model.Post{}
	order := []string{}
	for _, p := range posts {
		convID := p.ConversationID
		if _, ok := buckets[convID]; !ok {
			order = append(order, convID)
		}
		buckets[convID] = append(buckets[convID], p)
	}

	items := make([]model.FeedItem, 0, len(order))
	for _, convID := range order {
		bucket := buckets[convID]
		if len(bucket) == 1 {
			post := bucket[0]
			items = append(items, model.FeedItem{Post: &post})
			continue
		}

		if truncated && logger != nil {
			logger.WithFields(logrus.Fields{
				"handle":          bucket[0].Author.Username,
				"conversation_id": convID,
				"retrieved_count": len(bucket),
			}).Warn("fetcher: thread may be truncated by max_items/time window")
		}

		sort.Slice(bucket, func(i, j int) bool {
			return bucket[i].CreatedAt.Before(bucket[j].CreatedAt)
		})

		var combined strings.Builder
		var agg model.Metrics
		n := len(bucket)
		for i, p := range bucket {
			agg = agg.Add(p.Metrics)
			if i > 0 {
				combined.WriteString("\n\n")
			}
			fmt.Fprintf(&combined, "[%d/%d] %s", i+1, n, p.Text)
		}

		thread := model.Thread{
			ConversationID:   convID,
			IsThread:         true,
			Author:           bucket[0].Author,
			CreatedAt:        bucket[0].CreatedAt,
			Text:             combined.String(),
			ThreadTweetCount: n,
			ThreadTweets:     bucket,
			Metrics:          agg,
		}
		items = append(items, model.FeedItem{Thread: &thread})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt().After(items[j].CreatedAt())
	})

	return items
}

func rawTweetToPost(tw *twitter.TweetObj, handle, convID string) model.Post {
	return model.Post{
		ID:   tw.ID,
		Text: tw.Text,
		Author: model.Author{
			ID:       tw.AuthorID,
			Username: handle,
			Name:     handle,
		},
		CreatedAt:      tw.CreatedAt,
		ConversationID: convID,
		Metrics:        metricsFromPublicMetrics(tw),
	}
}

func tweetToPost(tw *twitter.TweetObj, includes *twitter.TweetRawIncludes) model.Post {
	author := model.Author{ID: tw.AuthorID}
	if includes != nil {
		for _, u := range includes.Users {
			if u.ID == tw.AuthorID {
				author.Username = u.UserName
				author.Name = u.Name
			}
		}
	}
	convID := tw.ConversationID
	if convID == "" {
		convID = tw.ID
	}
	return model.Post{
		ID:             tw.ID,
		Text:           tw.Text,
		Author:         author,
		CreatedAt:      tw.CreatedAt,
		ConversationID: convID,
		Metrics:        metricsFromPublicMetrics(tw),
	}
}

func metricsFromPublicMetrics(tw *twitter.TweetObj) model.Metrics {
	if tw.PublicMetrics == nil {
		return model.Metrics{}
	}
	pm := tw.PublicMetrics
	return model.Metrics{
		Likes:     pm.Likes,
		Retweets:  pm.Retweets,
		Replies:   pm.Replies,
		Quotes:    pm.Quotes,
		Bookmarks: pm.Bookmarks,
		// Impressions is not copied from the response and stays zero, so a
		// missing impression_count and a real zero look the same
		// (see DESIGN.md's "missing vs zero impressions" decision).
	}
}

// Package model holds the data types shared by every pipeline component:
// the upstream Post/Thread shapes, the CaptureItem the orchestrator emits,
// the Metadata Record persisted to blob storage, and the ClassifiedRecord
// persisted to the record store.
package model

import (
	"strings"
	"time"
)

// Metrics carries the public engagement counters for a Post. The Fetcher
// does not fill Impressions, so it is zero for fetched posts whether or not
// the upstream API reported a count; see DESIGN.md.
type Metrics struct {
	Likes       int `json:"likes"`
	Retweets    int `json:"retweets"`
	Replies     int `json:"replies"`
	Quotes      int `json:"quotes"`
	Bookmarks   int `json:"bookmarks"`
	Impressions int `json:"impressions"`
}

// Add returns the element-wise sum of m and other.
func (m Metrics) Add(other Metrics) Metrics {
	return Metrics{
		Likes:       m.Likes + other.Likes,
		Retweets:    m.Retweets + other.Retweets,
		Replies:     m.Replies + other.Replies,
		Quotes:      m.Quotes + other.Quotes,
		Bookmarks:   m.Bookmarks + other.Bookmarks,
		Impressions: m.Impressions + other.Impressions,
	}
}

// Author identifies a Post's writer.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Post is a single message on the upstream platform.
type Post struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	Author         Author    `json:"author"`
	CreatedAt      time.Time `json:"created_at"`
	ConversationID string    `json:"conversation_id"`
	Metrics        Metrics   `json:"metrics"`
}

// IsRetweetText reports whether text looks like a retweet under the
// fragile "RT @" prefix heuristic the original system uses. This does not
// distinguish retweets from quote tweets; see spec.md §9.
func IsRetweetText(text string) bool {
	return strings.HasPrefix(text, "RT @")
}

// Thread is a chronologically-ordered run of Posts by the same author
// sharing a conversation_id.
type Thread struct {
	ConversationID   string  `json:"conversation_id"`
	IsThread         bool    `json:"is_thread"`
	Author           Author  `json:"author"`
	CreatedAt        time.Time `json:"created_at"`
	Text             string  `json:"text"`
	ThreadTweetCount int     `json:"thread_tweet_count"`
	ThreadTweets     []Post  `json:"thread_tweets"`
	Metrics          Metrics `json:"metrics"`
}

// PrimaryID is the id of the chronologically earliest post in the thread.
func (t Thread) PrimaryID() string {
	if len(t.ThreadTweets) == 0 {
		return ""
	}
	return t.ThreadTweets[0].ID
}

// FeedItem is either a singleton Post or a Thread, as returned by
// Fetcher.GroupThreads.
type FeedItem struct {
	Post   *Post
	Thread *Thread
}

// PrimaryID mirrors CaptureItem.primary_id: the post itself for a
// singleton, the earliest post for a thread.
func (f FeedItem) PrimaryID() string {
	if f.Thread != nil {
		return f.Thread.PrimaryID()
	}
	if f.Post != nil {
		return f.Post.ID
	}
	return ""
}

// CreatedAt is the timestamp used for newest-first sorting of FeedItems.
func (f FeedItem) CreatedAt() time.Time {
	if f.Thread != nil {
		return f.Thread.CreatedAt
	}
	if f.Post != nil {
		return f.Post.CreatedAt
	}
	return time.Time{}
}

// Text is the body used for content-type detection and, for singletons,
// for text extraction fallback.
func (f FeedItem) Text() string {
	if f.Thread != nil {
		return f.Thread.Text
	}
	if f.Post != nil {
		return f.Post.Text
	}
	return ""
}

// ContentType classifies a FeedItem as spec.md §4.4/§9 describes:
// "retweet" wins on the RT-prefix heuristic, else "convo" for threads,
// else "tweet".
func (f FeedItem) ContentType() string {
	if IsRetweetText(f.Text()) {
		return "retweet"
	}
	if f.Thread != nil {
		return "convo"
	}
	return "tweet"
}

// CropCoordinates are percentages of the source image's dimensions.
type CropCoordinates struct {
	X1Percent int `json:"x1_percent"`
	Y1Percent int `json:"y1_percent"`
	X2Percent int `json:"x2_percent"`
	Y2Percent int `json:"y2_percent"`
}

// CropConfig describes whether and how screenshots should be cropped.
// NewCropConfig panics on invalid coordinates; a struct literal is not
// validated.
type CropConfig struct {
	Enabled     bool
	Coordinates CropCoordinates
}

// NewCropConfig validates the crop bounds (0 <= x1 < x2 <= 100, same for y)
// before returning an enabled CropConfig, matching
// _validate_crop_parameters in visual_tweet_capture_service.py (testable
// property 9).
func NewCropConfig(x1, y1, x2, y2 int) CropConfig {
	if !(0 <= x1 && x1 < x2 && x2 <= 100) {
		panic("model: invalid crop x coordinates")
	}
	if !(0 <= y1 && y1 < y2 && y2 <= 100) {
		panic("model: invalid crop y coordinates")
	}
	return CropConfig{
		Enabled: true,
		Coordinates: CropCoordinates{
			X1Percent: x1, Y1Percent: y1, X2Percent: x2, Y2Percent: y2,
		},
	}
}

// CaptureItem is the Capture Orchestrator's unit of work: one Post
// (singleton/retweet) or one Thread, plus the screenshots captured for it.
type CaptureItem struct {
	ContentType  string
	Item         FeedItem
	ZoomPercent  int
	Crop         CropConfig
	Screenshots  []string // local file paths, in capture order
}

// CroppingJSON is the wire shape of the "cropping" metadata field.
type CroppingJSON struct {
	Enabled     bool             `json:"enabled"`
	Coordinates *CropCoordinates `json:"coordinates"`
}

func NewCroppingJSON(c CropConfig) CroppingJSON {
	j := CroppingJSON{Enabled: c.Enabled}
	if c.Enabled {
		coords := c.Coordinates
		j.Coordinates = &coords
	}
	return j
}

// CapturedTweet is one entry of a thread's ordered_tweets array: a Post's
// fields plus its own capture bookkeeping.
type CapturedTweet struct {
	TweetID          string    `json:"tweet_id"`
	TweetURL         string    `json:"tweet_url"`
	TweetMetadata    Post      `json:"tweet_metadata"`
	IDOrder          int       `json:"id_order"`
	ScreenshotCount  int       `json:"screenshot_count"`
	S3Screenshots    []string  `json:"s3_screenshots"`
	S3Folder         string    `json:"s3_folder"`
	CaptureTimestamp time.Time `json:"capture_timestamp"`
}

// ThreadSummary mirrors the original's "clean" thread dict: the Thread's
// own fields minus the (duplicated) thread_tweets array.
type ThreadSummary struct {
	ConversationID   string    `json:"conversation_id"`
	IsThread         bool      `json:"is_thread"`
	Author           Author    `json:"author"`
	CreatedAt        time.Time `json:"created_at"`
	Text             string    `json:"text"`
	ThreadTweetCount int       `json:"thread_tweet_count"`
	Metrics          Metrics   `json:"metrics"`
}

// MetadataRecord is the authoritative JSON document written to blob
// storage for a CaptureItem (spec.md §3). tweet_metadata is populated for
// singletons/retweets; thread_summary+ordered_tweets for threads.
type MetadataRecord struct {
	TweetID          string        `json:"tweet_id"`
	TweetURL         string        `json:"tweet_url,omitempty"`
	ConversationID   string        `json:"conversation_id,omitempty"`
	ContentType      string        `json:"content_type"`
	CaptureTimestamp time.Time     `json:"capture_timestamp"`
	ScreenshotCount  int           `json:"screenshot_count"`
	S3Screenshots    []string      `json:"s3_screenshots"`
	S3Bucket         string        `json:"s3_bucket"`
	S3FolderPrefix   string        `json:"s3_folder_prefix"`
	BrowserZoom      string        `json:"browser_zoom"`
	Cropping         CroppingJSON  `json:"cropping"`

	// Singleton / retweet
	TweetMetadata *Post `json:"tweet_metadata,omitempty"`

	// Thread
	ThreadSummary          *ThreadSummary  `json:"thread_summary,omitempty"`
	TotalTweetsInThread    int             `json:"total_tweets_in_thread,omitempty"`
	SuccessfullyCaptured   int             `json:"successfully_captured,omitempty"`
	OrderedTweets          []CapturedTweet `json:"ordered_tweets,omitempty"`

	// Populated by the Text Extractor (C5); append-only.
	FullText          string     `json:"full_text,omitempty"`
	Summary           string     `json:"summary,omitempty"`
	ExtractionTimestamp *time.Time `json:"extraction_timestamp,omitempty"`

	// Populated by the Hierarchical Classifier (C7/C8); append-only.
	L1Category                  string     `json:"L1_category,omitempty"`
	L1CategorizationConfidence  float64    `json:"L1_categorization_confidence,omitempty"`
	L1CategorizationReasoning   string     `json:"L1_categorization_reasoning,omitempty"`
	L1CategorizationTimestamp   *time.Time `json:"L1_categorization_timestamp,omitempty"`
	L2Category                  []string   `json:"L2_category,omitempty"`
	L2CategorizationConfidence  float64    `json:"L2_categorization_confidence,omitempty"`
	L2CategorizationReasoning   string     `json:"L2_categorization_reasoning,omitempty"`
	L2CategorizationTimestamp   *time.Time `json:"L2_categorization_timestamp,omitempty"`
}

// ClassificationTopics is the classification_result sub-document of a
// ClassifiedRecord.
type ClassificationTopics struct {
	L1Topics   string   `json:"l1_topics"`
	L1Raw      string   `json:"l1_raw_response"`
	L2Topic    []string `json:"l2_topic,omitempty"`
	L2Raw      string   `json:"l2_raw_response,omitempty"`
}

// AIModelsUsed records which model produced which part of a
// ClassifiedRecord, for auditability.
type AIModelsUsed struct {
	Extraction     string `json:"extraction,omitempty"`
	Classification string `json:"classification,omitempty"`
}

// ClassifiedRecord is the record the Classification Worker upserts into
// the Record Store, keyed by TweetID.
type ClassifiedRecord struct {
	TweetID              string               `json:"tweet_id"`
	AuthorID             string               `json:"author_id"`
	AuthorUsername       string               `json:"author_username"`
	TweetText            string               `json:"tweet_text"`
	CreatedAt            time.Time            `json:"created_at"`
	ClassificationResult ClassificationTopics `json:"classification_result"`
	AIModelsUsed         AIModelsUsed         `json:"ai_models_used"`
	ScreenshotS3Path     string               `json:"screenshot_s3_path,omitempty"`
	ClassifiedAt         time.Time            `json:"classified_at"`
}

// Package orchestrator implements the Capture Orchestrator (C4): it
// drives the Post Fetcher and Browser Renderer for one account, persists
// screenshots and metadata through the Blob Sink under a deterministic
// key layout, and produces a run-level capture summary.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"visualtweets/internal/blobstore"
	"visualtweets/internal/browser"
	"visualtweets/internal/fetcher"
	"visualtweets/internal/model"
)

// CapturedItemResult reports the outcome of capturing one FeedItem.
type CapturedItemResult struct {
	Type               string `json:"type"` // "thread" or "individual_tweet"
	ConversationID     string `json:"conversation_id,omitempty"`
	TweetID            string `json:"tweet_id,omitempty"`
	TotalTweets        int    `json:"total_tweets"`
	CapturedTweets     int    `json:"captured_tweets"`
	BlobFolder         string `json:"blob_folder"`
	MetadataBlobPath   string `json:"metadata_blob_path"`
	Success            bool   `json:"success"`
}

// Summary is the run-level capture_summary.json document for one account.
type Summary struct {
	Account          string               `json:"account"`
	CaptureTimestamp time.Time            `json:"capture_timestamp"`
	ServiceConfig    SummaryServiceConfig `json:"service_config"`
	Stats            SummaryStats         `json:"summary"`
	CapturedContent  []CapturedItemResult `json:"captured_content"`
}

type SummaryServiceConfig struct {
	ZoomPercent int    `json:"zoom_percent"`
	BlobRoot    string `json:"blob_root"`
}

type SummaryStats struct {
	TotalItemsFound           int     `json:"total_items_found"`
	TotalItemsCaptured        int     `json:"total_items_captured"`
	ThreadsFound              int     `json:"threads_found"`
	ThreadsCaptured           int     `json:"threads_captured"`
	IndividualTweetsFound     int     `json:"individual_tweets_found"`
	IndividualTweetsCaptured  int     `json:"individual_tweets_captured"`
	SuccessRate               float64 `json:"success_rate"`
}

// Config configures one orchestrator instance.
type Config struct {
	ZoomPercent            int
	Crop                   model.CropConfig
	MaxScreenshots         int
	MaxScreenshotsInThread int
	TempDir                string
}

// Orchestrator ties the Fetcher, Renderer, and BlobStore together.
type Orchestrator struct {
	fetcher  fetcher.Fetcher
	renderer browser.Renderer
	blob     blobstore.BlobStore
	cfg      Config
	logger   *logrus.Logger
}

// New builds an Orchestrator.
func New(f fetcher.Fetcher, r browser.Renderer, b blobstore.BlobStore, cfg Config, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{fetcher: f, renderer: r, blob: b, cfg: cfg, logger: logger}
}

// CaptureAccount fetches handle's recent content, captures each item, and
// returns the run summary. Per-item failures are isolated: one bad thread
// or tweet is logged and skipped rather than aborting the whole account.
func (o *Orchestrator) CaptureAccount(ctx context.Context, handle string, daysBack, maxItems int) (Summary, error) {
	lowerHandle := strings.ToLower(handle)
	dateFolder := time.Now().UTC().Format("2006-01-02")

	items, err := o.fetcher.GroupThreads(ctx, handle, daysBack, maxItems)
	if err != nil {
		return Summary{}, fmt.Errorf("orchestrator: group threads for @%s: %w", handle, err)
	}

	var threads, singles []model.FeedItem
	for _, item := range items {
		if item.Thread != nil {
			threads = append(threads, item)
		} else {
			singles = append(singles, item)
		}
	}

	o.logger.WithFields(logrus.Fields{"component": "orchestrator", "account": handle, "threads": len(threads), "individual": len(singles)}).Info("orchestrator: starting capture")

	var results []CapturedItemResult

	for i, thread := range threads {
		o.logger.WithFields(logrus.Fields{"component": "orchestrator", "account": handle, "index": i + 1, "total": len(threads), "conversation_id": thread.Thread.ConversationID}).Info("orchestrator: capturing thread")
		result, err := o.captureThread(ctx, lowerHandle, dateFolder, *thread.Thread)
		if err != nil {
			o.logger.WithFields(logrus.Fields{"component": "orchestrator", "conversation_id": thread.Thread.ConversationID, "error": err.Error()}).Error("orchestrator: thread capture failed")
			continue
		}
		results = append(results, result)
	}

	for i, single := range singles {
		o.logger.WithFields(logrus.Fields{"component": "orchestrator", "account": handle, "index": i + 1, "total": len(singles), "tweet_id": single.Post.ID}).Info("orchestrator: capturing individual post")
		result, err := o.captureIndividual(ctx, lowerHandle, dateFolder, *single.Post)
		if err != nil {
			o.logger.WithFields(logrus.Fields{"component": "orchestrator", "tweet_id": single.Post.ID, "error": err.Error()}).Error("orchestrator: individual post capture failed")
			continue
		}
		results = append(results, result)
	}

	summary := o.buildSummary(handle, threads, singles, results)

	summaryKey := blobstore.SummaryKey(dateFolder, lowerHandle)
	if _, err := o.blob.PutJSON(ctx, summaryKey, summary); err != nil {
		return summary, fmt.Errorf("orchestrator: write capture summary: %w", err)
	}

	return summary, nil
}

func (o *Orchestrator) buildSummary(handle string, threads, singles []model.FeedItem, results []CapturedItemResult) Summary {
	threadsCaptured, tweetsCaptured := 0, 0
	for _, r := range results {
		if r.Type == "thread" {
			threadsCaptured++
		} else {
			tweetsCaptured++
		}
	}
	totalFound := len(threads) + len(singles)
	var rate float64
	if totalFound > 0 {
		rate = float64(len(results)) / float64(totalFound)
	}
	return Summary{
		Account:          handle,
		CaptureTimestamp: time.Now().UTC(),
		ServiceConfig: SummaryServiceConfig{
			ZoomPercent: o.cfg.ZoomPercent,
			BlobRoot:    o.blob.Root(),
		},
		Stats: SummaryStats{
			TotalItemsFound:          totalFound,
			TotalItemsCaptured:       len(results),
			ThreadsFound:             len(threads),
			ThreadsCaptured:          threadsCaptured,
			IndividualTweetsFound:    len(singles),
			IndividualTweetsCaptured: tweetsCaptured,
			SuccessRate:              rate,
		},
		CapturedContent: results,
	}
}

// captureThread captures every post in a thread in ascending-post-ID
// order (capture order), while the thread's own ThreadTweets slice stays
// in ascending-timestamp order (display order) — these can differ.
func (o *Orchestrator) captureThread(ctx context.Context, handle, dateFolder string, thread model.Thread) (CapturedItemResult, error) {
	primaryID := thread.PrimaryID()

	sorted := make([]model.Post, len(thread.ThreadTweets))
	copy(sorted, thread.ThreadTweets)
	sort.Slice(sorted, func(i, j int) bool {
		ni, erri := strconv.Atoi(sorted[i].ID)
		nj, errj := strconv.Atoi(sorted[j].ID)
		if erri != nil || errj != nil {
			return sorted[i].ID < sorted[j].ID
		}
		return ni < nj
	})

	maxShots := o.cfg.MaxScreenshotsInThread
	if maxShots <= 0 {
		maxShots = 5
	}

	var captured []model.CapturedTweet
	for i, post := range sorted {
		tweetURL := fmt.Sprintf("https://twitter.com/%s/status/%s", handle, post.ID)
		localDir := filepath.Join(o.tempDir(), fmt.Sprintf("convo_%s_tweet_%s", primaryID, post.ID))
		shots, err := o.renderer.Capture(ctx, tweetURL, localDir, post.ID, maxShots, o.cfg.ZoomPercent, o.cfg.Crop)
		if err != nil {
			o.logger.WithFields(logrus.Fields{"component": "orchestrator", "tweet_id": post.ID, "error": err.Error()}).Error("orchestrator: failed to capture thread post, skipping")
			continue
		}

		tweetFolderPrefix := blobstore.Key(dateFolder, handle, "convo", primaryID, post.ID, "")
		uploaded := o.uploadScreenshots(ctx, shots, tweetFolderPrefix)

		captured = append(captured, model.CapturedTweet{
			TweetID:          post.ID,
			TweetURL:         tweetURL,
			TweetMetadata:    post,
			IDOrder:          i + 1,
			ScreenshotCount:  len(uploaded),
			S3Screenshots:    uploaded,
			S3Folder:         o.blob.Root() + "/" + tweetFolderPrefix,
			CaptureTimestamp: time.Now().UTC(),
		})
	}

	folderPrefix := blobstore.Key(dateFolder, handle, "convo", primaryID, "", "")
	threadSummary := model.ThreadSummary{
		ConversationID:   thread.ConversationID,
		IsThread:         thread.IsThread,
		Author:           thread.Author,
		CreatedAt:        thread.CreatedAt,
		Text:             thread.Text,
		ThreadTweetCount: thread.ThreadTweetCount,
		Metrics:          thread.Metrics,
	}

	record := model.MetadataRecord{
		TweetID:              primaryID,
		ConversationID:       thread.ConversationID,
		ContentType:          "convo",
		CaptureTimestamp:     time.Now().UTC(),
		S3FolderPrefix:       folderPrefix,
		BrowserZoom:          fmt.Sprintf("%d_percent", o.cfg.ZoomPercent),
		Cropping:             model.NewCroppingJSON(o.cfg.Crop),
		ThreadSummary:        &threadSummary,
		TotalTweetsInThread:  len(sorted),
		SuccessfullyCaptured: len(captured),
		OrderedTweets:        captured,
	}

	metaKey := blobstore.Key(dateFolder, handle, "convo", primaryID, "", "metadata.json")
	if _, err := o.blob.PutJSON(ctx, metaKey, record); err != nil {
		return CapturedItemResult{}, fmt.Errorf("write thread metadata: %w", err)
	}

	return CapturedItemResult{
		Type:             "thread",
		ConversationID:   thread.ConversationID,
		TotalTweets:      len(sorted),
		CapturedTweets:   len(captured),
		BlobFolder:       o.blob.Root() + "/" + folderPrefix,
		MetadataBlobPath: metaKey,
		Success:          len(captured) > 0,
	}, nil
}

// captureIndividual captures a singleton post, classified as "retweet" or
// "tweet" by the FeedItem content-type heuristic.
func (o *Orchestrator) captureIndividual(ctx context.Context, handle, dateFolder string, post model.Post) (CapturedItemResult, error) {
	item := model.FeedItem{Post: &post}
	contentType := item.ContentType()

	tweetURL := fmt.Sprintf("https://twitter.com/%s/status/%s", handle, post.ID)
	localDir := filepath.Join(o.tempDir(), fmt.Sprintf("%s_%s", contentType, post.ID))

	maxShots := o.cfg.MaxScreenshots
	if maxShots <= 0 {
		maxShots = 10
	}

	shots, err := o.renderer.Capture(ctx, tweetURL, localDir, post.ID, maxShots, o.cfg.ZoomPercent, o.cfg.Crop)
	if err != nil {
		return CapturedItemResult{}, fmt.Errorf("capture screenshots for %s: %w", post.ID, err)
	}

	folderPrefix := blobstore.Key(dateFolder, handle, contentType, "", post.ID, "")
	uploaded := o.uploadScreenshots(ctx, shots, folderPrefix)

	record := model.MetadataRecord{
		TweetID:          post.ID,
		TweetURL:         tweetURL,
		ConversationID:   post.ConversationID,
		ContentType:      contentType,
		CaptureTimestamp: time.Now().UTC(),
		ScreenshotCount:  len(uploaded),
		S3Screenshots:    uploaded,
		S3FolderPrefix:   folderPrefix,
		BrowserZoom:      fmt.Sprintf("%d_percent", o.cfg.ZoomPercent),
		Cropping:         model.NewCroppingJSON(o.cfg.Crop),
		TweetMetadata:    &post,
	}

	metaKey := blobstore.Key(dateFolder, handle, contentType, "", post.ID, "capture_metadata.json")
	if _, err := o.blob.PutJSON(ctx, metaKey, record); err != nil {
		return CapturedItemResult{}, fmt.Errorf("write metadata: %w", err)
	}

	return CapturedItemResult{
		Type:             "individual_tweet",
		TweetID:          post.ID,
		TotalTweets:      1,
		CapturedTweets:   1,
		BlobFolder:       o.blob.Root() + "/" + folderPrefix,
		MetadataBlobPath: metaKey,
		Success:          len(uploaded) > 0,
	}, nil
}

// uploadScreenshots reads each local file and puts it under folderPrefix,
// returning the resulting blob paths in capture order.
func (o *Orchestrator) uploadScreenshots(ctx context.Context, localPaths []string, folderPrefix string) []string {
	var uploaded []string
	for _, p := range localPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			o.logger.WithFields(logrus.Fields{"component": "orchestrator", "path": p, "error": err.Error()}).Warn("orchestrator: failed to read local screenshot, skipping")
			continue
		}
		key := folderPrefix + filepath.Base(p)
		blobPath, err := o.blob.PutImage(ctx, key, data)
		if err != nil {
			o.logger.WithFields(logrus.Fields{"component": "orchestrator", "key": key, "error": err.Error()}).Warn("orchestrator: failed to upload screenshot, skipping")
			continue
		}
		uploaded = append(uploaded, blobPath)
	}
	return uploaded
}

func (o *Orchestrator) tempDir() string {
	if o.cfg.TempDir != "" {
		return o.cfg.TempDir
	}
	return os.TempDir()
}

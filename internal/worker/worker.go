// Package worker implements the Classification Worker (C8): it drains the
// Classification Queue, extracts text via the Text Extractor, classifies
// via the Hierarchical Classifier, and upserts the result into the Record
// Store, acknowledging each message only after it lands in the store.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"visualtweets/internal/blobstore"
	"visualtweets/internal/classifier"
	"visualtweets/internal/extractor"
	"visualtweets/internal/model"
	"visualtweets/internal/queue"
	"visualtweets/internal/store"
)

// Config controls batch size and idle backoff.
type Config struct {
	BatchSize   int
	IdleSleep   time.Duration
	FetchPeriod time.Duration
}

// Worker is the long-running C8 loop: FetchBatch -> extract -> classify ->
// PutBatch -> Ack, draining in-flight work before exiting on cancellation.
type Worker struct {
	queue      queue.Queue
	blob       blobstore.BlobStore
	extractor  *extractor.Extractor
	classifier *classifier.Classifier
	store      store.Store
	cfg        Config
	logger     *logrus.Logger
}

// New builds a Worker from its component dependencies.
func New(q queue.Queue, blob blobstore.BlobStore, ext *extractor.Extractor, cls *classifier.Classifier, st store.Store, cfg Config, logger *logrus.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = time.Second
	}
	return &Worker{queue: q, blob: blob, extractor: ext, classifier: cls, store: st, cfg: cfg, logger: logger}
}

// Run loops until ctx is canceled, draining any in-flight batch before
// returning.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			w.logger.WithField("component", "worker").Info("worker: shutdown drained, exiting")
			return
		default:
		}

		msgs, err := w.queue.FetchBatch(ctx, w.cfg.BatchSize)
		if err != nil {
			w.logger.WithFields(logrus.Fields{"component": "worker", "error": err.Error()}).Error("worker: fetch batch failed")
			w.sleep(ctx)
			continue
		}
		if len(msgs) == 0 {
			w.sleep(ctx)
			continue
		}

		wg.Add(1)
		func() {
			defer wg.Done()
			for _, msg := range msgs {
				if err := w.ProcessAndAck(ctx, msg); err != nil {
					w.logger.WithFields(logrus.Fields{"component": "worker", "metadata_path": msg.S3MetadataPath, "error": err.Error()}).Error("worker: failed to process message")
				}
			}
		}()
	}
}

// ProcessAndAck runs one message through extraction, classification, and
// storage, acknowledging it only on success. An unacked message is left
// for redelivery once the queue's visibility timeout elapses.
func (w *Worker) ProcessAndAck(ctx context.Context, msg queue.Message) error {
	if err := w.processMessage(ctx, msg); err != nil {
		return err
	}
	if err := w.queue.Ack(ctx, msg); err != nil {
		return fmt.Errorf("worker: ack: %w", err)
	}
	return nil
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.cfg.IdleSleep):
	}
}

// processMessage runs one capture item through extraction, classification,
// and storage. It only returns nil once the record is durably upserted, so
// the caller can safely Ack.
func (w *Worker) processMessage(ctx context.Context, msg queue.Message) error {
	if err := w.extractor.Extract(ctx, msg.S3MetadataPath); err != nil {
		return fmt.Errorf("worker: extract: %w", err)
	}

	var rec model.MetadataRecord
	if err := w.blob.GetJSON(ctx, msg.S3MetadataPath, &rec); err != nil {
		return fmt.Errorf("worker: reload metadata: %w", err)
	}

	text := rec.FullText
	if text == "" {
		text = rec.Summary
	}

	result, err := w.classifier.Classify(ctx, rec.TweetID, text)
	if err != nil {
		return fmt.Errorf("worker: classify: %w", err)
	}

	now := time.Now().UTC()
	rec.L1Category = result.Level1
	rec.L1CategorizationConfidence = result.ConfL1
	rec.L1CategorizationTimestamp = &now
	rec.L2Category = result.Level2
	rec.L2CategorizationConfidence = result.ConfL2
	rec.L2CategorizationTimestamp = &now

	if _, err := w.blob.PutJSON(ctx, msg.S3MetadataPath, rec); err != nil {
		return fmt.Errorf("worker: persist categorized metadata: %w", err)
	}

	classified := toClassifiedRecord(rec, result, now)
	if err := w.store.PutBatch(ctx, []model.ClassifiedRecord{classified}); err != nil {
		return fmt.Errorf("worker: put batch: %w", err)
	}

	return nil
}

func toClassifiedRecord(rec model.MetadataRecord, result classifier.Result, now time.Time) model.ClassifiedRecord {
	authorID, authorUsername, createdAt := "", "", now
	if rec.TweetMetadata != nil {
		authorID = rec.TweetMetadata.Author.ID
		authorUsername = rec.TweetMetadata.Author.Username
		createdAt = rec.TweetMetadata.CreatedAt
	} else if rec.ThreadSummary != nil {
		authorID = rec.ThreadSummary.Author.ID
		authorUsername = rec.ThreadSummary.Author.Username
		createdAt = rec.ThreadSummary.CreatedAt
	}

	screenshot := ""
	if len(rec.S3Screenshots) > 0 {
		screenshot = rec.S3Screenshots[0]
	}

	return model.ClassifiedRecord{
		TweetID:         rec.TweetID,
		AuthorID:        authorID,
		AuthorUsername:  authorUsername,
		TweetText:       rec.FullText,
		CreatedAt:       createdAt,
		ClassificationResult: model.ClassificationTopics{
			L1Topics: result.Level1,
			L1Raw:    result.RawL1,
			L2Topic:  result.Level2,
			L2Raw:    result.RawL2,
		},
		AIModelsUsed: model.AIModelsUsed{
			Classification: result.Model,
		},
		ScreenshotS3Path: screenshot,
		ClassifiedAt:     now,
	}
}

// cmd/pipeline/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"visualtweets/internal/blobstore"
	"visualtweets/internal/browser"
	"visualtweets/internal/classifier"
	"visualtweets/internal/config"
	"visualtweets/internal/extractor"
	"visualtweets/internal/fetcher"
	"visualtweets/internal/model"
	"visualtweets/internal/orchestrator"
	"visualtweets/internal/queue"
	"visualtweets/internal/store"
	"visualtweets/internal/taxonomy"
	"visualtweets/internal/worker"
)

// RunManifest is the top-level record written at the end of a pipeline
// invocation, summarizing every account processed.
type RunManifest struct {
	StartedAt time.Time                     `json:"started_at"`
	EndedAt   time.Time                     `json:"ended_at"`
	Accounts  map[string]orchestrator.Summary `json:"accounts"`
	Failed    []string                      `json:"failed_accounts,omitempty"`
}

func main() {
	accountsFlag := flag.String("accounts", "", "comma-separated list of handles to capture")
	days := flag.Int("days", 7, "how many days back to fetch")
	maxItems := flag.Int("max", 20, "max feed items per account")
	output := flag.String("output", "run_artifacts", "local output directory for blobs and manifest")
	useAWS := flag.Bool("aws", false, "use hosted NATS/Postgres/S3 backends instead of in-memory ones")
	flag.Parse()

	accounts := splitAccounts(*accountsFlag)
	if len(accounts) == 0 {
		log.Fatal("pipeline: --accounts is required (comma-separated handles)")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("pipeline: failed to load configuration: %v", err)
	}
	if *output != "" {
		cfg.Blob.LocalBase = *output
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		logger.Info("pipeline: shutdown signal received")
		cancel()
	}()

	blob, err := newBlobStore(ctx, cfg, *useAWS)
	if err != nil {
		log.Fatalf("pipeline: failed to init blob store: %v", err)
	}

	fetch := fetcher.NewTwitterFetcher(cfg.Twitter.BearerToken, cfg.Twitter.RequestsPerSecond, logger)

	renderer, err := browser.NewRodRenderer(browser.Config{
		MaxRetries:        cfg.Browser.MaxBrowserRetries,
		RetryDelay:        time.Duration(cfg.Browser.RetryDelaySeconds * float64(time.Second)),
		RetryBackoff:      cfg.Browser.RetryBackoff,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		PostLoadDwell:     cfg.Browser.PostLoadDwell,
		ScrollDwell:       cfg.Browser.ScrollDwell,
	}, logger)
	if err != nil {
		log.Fatalf("pipeline: failed to launch browser: %v", err)
	}
	defer renderer.Close()

	orch := orchestrator.New(fetch, renderer, blob, orchestrator.Config{
		ZoomPercent:            cfg.Browser.ZoomPercent,
		Crop:                   cropConfig(cfg),
		MaxScreenshots:         cfg.Browser.MaxScreenshots,
		MaxScreenshotsInThread: cfg.Browser.MaxScreenshotsInThread,
		TempDir:                filepath.Join(cfg.Blob.LocalBase, "tmp"),
	}, logger)

	q := newQueue(cfg, *useAWS, logger)

	tax, err := taxonomy.Load(cfg.Classifier.RegistryPath)
	if err != nil {
		log.Fatalf("pipeline: failed to load taxonomy: %v", err)
	}

	ext, err := extractor.New(extractor.Config{Model: cfg.Extractor.Model, APIKey: cfg.Extractor.APIKey, Timeout: cfg.Extractor.Timeout}, blob, logger)
	if err != nil {
		log.Fatalf("pipeline: failed to init extractor: %v", err)
	}

	cls, err := classifier.New(classifier.Config{Model: cfg.Classifier.Model, APIKey: cfg.Classifier.APIKey, ConfidenceThreshold: cfg.Classifier.ConfidenceThreshold, MaxRetries: cfg.Classifier.MaxRetries}, tax, logger)
	if err != nil {
		log.Fatalf("pipeline: failed to init classifier: %v", err)
	}

	st, err := newStore(ctx, cfg, *useAWS)
	if err != nil {
		log.Fatalf("pipeline: failed to init store: %v", err)
	}

	manifest := RunManifest{
		StartedAt: time.Now().UTC(),
		Accounts:  map[string]orchestrator.Summary{},
	}

	for _, handle := range accounts {
		logger.WithField("account", handle).Info("pipeline: capturing account")
		summary, err := orch.CaptureAccount(ctx, handle, *days, *maxItems)
		if err != nil {
			logger.WithFields(logrus.Fields{"account": handle, "error": err.Error()}).Error("pipeline: account capture failed")
			manifest.Failed = append(manifest.Failed, handle)
			continue
		}
		manifest.Accounts[handle] = summary

		for _, item := range summary.CapturedContent {
			if !item.Success {
				continue
			}
			if err := q.Send(ctx, item.MetadataBlobPath); err != nil {
				logger.WithFields(logrus.Fields{"account": handle, "error": err.Error()}).Warn("pipeline: failed to enqueue captured item")
			}
		}
	}

	// Drain the classification queue inline: a standalone run has no
	// separate long-lived worker process.
	w := worker.New(q, blob, ext, cls, st, worker.Config{
		BatchSize: cfg.Worker.BatchSize,
		IdleSleep: 200 * time.Millisecond,
	}, logger)
	runUntilDry(ctx, w, q)

	manifest.EndedAt = time.Now().UTC()
	manifestPath := filepath.Join(cfg.Blob.LocalBase, "run_manifest.json")
	if err := writeManifest(manifestPath, manifest); err != nil {
		logger.WithField("error", err.Error()).Error("pipeline: failed to write run manifest")
	}

	if len(manifest.Accounts) == 0 {
		os.Exit(1)
	}
}

// runUntilDry drives the worker over the queue until it reports empty a
// few times in a row, rather than running forever — a one-shot CLI
// invocation has no external signal for when producing has stopped
// besides exhaustion.
func runUntilDry(ctx context.Context, w *worker.Worker, q queue.Queue) {
	idle := 0
	for idle < 3 {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgs, err := q.FetchBatch(ctx, 10)
		if err != nil {
			idle++
			continue
		}
		if len(msgs) == 0 {
			idle++
			time.Sleep(200 * time.Millisecond)
			continue
		}
		idle = 0
		for _, msg := range msgs {
			if err := w.ProcessAndAck(ctx, msg); err != nil {
				logrus.StandardLogger().WithField("error", err.Error()).Warn("pipeline: worker failed to process message")
			}
		}
	}
}

func newBlobStore(ctx context.Context, cfg config.Config, useAWS bool) (blobstore.BlobStore, error) {
	if useAWS && cfg.Blob.S3Bucket != "" {
		return blobstore.NewS3Store(ctx, cfg.Blob.S3Bucket)
	}
	return blobstore.NewFSStore(cfg.Blob.LocalBase)
}

func newQueue(cfg config.Config, useAWS bool, logger *logrus.Logger) queue.Queue {
	if useAWS && cfg.Queue.URL != "" {
		q, err := queue.NewNATSQueue(queue.NATSConfig{
			URL:               cfg.Queue.URL,
			Stream:            "VISUAL_CAPTURES",
			Subject:           "visual_captures.classify",
			Durable:           "classification-worker",
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			MaxReconnects:     5,
			ReconnectWait:     2 * time.Second,
			ConnectTimeout:    5 * time.Second,
		})
		if err != nil {
			logger.WithField("error", err.Error()).Warn("pipeline: failed to connect to NATS, falling back to in-memory queue")
			return queue.NewMemQueue(cfg.Queue.VisibilityTimeout)
		}
		return q
	}
	return queue.NewMemQueue(cfg.Queue.VisibilityTimeout)
}

func newStore(ctx context.Context, cfg config.Config, useAWS bool) (store.Store, error) {
	if useAWS && cfg.Store.DatabaseURL != "" {
		return store.NewPostgresStore(ctx, cfg.Store.DatabaseURL, cfg.Store.TableName)
	}
	return store.NewMemStore(), nil
}

func cropConfig(cfg config.Config) model.CropConfig {
	return model.CropConfig{
		Enabled: cfg.Browser.CropEnabled,
		Coordinates: model.CropCoordinates{
			X1Percent: cfg.Browser.CropX1,
			Y1Percent: cfg.Browser.CropY1,
			X2Percent: cfg.Browser.CropX2,
			Y2Percent: cfg.Browser.CropY2,
		},
	}
}

func splitAccounts(raw string) []string {
	var out []string
	for _, h := range strings.Split(raw, ",") {
		h = strings.TrimSpace(h)
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

func writeManifest(path string, manifest RunManifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

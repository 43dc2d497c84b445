// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"visualtweets/internal/blobstore"
	"visualtweets/internal/classifier"
	"visualtweets/internal/config"
	"visualtweets/internal/extractor"
	"visualtweets/internal/opsserver"
	"visualtweets/internal/queue"
	"visualtweets/internal/store"
	"visualtweets/internal/taxonomy"
	"visualtweets/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("worker: failed to load configuration: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	blob, err := newBlobStore(ctx, cfg)
	if err != nil {
		log.Fatalf("worker: failed to init blob store: %v", err)
	}

	q, err := newQueue(cfg)
	if err != nil {
		log.Fatalf("worker: failed to init queue: %v", err)
	}

	tax, err := taxonomy.Load(cfg.Classifier.RegistryPath)
	if err != nil {
		log.Fatalf("worker: failed to load taxonomy: %v", err)
	}

	ext, err := extractor.New(extractor.Config{Model: cfg.Extractor.Model, APIKey: cfg.Extractor.APIKey, Timeout: cfg.Extractor.Timeout}, blob, logger)
	if err != nil {
		log.Fatalf("worker: failed to init extractor: %v", err)
	}

	cls, err := classifier.New(classifier.Config{Model: cfg.Classifier.Model, APIKey: cfg.Classifier.APIKey, ConfidenceThreshold: cfg.Classifier.ConfidenceThreshold, MaxRetries: cfg.Classifier.MaxRetries}, tax, logger)
	if err != nil {
		log.Fatalf("worker: failed to init classifier: %v", err)
	}

	st, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatalf("worker: failed to init store: %v", err)
	}

	w := worker.New(q, blob, ext, cls, st, worker.Config{
		BatchSize: cfg.Worker.BatchSize,
		IdleSleep: cfg.Worker.IdleSleep,
	}, logger)

	ops := opsserver.New(cfg.Server)
	go func() {
		logger.WithFields(logrus.Fields{"host": cfg.Server.Host, "port": cfg.Server.Port}).Info("worker: starting ops server")
		if err := ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("worker: ops server error: %v", err)
		}
	}()
	ops.MarkReady()

	runDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(runDone)
	}()

	<-shutdown
	logger.Info("worker: shutdown signal received")
	cancel()
	<-runDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Warn("worker: ops server shutdown error")
	}

	logger.Info("worker: shutdown complete")
}

func newBlobStore(ctx context.Context, cfg config.Config) (blobstore.BlobStore, error) {
	if cfg.Blob.S3Bucket != "" {
		return blobstore.NewS3Store(ctx, cfg.Blob.S3Bucket)
	}
	return blobstore.NewFSStore(cfg.Blob.LocalBase)
}

func newQueue(cfg config.Config) (queue.Queue, error) {
	if cfg.Queue.URL != "" {
		return queue.NewNATSQueue(queue.NATSConfig{
			URL:               cfg.Queue.URL,
			Stream:            "VISUAL_CAPTURES",
			Subject:           "visual_captures.classify",
			Durable:           "classification-worker",
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			MaxReconnects:     5,
			ReconnectWait:     2 * time.Second,
			ConnectTimeout:    5 * time.Second,
		})
	}
	return queue.NewMemQueue(cfg.Queue.VisibilityTimeout), nil
}

func newStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.Store.DatabaseURL != "" {
		return store.NewPostgresStore(ctx, cfg.Store.DatabaseURL, cfg.Store.TableName)
	}
	return store.NewMemStore(), nil
}

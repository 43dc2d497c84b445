package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"visualtweets/internal/model"
)

// PostgresStore is the hosted Store, used once DATABASE_URL is set. It
// upserts one row per tweet keyed on tweet_id with
// INSERT ... ON CONFLICT (tweet_id) DO UPDATE SET, so rewrites are
// idempotent.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore connects to Postgres and ensures the destination table
// exists.
func NewPostgresStore(ctx context.Context, databaseURL, table string) (*PostgresStore, error) {
	pool, err := pgxpool.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgresstore: connect: %w", err)
	}

	if table == "" {
		table = "tweet_topics"
	}

	s := &PostgresStore{pool: pool, table: table}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			tweet_id TEXT PRIMARY KEY,
			author_id TEXT,
			author_username TEXT,
			tweet_text TEXT,
			created_at TIMESTAMPTZ,
			l1_topic TEXT,
			l1_raw_response TEXT,
			l2_topics JSONB,
			l2_raw_response TEXT,
			extraction_model TEXT,
			classification_model TEXT,
			screenshot_s3_path TEXT,
			classified_at TIMESTAMPTZ
		)`, s.table)
	_, err := s.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("postgresstore: ensure schema: %w", err)
	}
	return nil
}

// PutBatch upserts each record by tweet_id within a single transaction.
func (s *PostgresStore) PutBatch(ctx context.Context, records []model.ClassifiedRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgresstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`
		INSERT INTO %s (
			tweet_id, author_id, author_username, tweet_text, created_at,
			l1_topic, l1_raw_response, l2_topics, l2_raw_response,
			extraction_model, classification_model, screenshot_s3_path, classified_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tweet_id) DO UPDATE SET
			author_id = EXCLUDED.author_id,
			author_username = EXCLUDED.author_username,
			tweet_text = EXCLUDED.tweet_text,
			created_at = EXCLUDED.created_at,
			l1_topic = EXCLUDED.l1_topic,
			l1_raw_response = EXCLUDED.l1_raw_response,
			l2_topics = EXCLUDED.l2_topics,
			l2_raw_response = EXCLUDED.l2_raw_response,
			extraction_model = EXCLUDED.extraction_model,
			classification_model = EXCLUDED.classification_model,
			screenshot_s3_path = EXCLUDED.screenshot_s3_path,
			classified_at = EXCLUDED.classified_at
	`, s.table)

	for _, r := range records {
		l2, err := json.Marshal(r.ClassificationResult.L2Topic)
		if err != nil {
			return fmt.Errorf("postgresstore: marshal l2_topics for %s: %w", r.TweetID, err)
		}
		_, err = tx.Exec(ctx, query,
			r.TweetID, r.AuthorID, r.AuthorUsername, r.TweetText, r.CreatedAt,
			r.ClassificationResult.L1Topics, r.ClassificationResult.L1Raw, l2, r.ClassificationResult.L2Raw,
			r.AIModelsUsed.Extraction, r.AIModelsUsed.Classification, r.ScreenshotS3Path, r.ClassifiedAt,
		)
		if err != nil {
			return fmt.Errorf("postgresstore: upsert %s: %w", r.TweetID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgresstore: commit tx: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

var _ Store = (*PostgresStore)(nil)

// Package store implements the Record Store (C9): the sink for
// ClassifiedRecords, keyed by tweet_id with idempotent upsert semantics,
// backed either by an in-memory map (default) or Postgres (hosted,
// gated on DATABASE_URL).
package store

import (
	"context"

	"visualtweets/internal/model"
)

// Store is the capability set the Classification Worker depends on.
type Store interface {
	PutBatch(ctx context.Context, records []model.ClassifiedRecord) error
}

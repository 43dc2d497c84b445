package store

import (
	"context"
	"sync"

	"visualtweets/internal/model"
)

// MemStore is the default Store: an in-process map keyed by TweetID, used
// whenever DATABASE_URL is unset. Later writes for the same tweet replace
// earlier ones, matching the upsert semantics of the hosted backend.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]model.ClassifiedRecord
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: map[string]model.ClassifiedRecord{}}
}

// PutBatch upserts each record by TweetID.
func (s *MemStore) PutBatch(ctx context.Context, records []model.ClassifiedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.TweetID] = r
	}
	return nil
}

// Get returns the stored record for tweetID, for tests and introspection.
func (s *MemStore) Get(tweetID string) (model.ClassifiedRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[tweetID]
	return r, ok
}

// Len reports the number of distinct tweets stored.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

var _ Store = (*MemStore)(nil)

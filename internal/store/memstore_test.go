package store

import (
	"context"
	"testing"
	"time"

	"visualtweets/internal/model"
)

func TestMemStorePutBatchAndGet(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	rec := model.ClassifiedRecord{
		TweetID:        "100",
		AuthorID:       "u1",
		AuthorUsername: "alice",
		TweetText:      "hello world",
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.PutBatch(ctx, []model.ClassifiedRecord{rec}); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}

	got, ok := s.Get("100")
	if !ok {
		t.Fatal("expected record 100 to be present")
	}
	if got != rec {
		t.Errorf("Get(100) = %+v, want %+v", got, rec)
	}
}

func TestMemStorePutBatchUpsertsLastWriteWins(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	first := model.ClassifiedRecord{TweetID: "100", TweetText: "first pass"}
	second := model.ClassifiedRecord{TweetID: "100", TweetText: "second pass"}

	if err := s.PutBatch(ctx, []model.ClassifiedRecord{first}); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if err := s.PutBatch(ctx, []model.ClassifiedRecord{second}); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (upsert, not append)", s.Len())
	}
	got, ok := s.Get("100")
	if !ok {
		t.Fatal("expected record 100 to be present")
	}
	if got.TweetText != "second pass" {
		t.Errorf("TweetText = %q, want %q (last write wins)", got.TweetText, "second pass")
	}
}

func TestMemStoreGetMissing(t *testing.T) {
	s := NewMemStore()
	if _, ok := s.Get("does-not-exist"); ok {
		t.Error("expected Get of an absent tweet id to report ok=false")
	}
}

func TestMemStorePutBatchMultipleRecords(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	batch := []model.ClassifiedRecord{
		{TweetID: "1"},
		{TweetID: "2"},
		{TweetID: "3"},
	}
	if err := s.PutBatch(ctx, batch); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

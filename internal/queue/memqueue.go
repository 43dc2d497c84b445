package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inFlightEntry struct {
	msg       Message
	visibleAt time.Time
}

// MemQueue is the default Queue: an in-process visibility-timeout queue
// with at-least-once redelivery, used whenever QUEUE_URL is unset.
type MemQueue struct {
	mu                sync.Mutex
	pending           []Message
	inFlight          map[string]inFlightEntry
	visibilityTimeout time.Duration
}

// NewMemQueue builds a MemQueue with the given redelivery visibility
// window.
func NewMemQueue(visibilityTimeout time.Duration) *MemQueue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 30 * time.Second
	}
	return &MemQueue{
		inFlight:          map[string]inFlightEntry{},
		visibilityTimeout: visibilityTimeout,
	}
}

// Send enqueues a new message referencing metadataPath.
func (q *MemQueue) Send(ctx context.Context, metadataPath string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, Message{
		ReceiptHandle:  uuid.NewString(),
		S3MetadataPath: metadataPath,
	})
	return nil
}

// FetchBatch returns up to max messages, moving them to the in-flight
// set under a visibility timeout. Messages whose visibility window has
// elapsed without an Ack are returned to pending first, implementing
// at-least-once redelivery.
func (q *MemQueue) FetchBatch(ctx context.Context, max int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.requeueExpiredLocked()

	if max <= 0 || len(q.pending) == 0 {
		return nil, nil
	}
	if max > len(q.pending) {
		max = len(q.pending)
	}

	batch := q.pending[:max]
	q.pending = q.pending[max:]

	now := time.Now()
	for _, m := range batch {
		q.inFlight[m.ReceiptHandle] = inFlightEntry{msg: m, visibleAt: now.Add(q.visibilityTimeout)}
	}

	out := make([]Message, len(batch))
	copy(out, batch)
	return out, nil
}

func (q *MemQueue) requeueExpiredLocked() {
	now := time.Now()
	for handle, entry := range q.inFlight {
		if now.After(entry.visibleAt) {
			q.pending = append(q.pending, entry.msg)
			delete(q.inFlight, handle)
		}
	}
}

// Ack removes msg from the in-flight set. Acking an unknown or already
// expired receipt handle is a no-op error, matching typical at-least-once
// queue semantics (the message may have already redelivered).
func (q *MemQueue) Ack(ctx context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inFlight[msg.ReceiptHandle]; !ok {
		return fmt.Errorf("memqueue: unknown or expired receipt handle %s", msg.ReceiptHandle)
	}
	delete(q.inFlight, msg.ReceiptHandle)
	return nil
}

var _ Queue = (*MemQueue)(nil)

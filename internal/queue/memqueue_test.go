package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemQueueSendFetchAck(t *testing.T) {
	q := NewMemQueue(50 * time.Millisecond)
	ctx := context.Background()

	if err := q.Send(ctx, "path/one.json"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs, err := q.FetchBatch(ctx, 10)
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(msgs) != 1 || msgs[0].S3MetadataPath != "path/one.json" {
		t.Fatalf("unexpected batch: %+v", msgs)
	}

	// Nothing else pending until this one is acked or expires.
	empty, err := q.FetchBatch(ctx, 10)
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no further messages while in-flight, got %+v", empty)
	}

	if err := q.Ack(ctx, msgs[0]); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

// TestMemQueueRedeliversAfterVisibilityTimeout covers the at-least-once
// testable property: an unacked message becomes fetchable again once its
// visibility window elapses.
func TestMemQueueRedeliversAfterVisibilityTimeout(t *testing.T) {
	q := NewMemQueue(10 * time.Millisecond)
	ctx := context.Background()

	if err := q.Send(ctx, "path/one.json"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	first, err := q.FetchBatch(ctx, 10)
	if err != nil || len(first) != 1 {
		t.Fatalf("FetchBatch: %v, %+v", err, first)
	}

	time.Sleep(30 * time.Millisecond)

	redelivered, err := q.FetchBatch(ctx, 10)
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(redelivered) != 1 || redelivered[0].S3MetadataPath != "path/one.json" {
		t.Fatalf("expected message to redeliver after visibility timeout, got %+v", redelivered)
	}
	// requeueExpiredLocked carries the same receipt handle back to pending.
	if redelivered[0].ReceiptHandle != first[0].ReceiptHandle {
		t.Error("expected the receipt handle to survive redelivery")
	}
}

func TestMemQueueAckUnknownHandleErrors(t *testing.T) {
	q := NewMemQueue(time.Second)
	err := q.Ack(context.Background(), Message{ReceiptHandle: "does-not-exist"})
	if err == nil {
		t.Error("expected error acking an unknown receipt handle")
	}
}

func TestMemQueueFetchBatchRespectsMax(t *testing.T) {
	q := NewMemQueue(time.Second)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := q.Send(ctx, "path.json"); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	msgs, err := q.FetchBatch(ctx, 3)
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
}

func TestEncodeDecodePayloadRoundTrip(t *testing.T) {
	data, err := EncodePayload("visual_captures/2026-01-01/alice/metadata.json")
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	path, err := DecodePayload(data)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if path != "visual_captures/2026-01-01/alice/metadata.json" {
		t.Errorf("DecodePayload() = %q", path)
	}
}

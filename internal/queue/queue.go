// Package queue implements the Classification Queue (C6): the capability
// set Send/FetchBatch/Ack, backed either by an in-process queue (default)
// or a NATS JetStream durable pull consumer (hosted, gated on QUEUE_URL).
package queue

import (
	"context"
	"encoding/json"
)

// Message is one queued unit of work: a pointer to a capture's Metadata
// Record in blob storage. The payload is decoded tolerantly — unknown
// fields are ignored — so the wire shape can grow without breaking
// existing consumers.
type Message struct {
	ReceiptHandle  string
	S3MetadataPath string
}

type messagePayload struct {
	S3MetadataPath string `json:"s3_metadata_path"`
}

// EncodePayload serializes a metadata path into a message body.
func EncodePayload(metadataPath string) ([]byte, error) {
	return json.Marshal(messagePayload{S3MetadataPath: metadataPath})
}

// DecodePayload tolerantly parses a message body back into a metadata path.
func DecodePayload(data []byte) (string, error) {
	var p messagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", err
	}
	return p.S3MetadataPath, nil
}

// Queue is the capability set the Capture Orchestrator (producer) and
// Classification Worker (consumer) depend on.
type Queue interface {
	Send(ctx context.Context, metadataPath string) error
	FetchBatch(ctx context.Context, max int) ([]Message, error)
	Ack(ctx context.Context, msg Message) error
}

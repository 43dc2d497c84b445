// Package blobstore implements the Blob Sink (C3): a deterministic,
// idempotent-by-key object store for screenshots and metadata documents,
// backed either by the local filesystem (default) or S3 (hosted, gated
// on S3_BUCKET being set).
package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// BlobStore is the capability set every downstream component depends on.
// Keys are always forward-slash paths relative to the store root; both
// implementations overwrite existing objects at the same key, making
// writes idempotent.
type BlobStore interface {
	PutImage(ctx context.Context, key string, data []byte) (string, error)
	PutJSON(ctx context.Context, key string, v interface{}) (string, error)
	GetJSON(ctx context.Context, key string, v interface{}) error
	Root() string
}

// Key builds the deterministic object-key layout spec.md §3 describes:
//
//	visual_captures/<date>/<handle>/convo_<primary_id>/tweet_<post_id>/<file>
//	visual_captures/<date>/<handle>/tweet_<post_id>/<file>
//	visual_captures/<date>/<handle>/retweet_<post_id>/<file>
//	visual_captures/<date>/<handle>/capture_summary.json
func Key(date, handle, contentType, primaryID, postID, file string) string {
	switch contentType {
	case "convo":
		if postID == "" {
			return fmt.Sprintf("visual_captures/%s/%s/convo_%s/%s", date, handle, primaryID, file)
		}
		return fmt.Sprintf("visual_captures/%s/%s/convo_%s/tweet_%s/%s", date, handle, primaryID, postID, file)
	case "retweet":
		return fmt.Sprintf("visual_captures/%s/%s/retweet_%s/%s", date, handle, postID, file)
	default:
		return fmt.Sprintf("visual_captures/%s/%s/tweet_%s/%s", date, handle, postID, file)
	}
}

// SummaryKey is the path of an account's run-level capture summary.
func SummaryKey(date, handle string) string {
	return fmt.Sprintf("visual_captures/%s/%s/capture_summary.json", date, handle)
}

func marshalIndent(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store is the hosted BlobStore, used once S3_BUCKET is set. It carries
// the bucket name as the object-key prefix root, matching the original
// system's single-bucket, key-prefixed layout.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3Store from the default AWS credential chain
// (environment, shared config, IMDS), matching the config.LoadDefaultConfig
// idiom used across the aws-sdk-go-v2 ecosystem.
func NewS3Store(ctx context.Context, bucket string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}
	return &S3Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

func (s *S3Store) Root() string { return fmt.Sprintf("s3://%s", s.bucket) }

// PutImage uploads data to key under the bucket root.
func (s *S3Store) PutImage(ctx context.Context, key string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeFor(key)),
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: put object %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// PutJSON marshals v and uploads it to key.
func (s *S3Store) PutJSON(ctx context.Context, key string, v interface{}) (string, error) {
	data, err := marshalIndent(v)
	if err != nil {
		return "", fmt.Errorf("blobstore: marshal %s: %w", key, err)
	}
	return s.PutImage(ctx, key, data)
}

// GetJSON downloads key and unmarshals it into v.
func (s *S3Store) GetJSON(ctx context.Context, key string, v interface{}) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("blobstore: get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("blobstore: read object %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("blobstore: unmarshal %s: %w", key, err)
	}
	return nil
}

func contentTypeFor(key string) string {
	if len(key) > 5 && key[len(key)-5:] == ".json" {
		return "application/json"
	}
	if len(key) > 4 && key[len(key)-4:] == ".png" {
		return "image/png"
	}
	return "application/octet-stream"
}

var _ BlobStore = (*S3Store)(nil)

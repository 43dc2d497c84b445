package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FSStore is the default BlobStore: a plain directory tree rooted at
// base, used whenever S3_BUCKET is unset.
type FSStore struct {
	base string
}

// NewFSStore returns a FSStore rooted at base, creating it if absent.
func NewFSStore(base string) (*FSStore, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create base dir %s: %w", base, err)
	}
	return &FSStore{base: base}, nil
}

func (s *FSStore) Root() string { return s.base }

func (s *FSStore) path(key string) string {
	return filepath.Join(s.base, filepath.FromSlash(key))
}

// PutImage writes data to base/key, creating parent directories as needed.
func (s *FSStore) PutImage(ctx context.Context, key string, data []byte) (string, error) {
	full := s.path(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("blobstore: mkdir for %s: %w", key, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("blobstore: write %s: %w", key, err)
	}
	return full, nil
}

// PutJSON marshals v and writes it to base/key.
func (s *FSStore) PutJSON(ctx context.Context, key string, v interface{}) (string, error) {
	data, err := marshalIndent(v)
	if err != nil {
		return "", fmt.Errorf("blobstore: marshal %s: %w", key, err)
	}
	return s.PutImage(ctx, key, data)
}

// GetJSON reads base/key and unmarshals it into v.
func (s *FSStore) GetJSON(ctx context.Context, key string, v interface{}) error {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return fmt.Errorf("blobstore: read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("blobstore: unmarshal %s: %w", key, err)
	}
	return nil
}

var _ BlobStore = (*FSStore)(nil)

// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// ChunkSize is the resumable upload buffer. Zero keeps the client default;
	// a negative value sends each object in a single request.
	ChunkSize int
}

// BlobStore reads and writes record sets in one bucket.
type BlobStore struct {
	bucket    *storage.BucketHandle
	name      string
	chunkSize int
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		bucket:    client.Bucket(cfg.Bucket),
		name:      cfg.Bucket,
		chunkSize: cfg.ChunkSize,
	}, nil
}

func (s *BlobStore) uri(path string) string {
	return fmt.Sprintf("gs://%s/%s", s.name, path)
}

// PutObject uploads data and returns its gs:// URI. The object only becomes
// visible once the writer closes successfully.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.bucket.Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	switch {
	case s.chunkSize < 0:
		writer.ChunkSize = 0
	case s.chunkSize > 0:
		writer.ChunkSize = s.chunkSize
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("upload %s: %w (close writer: %v)", s.uri(path), err, closeErr)
		}
		return "", fmt.Errorf("upload %s: %w", s.uri(path), err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", s.uri(path), err)
	}
	return s.uri(path), nil
}

// GetObject opens a reader over the object stored at path. Missing objects
// report fs.ErrNotExist like the other stores.
func (s *BlobStore) GetObject(ctx context.Context, path string) (io.ReadCloser, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("path is required")
	}
	reader, err := s.bucket.Object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("open %s: %w", s.uri(path), fs.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.uri(path), err)
	}
	return reader, nil
}

package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

// uploads larger than a spreadsheet export should never take this long
const uploadTimeout = 2 * time.Minute

// GCSBlobStore is the BlobStore backed by Google Cloud Storage.
// It assumes Application Default Credentials are configured.
type GCSBlobStore struct {
	client *storage.Client
	bucket string
}

// NewGCSBlobStore creates a store writing to bucket.
func NewGCSBlobStore(ctx context.Context, bucket string) (*GCSBlobStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSBlobStore: create storage client: %w", err)
	}
	return &GCSBlobStore{client: client, bucket: bucket}, nil
}

// Bucket returns the bucket Put writes to.
func (s *GCSBlobStore) Bucket() string {
	return s.bucket
}

// Put uploads data to the configured bucket.
func (s *GCSBlobStore) Put(ctx context.Context, object string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Put: write %s: %w", object, err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Put: finalize upload %s: %w", object, err)
	}

	return URI(s.bucket, object), nil
}

// Get downloads an object.
func (s *GCSBlobStore) Get(ctx context.Context, bucket, object string) ([]byte, error) {
	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Get: open object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Get: read object %s/%s: %w", bucket, object, err)
	}
	return data, nil
}

// Close releases the storage client.
func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}

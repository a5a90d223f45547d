//go:build gcp

package wal

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/Mindburn-Labs/gatehouse/pkg/canonical"
)

// GCSArchive stores WAL segments in a Google Cloud Storage bucket.
type GCSArchive struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSArchiveConfig holds configuration for GCSArchive.
type GCSArchiveConfig struct {
	Bucket string
	Prefix string // Optional key prefix
}

// NewGCSArchive creates a GCS-backed segment archive. Credentials come
// from Application Default Credentials.
func NewGCSArchive(ctx context.Context, cfg GCSArchiveConfig) (*GCSArchive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("wal: create GCS client: %w", err)
	}
	return &GCSArchive{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Store uploads a segment and returns its content hash. Uploads are
// idempotent: an existing object with the same hash is left in place.
func (g *GCSArchive) Store(ctx context.Context, data []byte) (string, error) {
	hashStr := canonical.HashBytes(data)
	prefixedHash := "sha256:" + hashStr
	objectPath := g.prefix + hashStr + ".wal.jsonl"

	obj := g.client.Bucket(g.bucket).Object(objectPath)
	if _, err := obj.Attrs(ctx); err == nil {
		return prefixedHash, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/jsonl"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("wal: gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("wal: gcs close failed: %w", err)
	}
	return prefixedHash, nil
}

// Get retrieves a segment by its content hash.
func (g *GCSArchive) Get(ctx context.Context, hash string) ([]byte, error) {
	rawHash, err := stripHashPrefix(hash)
	if err != nil {
		return nil, err
	}
	objectPath := g.prefix + rawHash + ".wal.jsonl"

	reader, err := g.client.Bucket(g.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("wal: segment %s not found: %w", hash, err)
		}
		return nil, fmt.Errorf("wal: gcs get failed for %s: %w", hash, err)
	}
	defer func() { _ = reader.Close() }()

	return io.ReadAll(reader)
}

// Close closes the GCS client.
func (g *GCSArchive) Close() error {
	return g.client.Close()
}

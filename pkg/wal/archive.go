package wal

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Mindburn-Labs/gatehouse/pkg/canonical"
)

// Archive is cold storage for exported WAL segments. Segments are
// content-addressed by their SHA-256 hash.
type Archive interface {
	Store(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
}

// ArchiveSegment exports the full log as JSONL and stores it in the
// archive. It returns the segment's content hash and entry count.
func ArchiveSegment(ctx context.Context, b Backend, a Archive) (string, int, error) {
	var buf bytes.Buffer
	count, err := ExportJSONL(ctx, b, &buf)
	if err != nil {
		return "", 0, err
	}
	hash, err := a.Store(ctx, buf.Bytes())
	if err != nil {
		return "", 0, kernelWriteErr("archive segment", err)
	}
	return hash, count, nil
}

// S3Archive stores WAL segments in an S3 bucket.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3ArchiveConfig holds configuration for S3Archive.
type S3ArchiveConfig struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (MinIO, LocalStack)
	Prefix   string // Optional key prefix
}

// NewS3Archive creates an S3-backed segment archive.
func NewS3Archive(ctx context.Context, cfg S3ArchiveConfig) (*S3Archive, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("wal: load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}

	return &S3Archive{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Store uploads a segment and returns its content hash. Uploads are
// idempotent: an existing object with the same hash is left in place.
func (s *S3Archive) Store(ctx context.Context, data []byte) (string, error) {
	hashStr := canonical.HashBytes(data)
	prefixedHash := "sha256:" + hashStr
	key := s.prefix + hashStr + ".wal.jsonl"

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return prefixedHash, nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/jsonl"),
	})
	if err != nil {
		return "", fmt.Errorf("wal: s3 put failed: %w", err)
	}
	return prefixedHash, nil
}

// Get retrieves a segment by its content hash.
func (s *S3Archive) Get(ctx context.Context, hash string) ([]byte, error) {
	rawHash, err := stripHashPrefix(hash)
	if err != nil {
		return nil, err
	}
	key := s.prefix + rawHash + ".wal.jsonl"

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("wal: s3 get failed for %s: %w", hash, err)
	}
	defer func() { _ = result.Body.Close() }()

	return io.ReadAll(result.Body)
}

func stripHashPrefix(hash string) (string, error) {
	if len(hash) < 7 || hash[:7] != "sha256:" {
		return "", fmt.Errorf("wal: invalid segment hash format: %s", hash)
	}
	return hash[7:], nil
}

package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"pictor/internal/pictor"
)

// S3Store stores blobs in an S3 (or S3-compatible) bucket. Keys map to
// object keys with an optional prefix. Concurrent writes to the same key
// are harmless since the content behind a key never changes.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3StoreConfig contains configuration for the S3 blob store.
type S3StoreConfig struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the S3 bucket name. It must already exist.
	Bucket string

	// Prefix is an optional prefix for all object keys
	Prefix string
}

// NewS3Store creates a new S3-backed blob store and verifies bucket access.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3Store{
		client: cfg.Client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Store) objectKey(key string) string {
	return s.prefix + key
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to write blob to S3: %w", err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, pictor.E(pictor.CodeNotFound, "blob not found", key)
		}
		return nil, fmt.Errorf("failed to get blob from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob body: %w", err)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob from S3: %w", err)
	}
	return nil
}

func (s *S3Store) DeleteBatch(ctx context.Context, keys []string) error {
	// S3 allows max 1000 objects per delete request
	const maxBatchSize = 1000

	var firstErr error
	for i := 0; i < len(keys); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[i:end]

		objects := make([]types.ObjectIdentifier, len(batch))
		for j, key := range batch {
			objects[j] = types.ObjectIdentifier{
				Key: aws.String(s.objectKey(key)),
			}
		}

		result, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to delete blob batch: %w", err)
			}
			continue
		}
		if firstErr == nil && len(result.Errors) > 0 {
			e := result.Errors[0]
			msg := "unknown error"
			if e.Code != nil && e.Message != nil {
				msg = fmt.Sprintf("%s: %s", *e.Code, *e.Message)
			}
			firstErr = fmt.Errorf("failed to delete %d blobs, first: %s", len(result.Errors), msg)
		}
	}
	return firstErr
}

// Compile-time check that S3Store implements the Store interface
var _ Store = (*S3Store)(nil)

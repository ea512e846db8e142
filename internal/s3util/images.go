// Package s3util stores uploaded images in S3 and hands out short-lived
// download links for them.
package s3util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/nurbua/Image-Insight/internal/store"
)

// DefaultPresignExpiry is the lifetime of links returned by PresignGetURL.
const DefaultPresignExpiry = 15 * time.Minute

// ErrTooLarge is returned by GetImage when the object exceeds the read limit.
var ErrTooLarge = errors.New("object exceeds read limit")

// S3API is the subset of *s3.Client used here.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ImageStore keeps analysed images in one bucket.
type ImageStore struct {
	client    S3API
	presigner *s3.PresignClient
	bucket    string
}

// Compile-time interface check.
var _ store.ImageStore = (*ImageStore)(nil)

// NewImageStore returns a store on bucket. presigner may be nil, in which
// case PresignGetURL fails.
func NewImageStore(client S3API, presigner *s3.PresignClient, bucket string) *ImageStore {
	return &ImageStore{client: client, presigner: presigner, bucket: bucket}
}

// Bucket returns the bucket name.
func (s *ImageStore) Bucket() string {
	return s.bucket
}

// PutImage uploads data under key with the given content type.
func (s *ImageStore) PutImage(ctx context.Context, key string, data []byte, mimeType string) error {
	log.Debug().
		Str("bucket", s.bucket).
		Str("key", key).
		Int("size", len(data)).
		Msg("Uploading image to S3")

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(int64(len(data))),
		Tagging:       objectTagging("analysis-image"),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}

	log.Info().Str("key", key).Msg("Image uploaded to S3")
	return nil
}

// GetImage downloads key, refusing objects larger than maxBytes
// (maxBytes <= 0: no limit). It returns the body and its content type.
func (s *ImageStore) GetImage(ctx context.Context, key string, maxBytes int64) ([]byte, string, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	var body io.Reader = result.Body
	if maxBytes > 0 {
		body = io.LimitReader(result.Body, maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", key, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("%s: %w", key, ErrTooLarge)
	}
	return data, aws.ToString(result.ContentType), nil
}

// PresignGetURL creates a pre-signed GET URL for key. expiry <= 0 uses
// DefaultPresignExpiry.
func (s *ImageStore) PresignGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.presigner == nil {
		return "", fmt.Errorf("presign %s: no presigner configured", key)
	}
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}
	result, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gos3 "devup/pkg/s3"
	"devup/services/uploader"
	"devup/services/uploader/config"
)

// objectStore is the part of *gos3.Client the blob store needs.
type objectStore interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType, sha256 string) error
	PublicURL(bucket, key string) string
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

var _ objectStore = (*gos3.Client)(nil)

// Blobs stores media in an S3-compatible bucket. URLs are either public object
// URLs or presigned GET URLs, depending on the configured mode.
type Blobs struct {
	s3         objectStore
	mode       string
	presignTTL time.Duration
}

var _ uploader.BlobStore = (*Blobs)(nil)

func NewBlobs(client *gos3.Client, mode string, presignTTL time.Duration) (*Blobs, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	return newBlobs(client, mode, presignTTL)
}

func newBlobs(store objectStore, mode string, presignTTL time.Duration) (*Blobs, error) {
	switch mode {
	case "", config.URLModePublic:
		mode = config.URLModePublic
	case config.URLModePresign:
		if presignTTL <= 0 {
			return nil, errors.New("presign ttl must be positive")
		}
	default:
		return nil, fmt.Errorf("unknown url mode %q", mode)
	}
	return &Blobs{s3: store, mode: mode, presignTTL: presignTTL}, nil
}

func (b *Blobs) Upload(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType, sha256 string) error {
	if err := b.s3.PutObject(ctx, bucket, key, body, size, contentType, sha256); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (b *Blobs) PublicURL(ctx context.Context, bucket, key string) (string, error) {
	if b.mode == config.URLModePresign {
		return b.s3.PresignGet(ctx, bucket, key, b.presignTTL)
	}
	return b.s3.PublicURL(bucket, key), nil
}

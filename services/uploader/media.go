package uploader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"devup/pkg/metrics"
	"devup/pkg/retry"
)

// MediaAsset is a media file ready for upload.
type MediaAsset struct {
	Filename    string
	Path        string
	StorageKey  string
	ContentType string
	SizeBytes   int64
}

// MediaUploadResult is the outcome of one media upload. Exactly one of PublicURL
// and Reason is set.
type MediaUploadResult struct {
	Asset     MediaAsset
	PublicURL string
	SHA256    string
	Attempts  int
	Reason    string
}

func (r MediaUploadResult) OK() bool { return r.Reason == "" && r.PublicURL != "" }

// StorageKey is the object key for a folder's file: {folder}/{filename}.
func StorageKey(folderName, filename string) string {
	return folderName + "/" + filename
}

// MediaUploader uploads a folder's media files one at a time.
type MediaUploader struct {
	blobs    BlobStore
	bucket   string
	maxBytes int64
	policy   retry.Policy
	logger   *zap.Logger
	metrics  *metrics.Recorder
}

func NewMediaUploader(blobs BlobStore, bucket string, maxBytes int64, policy retry.Policy, logger *zap.Logger, rec *metrics.Recorder) (*MediaUploader, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if maxBytes <= 0 {
		return nil, errors.New("max bytes must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaUploader{
		blobs:    blobs,
		bucket:   bucket,
		maxBytes: maxBytes,
		policy:   policy,
		logger:   logger,
		metrics:  rec,
	}, nil
}

// UploadAll uploads every file in order. A failed file never stops the others.
func (u *MediaUploader) UploadAll(ctx context.Context, folderName, dir string, files []string) []MediaUploadResult {
	results := make([]MediaUploadResult, 0, len(files))
	for _, name := range files {
		res := u.Upload(ctx, folderName, filepath.Join(dir, name))
		u.metrics.MediaDone(res.OK())
		results = append(results, res)
	}
	return results
}

// Upload validates path, uploads it with retries and resolves its URL.
// Validation failures are permanent and not retried.
func (u *MediaUploader) Upload(ctx context.Context, folderName, path string) MediaUploadResult {
	name := filepath.Base(path)
	asset := MediaAsset{
		Filename:    name,
		Path:        path,
		StorageKey:  StorageKey(folderName, name),
		ContentType: ContentType(name),
	}
	log := u.logger.With(zap.String("folder", folderName), zap.String("file", name))
	res := MediaUploadResult{Asset: asset}

	fail := func(reason string) MediaUploadResult {
		res.Reason = reason
		log.Warn("media upload failed", zap.String("reason", reason), zap.Int("attempts", res.Attempts))
		return res
	}

	info, err := os.Stat(path)
	if err != nil {
		return fail(fmt.Sprintf("file not found: %v", err))
	}
	if !info.Mode().IsRegular() {
		return fail("not a regular file")
	}
	if info.Size() == 0 {
		return fail("file is empty")
	}
	if info.Size() > u.maxBytes {
		return fail(fmt.Sprintf("file size %d bytes exceeds limit of %d bytes", info.Size(), u.maxBytes))
	}
	res.Asset.SizeBytes = info.Size()

	digest, err := fileSHA256(path)
	if err != nil {
		return fail(fmt.Sprintf("read file: %v", err))
	}
	res.SHA256 = digest

	policy := u.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		u.metrics.Retry("upload")
		log.Warn("media upload attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
	}

	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		res.Attempts++
		f, err := os.Open(path)
		if err != nil {
			return retry.Permanent(fmt.Errorf("open file: %w", err))
		}
		defer f.Close()
		return u.blobs.Upload(ctx, u.bucket, asset.StorageKey, f, res.Asset.SizeBytes, asset.ContentType, digest)
	})
	if err != nil {
		return fail(fmt.Sprintf("upload failed after %d attempt(s): %v", res.Attempts, err))
	}

	url, err := u.blobs.PublicURL(ctx, u.bucket, asset.StorageKey)
	if err != nil {
		return fail(fmt.Sprintf("resolve public url: %v", err))
	}
	if url == "" {
		return fail("resolve public url: empty url")
	}
	res.PublicURL = url

	log.Info("uploaded media", zap.String("key", asset.StorageKey), zap.String("url", url), zap.Int64("size_bytes", res.Asset.SizeBytes))
	return res
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

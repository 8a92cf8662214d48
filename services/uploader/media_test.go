package uploader

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"devup/pkg/metrics"
	"devup/pkg/retry"
)

func newTestMediaUploader(t *testing.T, blobs BlobStore, maxBytes int64) *MediaUploader {
	t.Helper()
	u, err := NewMediaUploader(blobs, "devicetest", maxBytes,
		retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		zaptest.NewLogger(t), metrics.New())
	require.NoError(t, err)
	return u
}

func TestMediaUpload(t *testing.T) {
	dir := makeFolder(t, t.TempDir(), "run-01", map[string]string{"front.jpg": "abc"})
	blobs := newFakeBlobs()

	res := newTestMediaUploader(t, blobs, 1024).Upload(context.Background(), "run-01", filepath.Join(dir, "front.jpg"))

	require.True(t, res.OK(), res.Reason)
	assert.Equal(t, "run-01/front.jpg", res.Asset.StorageKey)
	assert.Equal(t, "image/jpeg", res.Asset.ContentType)
	assert.EqualValues(t, 3, res.Asset.SizeBytes)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", res.SHA256)
	assert.Equal(t, "https://cdn.test/devicetest/run-01/front.jpg", res.PublicURL)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []byte("abc"), blobs.objects["devicetest/run-01/front.jpg"])
	assert.Equal(t, res.SHA256, blobs.checksums["run-01/front.jpg"])
}

func TestMediaUploadRetriesTransientErrors(t *testing.T) {
	dir := makeFolder(t, t.TempDir(), "run-01", map[string]string{"side.png": "png"})
	blobs := newFakeBlobs()
	blobs.failures["run-01/side.png"] = 2

	res := newTestMediaUploader(t, blobs, 1024).Upload(context.Background(), "run-01", filepath.Join(dir, "side.png"))

	require.True(t, res.OK(), res.Reason)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, blobs.uploadCalls)
	assert.Equal(t, []byte("png"), blobs.objects["devicetest/run-01/side.png"], "each attempt re-reads the file")
}

func TestMediaUploadGivesUp(t *testing.T) {
	dir := makeFolder(t, t.TempDir(), "run-01", map[string]string{"side.png": "png"})
	blobs := newFakeBlobs()
	blobs.failures["run-01/side.png"] = 10

	res := newTestMediaUploader(t, blobs, 1024).Upload(context.Background(), "run-01", filepath.Join(dir, "side.png"))

	assert.False(t, res.OK())
	assert.Contains(t, res.Reason, "after 3 attempt(s)")
	assert.Equal(t, 3, blobs.uploadCalls)
	assert.Empty(t, res.PublicURL)
}

func TestMediaUploadValidationIsNotRetried(t *testing.T) {
	dir := makeFolder(t, t.TempDir(), "run-01", map[string]string{
		"huge.jpg":  "0123456789",
		"empty.jpg": "",
	})

	tests := []struct {
		file   string
		reason string
	}{
		{file: "huge.jpg", reason: "file size 10 bytes exceeds limit of 4 bytes"},
		{file: "empty.jpg", reason: "file is empty"},
		{file: "missing.jpg", reason: "file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			blobs := newFakeBlobs()
			res := newTestMediaUploader(t, blobs, 4).Upload(context.Background(), "run-01", filepath.Join(dir, tt.file))

			assert.False(t, res.OK())
			assert.Contains(t, res.Reason, tt.reason)
			assert.Zero(t, res.Attempts)
			assert.Zero(t, blobs.uploadCalls)
		})
	}
}

func TestMediaUploadEmptyURLFails(t *testing.T) {
	dir := makeFolder(t, t.TempDir(), "run-01", map[string]string{"front.jpg": "abc"})
	blobs := newFakeBlobs()
	blobs.emptyURL = true

	res := newTestMediaUploader(t, blobs, 1024).Upload(context.Background(), "run-01", filepath.Join(dir, "front.jpg"))

	assert.False(t, res.OK())
	assert.Contains(t, res.Reason, "empty url")
	assert.Equal(t, 1, blobs.uploadCalls)
}

func TestMediaUploadAllContinuesAfterFailure(t *testing.T) {
	dir := makeFolder(t, t.TempDir(), "run-01", map[string]string{
		"a.jpg": "",
		"b.jpg": "bbb",
	})

	results := newTestMediaUploader(t, newFakeBlobs(), 1024).UploadAll(context.Background(), "run-01", dir, []string{"a.jpg", "b.jpg"})

	require.Len(t, results, 2)
	assert.False(t, results[0].OK())
	assert.True(t, results[1].OK())
}

func TestNewMediaUploaderValidation(t *testing.T) {
	p := retry.Policy{}
	_, err := NewMediaUploader(nil, "b", 1, p, nil, nil)
	assert.Error(t, err)
	_, err = NewMediaUploader(newFakeBlobs(), "", 1, p, nil, nil)
	assert.Error(t, err)
	_, err = NewMediaUploader(newFakeBlobs(), "b", 0, p, nil, nil)
	assert.Error(t, err)
}

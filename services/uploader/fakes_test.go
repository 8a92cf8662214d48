package uploader

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"devup/services/uploader/config"
)

type fakeTables struct {
	insertErrs  []error
	insertRows  *int
	panicInsert bool
	insertCalls int
	rows        map[string][]ManifestRecord

	updateErr   error
	updateCalls int
	images      map[string][]string
}

func newFakeTables() *fakeTables {
	return &fakeTables{
		rows:   map[string][]ManifestRecord{},
		images: map[string][]string{},
	}
}

func (f *fakeTables) Insert(_ context.Context, _ string, records []ManifestRecord) (int, error) {
	f.insertCalls++
	if f.panicInsert {
		panic("driver exploded")
	}
	if len(f.insertErrs) > 0 {
		err := f.insertErrs[0]
		f.insertErrs = f.insertErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	if f.insertRows != nil {
		return *f.insertRows, nil
	}
	for _, rec := range records {
		f.rows[rec.FolderName] = append(f.rows[rec.FolderName], rec)
	}
	return len(records), nil
}

func (f *fakeTables) UpdateImages(_ context.Context, _, folderName string, urls []string) (int, error) {
	f.updateCalls++
	if f.updateErr != nil {
		return 0, f.updateErr
	}
	f.images[folderName] = urls
	return len(f.rows[folderName]), nil
}

type fakeBlobs struct {
	// failures is the number of upload errors still to return per key.
	failures    map[string]int
	emptyURL    bool
	uploadCalls int
	objects     map[string][]byte
	checksums   map[string]string
	types       map[string]string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		failures:  map[string]int{},
		objects:   map[string][]byte{},
		checksums: map[string]string{},
		types:     map[string]string{},
	}
}

func (f *fakeBlobs) Upload(_ context.Context, bucket, key string, body io.Reader, _ int64, contentType, sha256 string) error {
	f.uploadCalls++
	if f.failures[key] > 0 {
		f.failures[key]--
		return io.ErrUnexpectedEOF
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[bucket+"/"+key] = data
	f.checksums[key] = sha256
	f.types[key] = contentType
	return nil
}

func (f *fakeBlobs) PublicURL(_ context.Context, bucket, key string) (string, error) {
	if f.emptyURL {
		return "", nil
	}
	return "https://cdn.test/" + bucket + "/" + key, nil
}

type publishedEvent struct {
	subject string
	payload map[string]any
}

type fakeNotifier struct {
	events []publishedEvent
}

func (f *fakeNotifier) Publish(_ context.Context, subject string, v any) error {
	payload, _ := v.(map[string]any)
	f.events = append(f.events, publishedEvent{subject: subject, payload: payload})
	return nil
}

var fixedNow = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

func testConfig(root string) config.Config {
	cfg := config.Default()
	cfg.RootDir = root
	cfg.Retry.BaseDelay = time.Millisecond
	return cfg
}

// makeFolder creates root/name holding files and returns its path.
func makeFolder(t *testing.T, root, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for file, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644))
	}
	return dir
}

func intPtr(n int) *int { return &n }

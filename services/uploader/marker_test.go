package uploader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMarkerFormat(t *testing.T) {
	dir := t.TempDir()
	errMsg := "no JSON files found in folder"
	doc := MarkerDocument{
		Timestamp:  "2026-10-19T09:30:00Z",
		FolderName: "prüfung <A&B>",
		JSONUpload: JSONUploadReport{Error: &errMsg},
		ImageUpload: ImageUploadReport{
			UploadedImages: []UploadedImage{},
			FailedImages:   []FailedImage{},
		},
	}

	path, err := WriteMarker(dir, doc, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FailureMarker), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `"folder_name": "prüfung <A&B>"`)
	assert.True(t, strings.HasPrefix(text, "{\n  \"timestamp\""))
	assert.Contains(t, text, "\n  \"json_upload\": {\n    \"success\": false,")
	assert.Contains(t, text, `"filename": null`)
	assert.Contains(t, text, `"data_preview": null`)
	assert.Contains(t, text, `"uploaded_images": []`)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteMarkerRemovesOpposite(t *testing.T) {
	dir := t.TempDir()
	_, err := WriteMarker(dir, MarkerDocument{FolderName: "a"}, false)
	require.NoError(t, err)

	_, err = WriteMarker(dir, MarkerDocument{FolderName: "a"}, true)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, SuccessMarker))
	assert.NoFileExists(t, filepath.Join(dir, FailureMarker))

	doc, err := ReadMarker(filepath.Join(dir, SuccessMarker))
	require.NoError(t, err)
	assert.Equal(t, "a", doc.FolderName)
}

func TestReadMarkerCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), FailureMarker)
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := ReadMarker(path)
	assert.ErrorContains(t, err, "decode marker")
}

func TestDataPreview(t *testing.T) {
	assert.Nil(t, dataPreview(nil))

	short := json.RawMessage(`{"device_id":"A"}`)
	assert.Equal(t, short, dataPreview(short))

	long := json.RawMessage(`{"notes":"` + strings.Repeat("é", 250) + `"}`)
	got, ok := dataPreview(long).(string)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, previewLimit+3, len([]rune(got)))
	assert.True(t, strings.HasPrefix(got, `{"notes":"éé`))
}

func TestDocumentEmbedsShortPreview(t *testing.T) {
	out := FolderOutcome{
		Manifest: ManifestOutcome{
			Status:     ManifestInserted,
			Candidates: 1,
			Filename:   "data.json",
			Source:     json.RawMessage(`{"device_id":"A"}`),
		},
	}
	data, err := json.Marshal(out.Document("device_test", "devicetest"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"data_preview":{"device_id":"A"}`)
	assert.Contains(t, string(data), `"overall_success":true`)
}

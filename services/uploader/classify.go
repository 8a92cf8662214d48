package uploader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const (
	SuccessMarker = "upload_success.json"
	FailureMarker = "upload_failed.json"
)

var imageContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
	".webp": "image/webp",
}

// IsMediaFile reports whether name has one of the accepted image extensions.
func IsMediaFile(name string) bool {
	_, ok := imageContentTypes[strings.ToLower(filepath.Ext(name))]
	return ok
}

// ContentType returns the MIME type for an image filename, or
// application/octet-stream when the extension is not an accepted image type.
func ContentType(name string) string {
	if ct, ok := imageContentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func isMarker(name string) bool {
	return name == SuccessMarker || name == FailureMarker
}

// Artifacts is a folder's files split by role. Both lists hold file names, sorted.
type Artifacts struct {
	Manifests []string
	Media     []string
}

// Classifier splits a folder's files into manifest and media candidates.
type Classifier struct {
	logger *zap.Logger
}

func NewClassifier(logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{logger: logger}
}

// Classify lists dir. Manifests are the *.json files other than the two markers.
// Media files must exist, be readable and be non-empty; others are skipped.
func (c *Classifier) Classify(dir string) (Artifacts, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Artifacts{}, fmt.Errorf("list folder %s: %w", dir, err)
	}

	var out Artifacts
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}

		switch {
		case strings.EqualFold(filepath.Ext(name), ".json"):
			if isMarker(name) {
				continue
			}
			out.Manifests = append(out.Manifests, name)

		case IsMediaFile(name):
			if reason := checkMediaFile(filepath.Join(dir, name)); reason != "" {
				c.logger.Warn("skipping media file",
					zap.String("file", name),
					zap.String("reason", reason))
				continue
			}
			out.Media = append(out.Media, name)
		}
	}

	sort.Strings(out.Manifests)
	sort.Strings(out.Media)
	return out, nil
}

func checkMediaFile(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Sprintf("stat: %v", err)
	}
	if !info.Mode().IsRegular() {
		return "not a regular file"
	}
	if info.Size() == 0 {
		return "empty file"
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Sprintf("not readable: %v", err)
	}
	f.Close()
	return ""
}

package uploader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// WriteMarker persists doc to the success or failure marker in dir and removes a
// stale marker of the other kind. The file is written to a temporary name first
// and renamed into place.
func WriteMarker(dir string, doc MarkerDocument, success bool) (string, error) {
	name, stale := FailureMarker, SuccessMarker
	if success {
		name, stale = SuccessMarker, FailureMarker
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode marker: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".devup-marker-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create marker: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close marker: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("chmod marker: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename marker: %w", err)
	}

	if err := os.Remove(filepath.Join(dir, stale)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return path, fmt.Errorf("remove stale %s: %w", stale, err)
	}
	return path, nil
}

// ReadMarker loads a marker document from path.
func ReadMarker(path string) (MarkerDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MarkerDocument{}, err
	}
	var doc MarkerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return MarkerDocument{}, fmt.Errorf("decode marker %s: %w", path, err)
	}
	return doc, nil
}

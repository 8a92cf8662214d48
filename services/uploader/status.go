package uploader

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
)

// FolderState is the upload state recorded for a folder by its marker files.
type FolderState string

const (
	StatePending   FolderState = "pending"
	StateUploaded  FolderState = "uploaded"
	StateFailed    FolderState = "failed"
	StateCorrupted FolderState = "unreadable_marker"
)

// FolderStatus describes one subfolder of the root directory.
type FolderStatus struct {
	Name   string
	State  FolderState
	Marker *MarkerDocument
	Err    error
}

// Statuses reports the marker state of every immediate subfolder of root, sorted by
// name. A success marker wins over a failure marker.
func Statuses(root string) ([]FolderStatus, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &DiscoveryError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &DiscoveryError{Root: root, Err: errNotDirectory}
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, &DiscoveryError{Root: root, Err: err}
	}

	var out []FolderStatus
	for _, entry := range entries {
		dir := filepath.Join(root, entry.Name())
		if !isDirEntry(entry, dir) {
			continue
		}
		out = append(out, folderStatus(entry.Name(), dir))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func folderStatus(name, dir string) FolderStatus {
	st := FolderStatus{Name: name, State: StatePending}
	for _, m := range []struct {
		file  string
		state FolderState
	}{
		{SuccessMarker, StateUploaded},
		{FailureMarker, StateFailed},
	} {
		doc, err := ReadMarker(filepath.Join(dir, m.file))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			st.State = StateCorrupted
			st.Err = err
			return st
		}
		st.State = m.state
		st.Marker = &doc
		return st
	}
	return st
}

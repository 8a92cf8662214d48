package uploader

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// WorkUnit is one subfolder discovered under the root directory.
type WorkUnit struct {
	Path         string
	Name         string
	LastModified time.Time
	// StatFailed marks a unit whose modification time could not be read;
	// LastModified then holds the scan time.
	StatFailed bool
}

// DiscoveryError means the root directory itself cannot be scanned. It is fatal
// for the whole run.
type DiscoveryError struct {
	Root string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover folders in %s: %v", e.Root, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

var errNotDirectory = errors.New("not a directory")

// Scanner lists the subfolders of a root directory that still need uploading.
type Scanner struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewScanner(logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{logger: logger, now: time.Now}
}

// Scan returns the immediate subfolders of root, newest first. Folders holding a
// success marker are left out; a failure marker does not exclude a folder.
func (s *Scanner) Scan(root string) ([]WorkUnit, error) {
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

	now := s.now()
	units := make([]WorkUnit, 0, len(entries))
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if !isDirEntry(entry, path) {
			continue
		}

		if _, err := os.Stat(filepath.Join(path, SuccessMarker)); err == nil {
			s.logger.Info("skipping folder, already processed",
				zap.String("folder", entry.Name()),
				zap.String("marker", SuccessMarker))
			continue
		}

		if err := checkReadable(path); err != nil {
			s.logger.Warn("skipping unreadable folder",
				zap.String("folder", entry.Name()),
				zap.Error(err))
			continue
		}

		unit := WorkUnit{Path: path, Name: entry.Name()}
		if fi, err := entry.Info(); err != nil {
			s.logger.Warn("cannot read folder modification time, ordering as now",
				zap.String("folder", entry.Name()),
				zap.Error(err))
			unit.LastModified = now
			unit.StatFailed = true
		} else {
			unit.LastModified = fi.ModTime()
		}
		units = append(units, unit)
	}

	sortUnits(units)

	s.logger.Info("found subfolders to process", zap.Int("count", len(units)))
	return units, nil
}

// sortUnits orders by modification time descending. Ties put units whose stat
// failed last, then fall back to name order.
func sortUnits(units []WorkUnit) {
	sort.SliceStable(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if !a.LastModified.Equal(b.LastModified) {
			return a.LastModified.After(b.LastModified)
		}
		if a.StatFailed != b.StatFailed {
			return !a.StatFailed
		}
		return a.Name < b.Name
	})
}

func isDirEntry(entry fs.DirEntry, path string) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func checkReadable(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

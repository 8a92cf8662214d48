package uploader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func unitNames(units []WorkUnit) []string {
	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Name)
	}
	return names
}

func TestScanOrdersNewestFirst(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	offsets := map[string]time.Duration{
		"old":    0,
		"middle": time.Hour,
		"newest": 2 * time.Hour,
	}
	for name, offset := range offsets {
		dir := makeFolder(t, root, name, map[string]string{"data.json": "{}"})
		at := base.Add(offset)
		require.NoError(t, os.Chtimes(dir, at, at))
	}

	units, err := NewScanner(zaptest.NewLogger(t)).Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"newest", "middle", "old"}, unitNames(units))
	assert.Equal(t, filepath.Join(root, "newest"), units[0].Path)
	assert.False(t, units[0].StatFailed)
}

func TestScanSkipsSuccessMarkerOnly(t *testing.T) {
	root := t.TempDir()
	makeFolder(t, root, "done", map[string]string{SuccessMarker: "{}"})
	makeFolder(t, root, "retry", map[string]string{FailureMarker: "{}", "data.json": "{}"})
	makeFolder(t, root, "fresh", nil)
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.json"), []byte("{}"), 0o644))

	units, err := NewScanner(zaptest.NewLogger(t)).Scan(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"retry", "fresh"}, unitNames(units))
}

func TestScanSkipsUnreadableFolder(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	root := t.TempDir()
	makeFolder(t, root, "readable", map[string]string{"data.json": "{}"})
	locked := makeFolder(t, root, "locked", map[string]string{"data.json": "{}"})
	require.NoError(t, os.Chmod(locked, 0))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	core, logs := observer.New(zapcore.WarnLevel)
	units, err := NewScanner(zap.New(core)).Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"readable"}, unitNames(units))

	skipped := logs.FilterMessage("skipping unreadable folder").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "locked", skipped[0].ContextMap()["folder"])
}

func TestScanEmptyRoot(t *testing.T) {
	units, err := NewScanner(nil).Scan(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestScanDiscoveryErrors(t *testing.T) {
	root := t.TempDir()

	_, err := NewScanner(nil).Scan(filepath.Join(root, "missing"))
	var derr *DiscoveryError
	require.True(t, errors.As(err, &derr))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	file := filepath.Join(root, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = NewScanner(nil).Scan(file)
	require.True(t, errors.As(err, &derr))
	assert.ErrorIs(t, err, errNotDirectory)
	assert.Equal(t, file, derr.Root)
}

func TestSortUnits(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	units := []WorkUnit{
		{Name: "b", LastModified: t0},
		{Name: "broken", LastModified: t0, StatFailed: true},
		{Name: "a", LastModified: t0},
		{Name: "later", LastModified: t0.Add(time.Minute)},
		{Name: "earlier", LastModified: t0.Add(-time.Minute)},
	}

	sortUnits(units)
	assert.Equal(t, []string{"later", "a", "b", "broken", "earlier"}, unitNames(units))
}

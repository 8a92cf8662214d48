package migrations

import (
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pressly/goose/v3"
)

func TestSourcesAreBuiltIntoPackage(t *testing.T) {
	files, err := fs.Glob(FS, "*.go")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no migration sources embedded")
	}
	for _, name := range files {
		if strings.HasSuffix(name, "_test.go") {
			t.Fatalf("migration %s is only compiled under go test", name)
		}
	}
}

func TestCollectMigrations(t *testing.T) {
	goose.SetBaseFS(FS)
	t.Cleanup(func() { goose.SetBaseFS(nil) })

	migrations, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
	if err != nil {
		t.Fatalf("CollectMigrations() error = %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("CollectMigrations() returned %d migrations, want 1", len(migrations))
	}

	m := migrations[0]
	if m.Version != 1 {
		t.Fatalf("Version = %d, want 1", m.Version)
	}
	if got := filepath.Base(m.Source); got != "0001_device_table.go" {
		t.Fatalf("Source = %s, want 0001_device_table.go", got)
	}
}

package render

import (
	"strings"
	"testing"
)

type summary struct {
	RunID     string
	Root      string
	Processed int
	Succeeded int
	Failed    int
	Rate      float64
	HasRate   bool
	Duration  string
}

func TestRenderSummary(t *testing.T) {
	engine, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out, err := engine.Render("summary", summary{
		RunID:     "r1",
		Root:      "./sample",
		Processed: 3,
		Succeeded: 2,
		Failed:    1,
		Rate:      66.6666,
		HasRate:   true,
		Duration:  "2s",
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 11 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	if lines[0] != strings.Repeat("=", 60) || lines[1] != "BATCH UPLOAD SUMMARY" {
		t.Fatalf("unexpected header:\n%s", out)
	}
	if want := "Success rate:             66.7%"; lines[8] != want {
		t.Fatalf("rate line = %q, want %q", lines[8], want)
	}
}

func TestRenderSummaryEmpty(t *testing.T) {
	engine, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out, err := engine.Render("summary", summary{})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out, "No subfolders found to process!") {
		t.Fatalf("missing empty notice:\n%s", out)
	}
	if strings.Contains(out, "Success rate") {
		t.Fatalf("empty run should not report a rate:\n%s", out)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	engine, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := engine.Render("missing", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}

	var nilEngine *Engine
	if _, err := nilEngine.Render("summary", nil); err == nil {
		t.Fatal("expected error for nil engine")
	}
}

package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"overlaycast/internal/preflight"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Relay", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Relay:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Relay", statusOK, "streaming", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestCheckLines(t *testing.T) {
	results := []preflight.Result{
		{Name: "FFmpeg", Detail: "not found"},
		{Name: "FFprobe", Passed: true, Detail: "ffprobe"},
		{Name: "Destination registry", Optional: true, Detail: "not configured"},
	}
	lines := checkLines(results, false)
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], "[ERROR]") || !strings.Contains(lines[0], "Summary") {
		t.Fatalf("expected summary line first, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "[ERROR] not found") {
		t.Fatalf("expected error detail, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "[OK] ffprobe") {
		t.Fatalf("expected ok detail, got %q", lines[2])
	}
	if !strings.Contains(lines[3], "[WARN] not configured") {
		t.Fatalf("expected warn detail, got %q", lines[3])
	}
	if !strings.Contains(lines[4], "Missing dependencies: FFmpeg") {
		t.Fatalf("expected missing dependencies summary, got %q", lines[4])
	}
}

func TestCheckLinesAllPassed(t *testing.T) {
	lines := checkLines([]preflight.Result{{Name: "FFmpeg", Passed: true}}, false)
	if len(lines) != 2 || !strings.Contains(lines[0], "All checks passed") {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"Metric", "Value"}, [][]string{{"Attempt", "3"}, {"Resolution"}}, 1)
	for _, want := range []string{"Metric", "Attempt", "Resolution", "3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
	if renderTable(nil, nil) != "" {
		t.Fatal("expected empty output without headers")
	}
}

package main

import (
	"io"
	"strings"
	"testing"

	"visionedge/internal/deps"
	"visionedge/internal/health"
	"visionedge/internal/process"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Video stream", statusError, "Not running", false)
	want := "  Video stream:        [ERROR] Not running"
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Health", statusOK, "good", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestStatusKindFromHealth(t *testing.T) {
	cases := map[health.Code]statusKind{
		health.Good:     statusOK,
		health.Warning:  statusWarn,
		health.Critical: statusError,
	}
	for code, want := range cases {
		if got := statusKindFromHealth(code); got != want {
			t.Errorf("statusKindFromHealth(%s) = %v, want %v", code, got, want)
		}
	}
}

func TestStreamLine(t *testing.T) {
	running := process.Status{State: process.Running.String(), PID: 42, Generation: 2}
	if got := streamLine("Video", running, false); !strings.Contains(got, "[OK] Running (pid 42") {
		t.Fatalf("unexpected running line %q", got)
	}
	pending := process.Status{State: process.Running.String(), RestartPending: true, Restarts: 1, LastExit: "exit status 1"}
	if got := streamLine("Video", pending, false); !strings.Contains(got, "[WARN] Restart pending") {
		t.Fatalf("unexpected pending line %q", got)
	}
	broken := process.Status{State: process.Running.String(), BreakerOpen: true, Restarts: 5}
	if got := streamLine("Video", broken, false); !strings.Contains(got, "[ERROR]") {
		t.Fatalf("unexpected breaker line %q", got)
	}
	stopped := process.Status{State: process.Stopped.String()}
	if got := streamLine("Video", stopped, false); !strings.Contains(got, "[INFO] Stopped") {
		t.Fatalf("unexpected stopped line %q", got)
	}
}

func TestDependencyLines(t *testing.T) {
	statuses := []deps.Status{
		{Name: "Detection pipeline", Command: "gst-launch-1.0", Detail: `binary "gst-launch-1.0" not found`},
		{Name: "Video pipeline", Command: "ffmpeg", Available: true, Optional: true},
		{Name: "Restart hook", Command: "camctl", Optional: true},
	}
	lines := dependencyLines(statuses, false)
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], "[ERROR] binary") {
		t.Fatalf("required dependency should be an error, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "[OK] Ready (command: ffmpeg)") {
		t.Fatalf("unexpected ready line %q", lines[1])
	}
	if !strings.Contains(lines[2], "[WARN] not available") {
		t.Fatalf("optional dependency should warn, got %q", lines[2])
	}
	if !strings.Contains(lines[3], "Missing dependencies:") || !strings.Contains(lines[3], "Detection pipeline") {
		t.Fatalf("unexpected summary %q", lines[3])
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

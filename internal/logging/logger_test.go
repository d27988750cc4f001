package logging_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"visionedge/internal/logging"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml", Writer: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleHandlerPrefixesComponentAndStream(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger = logging.StreamLogger(logging.NewComponentLogger(logger, "supervisor"), "video", 0)
	logger.Info("process started", logging.Int("pid", 42))

	line := buf.String()
	if !strings.Contains(line, "INFO supervisor [video]: process started") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if !strings.Contains(line, "pid=42") {
		t.Fatalf("missing attribute: %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should be folded into the prefix: %q", line)
	}
}

func TestConsoleHandlerFoldsGenerationAndSession(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger = logging.StreamLogger(logging.NewComponentLogger(logger, "inference"), "detection", 3)
	logger.Info("message parsed", logging.Session("3f2a9c1e-0000-4000-8000-000000000000"), logging.Int("objects", 2))

	line := buf.String()
	if !strings.Contains(line, "INFO inference [detection#3 3f2a9c1e]: message parsed objects=2") {
		t.Fatalf("unexpected line: %q", line)
	}
	if strings.Contains(line, "generation=") || strings.Contains(line, "session_id=") {
		t.Fatalf("prefix fields should not repeat as attributes: %q", line)
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logging.WarnWithContext(logger, "parse failed", "detection_parse_failed",
		logging.Error(errors.New("bad json")),
		logging.String(logging.FieldImpact, "message dropped"),
	)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if record[logging.FieldEventType] != "detection_parse_failed" {
		t.Fatalf("event_type = %v", record[logging.FieldEventType])
	}
	if record[logging.FieldErrorHint] == nil {
		t.Fatal("expected default error_hint")
	}
	if record[logging.FieldImpact] != "message dropped" {
		t.Fatalf("impact overridden: %v", record[logging.FieldImpact])
	}
	if record["level"] != "warn" {
		t.Fatalf("level = %v", record["level"])
	}
}

func TestWithContextAddsSessionID(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := logging.WithSessionID(t.Context(), "abc")
	logging.WithContext(ctx, logger).Info("hello")
	if !strings.Contains(buf.String(), `"session_id":"abc"`) {
		t.Fatalf("missing session id: %q", buf.String())
	}
}

func TestNewWritesToFileSinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon.log")
	logger, err := logging.New(logging.Options{Level: "warning", Format: "json", OutputPaths: []string{path, path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("filtered")
	logger.Warn("stream stalled", logging.Stream("video"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", data)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("missing ts: %v", record)
	}
	if record[logging.FieldStream] != "video" {
		t.Fatalf("stream = %v", record[logging.FieldStream])
	}
}

package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"visionedge/internal/config"
)

// ConfigOption adjusts a test config after the defaults are applied.
type ConfigOption func(t testing.TB, base string, cfg *config.Config)

// NewConfig returns a config whose state and log dirs live under a fresh
// temp dir. Streams point at placeholder RTSP URLs, the metrics listener
// uses an ephemeral port and frame waits are short.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.MetricsBind = "127.0.0.1:0"
	cfg.Streams.DataURL = "rtsp://camera.test/data"
	cfg.Streams.VideoURL = "rtsp://camera.test/video"
	cfg.Inference.FrameWaitTimeout = 200
	cfg.MJPEG.HeaderSkip = 4

	for _, opt := range opts {
		opt(t, base, &cfg)
	}
	return &cfg
}

// WithStubbedBinaries installs /bin/sh scripts named after the map keys in
// a private bin dir and puts it first on PATH for the rest of the test.
func WithStubbedBinaries(scripts map[string]string) ConfigOption {
	return func(t testing.TB, base string, _ *config.Config) {
		bin := filepath.Join(base, "bin")
		if err := os.MkdirAll(bin, 0o755); err != nil {
			t.Fatalf("mkdir bin dir: %v", err)
		}
		for name, body := range scripts {
			script := []byte("#!/bin/sh\n" + body + "\n")
			if err := os.WriteFile(filepath.Join(bin, name), script, 0o755); err != nil {
				t.Fatalf("write stub %s: %v", name, err)
			}
		}
		t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the temp dir backing a config built by NewConfig.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

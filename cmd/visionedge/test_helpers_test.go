package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"visionedge/internal/config"
	"visionedge/internal/daemon"
	"visionedge/internal/health"
	"visionedge/internal/inference"
	"visionedge/internal/ipc"
	"visionedge/internal/journal"
	"visionedge/internal/logging"
	"visionedge/internal/publish"
	"visionedge/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	launcher   *testsupport.FakeLauncher
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Paths.MetricsBind = ""
	t.Setenv("HOME", filepath.Join(testsupport.BaseDir(cfg), "home"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	configPath := filepath.Join(testsupport.BaseDir(cfg), "visionedge.toml")
	writeTestConfig(t, configPath, cfg)

	store, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	launcher := testsupport.NewFakeLauncher()
	coord, err := inference.New(cfg, publish.NewJournal(store), nil,
		inference.WithLauncher(launcher),
		inference.WithLogger(logging.NewNop()),
	)
	if err != nil {
		t.Fatalf("inference.New: %v", err)
	}
	tracker := health.NewTracker(nil)
	for _, src := range coord.HealthSources() {
		tracker.Register(src)
	}
	d, err := daemon.New(cfg, coord, tracker, logging.NewNop(), daemon.WithJournal(store))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logging.NewNop())
	if err != nil {
		cancel()
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		launcher:   launcher,
		socketPath: cfg.SocketPath(),
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\nstate_dir = %q\nlog_dir = %q\nmetrics_bind = \"\"\n\n[streams]\ndata_url = %q\nvideo_url = %q\n",
		cfg.Paths.StateDir,
		cfg.Paths.LogDir,
		cfg.Streams.DataURL,
		cfg.Streams.VideoURL,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

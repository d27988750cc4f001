package daemonrun_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"visionedge/internal/daemon"
	"visionedge/internal/daemonrun"
	"visionedge/internal/ipc"
	"visionedge/internal/testsupport"
)

func TestRunServesIPCAndShutsDown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Streams.Autostart = true
	cfg.Journal.Enabled = true
	cfg.Logging.Format = "json"
	launcher := testsupport.NewFakeLauncher()

	ready := make(chan *daemon.Daemon, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(ctx, cfg, daemonrun.Options{
			Launcher: launcher,
			Ready:    func(d *daemon.Daemon) { ready <- d },
		})
	}()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon never became ready")
	}

	if _, err := os.Stat(cfg.PIDPath()); err != nil {
		t.Fatalf("pid file missing: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(cfg.Paths.LogDir, "visionedge.log")); err != nil {
		t.Fatalf("log pointer missing: %v", err)
	}

	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	status, err := client.Status()
	_ = client.Close()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || !status.Inference.Running || status.JournalPath == "" {
		t.Fatalf("autostarted session expected, got %+v", status)
	}
	if len(launcher.Calls()) != 2 {
		t.Fatalf("expected detection and video launches, got %d", len(launcher.Calls()))
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, err := os.Stat(cfg.PIDPath()); !os.IsNotExist(err) {
		t.Fatal("pid file should be removed on shutdown")
	}
}

func TestRunHotReloadsInferenceSettings(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfgPath := filepath.Join(testsupport.BaseDir(cfg), "visionedge.toml")
	if err := os.WriteFile(cfgPath, []byte("[inference]\nconfidence_threshold = 60\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ready := make(chan *daemon.Daemon, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(ctx, cfg, daemonrun.Options{
			ConfigPath: cfgPath,
			Launcher:   testsupport.NewFakeLauncher(),
			Ready:      func(d *daemon.Daemon) { ready <- d },
		})
	}()

	var d *daemon.Daemon
	select {
	case d = <-ready:
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon never became ready")
	}

	// Watchers may start slightly after Ready; rewrite until the change lands.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		body := "[inference]\nconfidence_threshold = 42\ndetect_class = \"car\"\n"
		if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
		if s := d.Status().Inference.Settings; s.ConfidenceThreshold == 42 && s.DetectClass == "car" {
			cancel()
			<-done
			return
		}
	}
	t.Fatalf("settings not reloaded: %+v", d.Status().Inference.Settings)
}

package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"visionedge/internal/config"
	"visionedge/internal/daemon"
	"visionedge/internal/deps"
	"visionedge/internal/health"
	"visionedge/internal/inference"
	"visionedge/internal/ipc"
	"visionedge/internal/journal"
	"visionedge/internal/logging"
	"visionedge/internal/mqttclient"
	"visionedge/internal/process"
	"visionedge/internal/publish"
	"visionedge/internal/telemetry"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// ConfigPath enables hot reload of the [inference] section when set.
	ConfigPath string
	// Launcher replaces the OS subprocess launcher (tests).
	Launcher process.Launcher
	// Ready is called once the IPC socket accepts connections.
	Ready func(*daemon.Daemon)
}

// Run starts the visionedge daemon and blocks until ctx ends or the process
// receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("visionedge-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update visionedge.log link: %v\n", err)
	}
	logDependencySnapshot(logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	metrics := telemetry.NewMetrics()
	hub := publish.NewHub(cfg.Feed.BufferSize)
	feed := publish.NewFeed(hub, logger)
	fanout := publish.NewFanout().Add("hub", hub)
	senders := telemetry.Multi{metrics}
	daemonOpts := []daemon.Option{daemon.WithFeed(hub, feed), daemon.WithMetrics(metrics)}

	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		fanout.Add("journal", publish.NewJournal(store))
		daemonOpts = append(daemonOpts, daemon.WithJournal(store))
	}

	if cfg.MQTT.Enabled {
		broker := mqttclient.New(cfg.MQTT, logger)
		if err := broker.Connect(signalCtx); err != nil {
			logging.WarnWithContext(logger, "mqtt broker unreachable at startup; retrying in background", "mqtt_connect_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check mqtt.broker and broker credentials"),
				logging.String(logging.FieldImpact, "packets and telemetry are not delivered to MQTT until connected"),
			)
		}
		defer broker.Close()
		fanout.Add("mqtt", publish.NewMQTT(broker))
		senders = append(senders, telemetry.NewMQTTSender(broker, cfg.MQTT.TelemetryTopic))
		daemonOpts = append(daemonOpts, daemon.WithBroker(broker))
	}

	coordOpts := []inference.Option{
		inference.WithLogger(logger),
		inference.WithProcessObserver(metrics.ObserveProcess),
		inference.WithFrameObserver(metrics.ObserveFrame),
	}
	if opts.Launcher != nil {
		coordOpts = append(coordOpts, inference.WithLauncher(opts.Launcher))
	}
	coord, err := inference.New(cfg, fanout, senders, coordOpts...)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}

	tracker := health.NewTracker(
		health.NewRestarter(cfg.Health.RestartCommand, logger),
		health.WithEscalation(cfg.Health.Window(), cfg.Health.EscalationStreak),
		health.WithLogger(logger),
	)
	for _, src := range coord.HealthSources() {
		tracker.Register(src)
	}
	registerGauges(metrics, coord, tracker)

	d, err := daemon.New(cfg, coord, tracker, logger, daemonOpts...)
	if err != nil {
		_ = coord.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if cfg.Health.DebugInterval > 0 {
		logger.Info("debug health timer enabled", logging.Duration("interval", cfg.Health.DebugTick()))
		go tracker.Run(signalCtx, cfg.Health.DebugTick())
	}

	if opts.ConfigPath != "" {
		go watchSettings(signalCtx, opts.ConfigPath, d, logger)
	}

	if cfg.Streams.Autostart {
		if _, err := d.StartSession(signalCtx, "", ""); err != nil {
			logging.WarnWithContext(logger, "autostart failed", "autostart_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check streams.data_url and the detection pipeline; start manually with visionedge start"),
				logging.String(logging.FieldImpact, "no inference until a session is started"),
			)
		}
	}

	if opts.Ready != nil {
		opts.Ready(d)
	}

	<-signalCtx.Done()
	logger.Info("visionedge daemon shutting down")
	return nil
}

func watchSettings(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) {
	err := config.Watch(ctx, path, logging.NewComponentLogger(logger, "config"), func(next *config.Config) {
		d.ApplySettings(inference.Settings{
			ConfidenceThreshold: next.Inference.ConfidenceThreshold,
			DetectClass:         next.Inference.DetectClass,
		})
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.WarnWithContext(logger, "config watch unavailable", "config_watch_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "setting changes require the set command or a restart"),
		)
	}
}

func registerGauges(m *telemetry.Metrics, coord *inference.Coordinator, tracker *health.Tracker) {
	m.GaugeFunc("health_code", "Overall health code (0 critical, 1 warning, 2 good).", func() float64 {
		return float64(tracker.GetHealth())
	})
	m.GaugeFunc("session_running", "1 while an inference session is active.", func() float64 {
		if coord.Running() {
			return 1
		}
		return 0
	})
	m.GaugeFunc("publish_queue_depth", "Detection batches waiting for a frame or publish.", func() float64 {
		return float64(coord.Status().QueueDepth)
	})
	m.CounterFunc("packets_published_total", "Packets delivered to every sink.", func() float64 {
		return float64(coord.Status().Published)
	})
	m.CounterFunc("packets_without_frame_total", "Packets published without frame bytes.", func() float64 {
		return float64(coord.Status().WithoutFrame)
	})
	m.CounterFunc("frames_total", "Frames decoded from the video stream.", func() float64 {
		return float64(coord.Status().Frames)
	})
	m.CounterFunc("health_escalations_total", "Device restart requests issued.", func() float64 {
		return float64(tracker.Escalations())
	})
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "visionedge.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	statuses := deps.Check(cfg)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("mqtt_enabled", cfg.MQTT.Enabled),
		logging.Bool("journal_enabled", cfg.Journal.Enabled),
	}
	for _, st := range statuses {
		attrs = append(attrs, logging.Bool(strings.ToLower(strings.ReplaceAll(st.Name, " ", "_"))+"_available", st.Available))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	if missing := deps.Missing(statuses); len(missing) > 0 {
		logging.WarnWithContext(logger, "required stream binaries missing", "dependency_missing",
			logging.String("missing", strings.Join(missing, ", ")),
			logging.String(logging.FieldErrorHint, "install the pipeline or set streams.detection_command"),
			logging.String(logging.FieldImpact, "inference sessions fail to start"),
		)
	}
}

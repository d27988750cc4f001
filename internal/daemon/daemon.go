package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"visionedge/internal/config"
	"visionedge/internal/deps"
	"visionedge/internal/health"
	"visionedge/internal/inference"
	"visionedge/internal/journal"
	"visionedge/internal/logging"
	"visionedge/internal/mqttclient"
	"visionedge/internal/publish"
	"visionedge/internal/telemetry"
)

var (
	// ErrAlreadyRunning is returned by Start when the daemon holds its lock.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrJournalDisabled is returned by History when no journal is configured.
	ErrJournalDisabled = errors.New("packet journal disabled")
)

// Daemon owns the inference coordinator, the health tracker, and the
// single-instance lock for one camera.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	coord   *inference.Coordinator
	tracker *health.Tracker

	journal *journal.Store
	hub     *publish.Hub
	feed    *publish.Feed
	metrics *telemetry.Metrics
	broker  *mqttclient.Client

	lockPath string
	lock     *flock.Flock
	http     *httpServer

	running atomic.Bool
	mu      sync.Mutex
}

// Option wires optional sinks into the daemon's status and HTTP surface.
type Option func(*Daemon)

// WithJournal enables the History call.
func WithJournal(store *journal.Store) Option { return func(d *Daemon) { d.journal = store } }

// WithFeed exposes hub packets over /ws/inference and /api/packets.
func WithFeed(hub *publish.Hub, feed *publish.Feed) Option {
	return func(d *Daemon) {
		d.hub = hub
		d.feed = feed
	}
}

// WithMetrics serves /metrics from m.
func WithMetrics(m *telemetry.Metrics) Option { return func(d *Daemon) { d.metrics = m } }

// WithBroker reports MQTT link state in Status.
func WithBroker(c *mqttclient.Client) Option { return func(d *Daemon) { d.broker = c } }

// Status represents daemon runtime information.
type Status struct {
	Running     bool              `json:"running"`
	PID         int               `json:"pid"`
	LockPath    string            `json:"lock_path"`
	SocketPath  string            `json:"socket_path"`
	JournalPath string            `json:"journal_path,omitempty"`
	HTTPAddr    string            `json:"http_addr,omitempty"`
	Health      health.Code       `json:"health"`
	LastCheck   health.Report     `json:"last_check"`
	Inference   inference.Status  `json:"inference"`
	Broker      *mqttclient.Stats `json:"broker,omitempty"`
	FeedClients int               `json:"feed_clients"`

	Dependencies []deps.Status `json:"dependencies"`
}

// New constructs a daemon around an already built coordinator and tracker.
func New(cfg *config.Config, coord *inference.Coordinator, tracker *health.Tracker, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || coord == nil || tracker == nil {
		return nil, errors.New("daemon requires config, coordinator, and health tracker")
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		coord:    coord,
		tracker:  tracker,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the single-instance lock and starts the HTTP server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return ErrAlreadyRunning
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another visionedge daemon instance is already running")
	}

	srv := newHTTPServer(d.cfg.Paths.MetricsBind, d, d.logger)
	if err := srv.start(ctx); err != nil {
		_ = d.lock.Unlock()
		return err
	}
	d.http = srv
	d.running.Store(true)
	d.logger.Info("visionedge daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop ends any inference session, stops the HTTP server, and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	d.coord.Stop()
	d.http.stop()
	d.http = nil
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the lock file if the next start fails"),
		)
	}
	d.running.Store(false)
	d.logger.Info("visionedge daemon stopped")
}

// Close stops the daemon and releases the coordinator and journal.
func (d *Daemon) Close() error {
	d.Stop()
	err := d.coord.Close()
	if d.journal != nil {
		err = errors.Join(err, d.journal.Close())
	}
	return err
}

// StartSession starts inference. Empty URLs fall back to the configured ones.
func (d *Daemon) StartSession(ctx context.Context, dataURL, videoURL string) (inference.StartResult, error) {
	if strings.TrimSpace(dataURL) == "" {
		dataURL = d.cfg.Streams.DataURL
	}
	if strings.TrimSpace(videoURL) == "" {
		videoURL = d.cfg.Streams.VideoURL
	}
	return d.coord.Start(ctx, dataURL, videoURL)
}

// StopSession stops inference; a no-op when nothing is running.
func (d *Daemon) StopSession() { d.coord.Stop() }

// ApplySetting forwards a runtime setting change to the coordinator.
func (d *Daemon) ApplySetting(name, value string) inference.SettingResult {
	return d.coord.ApplySetting(name, value)
}

// ApplySettings pushes reloaded settings to the coordinator.
func (d *Daemon) ApplySettings(s inference.Settings) []inference.SettingResult {
	return d.coord.ApplySettings(s)
}

// CheckHealth runs one escalation-tracking health sample.
func (d *Daemon) CheckHealth(ctx context.Context) health.Report {
	return d.tracker.CheckHealthState(ctx)
}

// History returns recently journaled packets, newest first.
func (d *Daemon) History(ctx context.Context, limit int, withFrame bool) ([]journal.Entry, error) {
	if d.journal == nil {
		return nil, ErrJournalDisabled
	}
	return d.journal.List(ctx, limit, withFrame)
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	st := Status{
		Running:    d.running.Load(),
		PID:        os.Getpid(),
		LockPath:   d.lockPath,
		SocketPath: d.cfg.SocketPath(),
		Health:     d.tracker.GetHealth(),
		LastCheck:  d.tracker.Last(),
		Inference:  d.coord.Status(),

		Dependencies: deps.Check(d.cfg),
	}
	if d.journal != nil {
		st.JournalPath = d.journal.Path()
	}
	d.mu.Lock()
	if d.http != nil {
		st.HTTPAddr = d.http.addr()
	}
	d.mu.Unlock()
	if d.broker != nil {
		stats := d.broker.Stats()
		st.Broker = &stats
	}
	if d.feed != nil {
		st.FeedClients = d.feed.Clients()
	}
	return st
}

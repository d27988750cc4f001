package health

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"visionedge/internal/logging"
)

const (
	DefaultEscalationWindow = 60 * time.Second
	DefaultEscalationStreak = 3
)

// Source reports the health of one subsystem.
type Source interface {
	Name() string
	Health() Code
}

type funcSource struct {
	name string
	fn   func() Code
}

func (s funcSource) Name() string { return s.name }
func (s funcSource) Health() Code { return s.fn() }

// SourceFunc adapts fn to a named Source.
func SourceFunc(name string, fn func() Code) Source {
	return funcSource{name: name, fn: fn}
}

// Restarter performs the device restart action on escalation.
type Restarter interface {
	RestartDevice(ctx context.Context, reason string) error
}

// SourceReport is one sampled source.
type SourceReport struct {
	Name string `json:"name"`
	Code Code   `json:"code"`
}

// Report is the outcome of one health sample.
type Report struct {
	Code          Code           `json:"code"`
	Sources       []SourceReport `json:"sources"`
	Streak        int            `json:"streak"`
	DegradedSince time.Time      `json:"degraded_since,omitzero"`
	Escalated     bool           `json:"escalated"`
	CheckedAt     time.Time      `json:"checked_at"`
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithEscalation overrides the degraded window and consecutive sample streak.
func WithEscalation(window time.Duration, streak int) Option {
	return func(t *Tracker) {
		if window > 0 {
			t.window = window
		}
		if streak > 0 {
			t.streak = streak
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock replaces time.Now (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Tracker aggregates sources and applies the escalation policy: restart only
// after at least streak consecutive degraded samples spanning more than window.
type Tracker struct {
	restarter Restarter
	window    time.Duration
	streak    int
	logger    *slog.Logger
	now       func() time.Time

	mu            sync.Mutex
	sources       []Source
	failures      int
	degradedSince time.Time
	escalations   int
	last          Report
}

// NewTracker builds a tracker that escalates through restarter.
func NewTracker(restarter Restarter, opts ...Option) *Tracker {
	t := &Tracker{
		restarter: restarter,
		window:    DefaultEscalationWindow,
		streak:    DefaultEscalationStreak,
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logging.NewComponentLogger(t.logger, "health")
	return t
}

// Register adds a source to be sampled.
func (t *Tracker) Register(src Source) {
	if src == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sources = append(t.sources, src)
}

// GetHealth samples every source and returns the worst code.
func (t *Tracker) GetHealth() Code {
	code, _ := t.sample()
	return code
}

func (t *Tracker) sample() (Code, []SourceReport) {
	t.mu.Lock()
	sources := append([]Source(nil), t.sources...)
	t.mu.Unlock()

	reports := make([]SourceReport, 0, len(sources))
	codes := make([]Code, 0, len(sources))
	for _, src := range sources {
		code := src.Health()
		reports = append(reports, SourceReport{Name: src.Name(), Code: code})
		codes = append(codes, code)
	}
	return Min(codes...), reports
}

// CheckHealthState samples health and advances the escalation state. It is
// driven by the external health probe and by Run in debug builds of the
// deployment.
func (t *Tracker) CheckHealthState(ctx context.Context) Report {
	code, sources := t.sample()
	now := t.now()

	t.mu.Lock()
	report := Report{Code: code, Sources: sources, CheckedAt: now}
	escalate := false
	if code == Good {
		t.failures = 0
		t.degradedSince = time.Time{}
	} else {
		if t.failures == 0 {
			t.degradedSince = now
		}
		t.failures++
		report.Streak = t.failures
		report.DegradedSince = t.degradedSince
		if t.failures >= t.streak && now.Sub(t.degradedSince) > t.window {
			escalate = true
			t.escalations++
			t.failures = 0
			t.degradedSince = time.Time{}
		}
	}
	report.Escalated = escalate
	t.last = report
	t.mu.Unlock()

	if code != Good && !escalate {
		t.logger.Debug("health degraded",
			logging.String("code", code.String()),
			logging.Int("streak", report.Streak),
			logging.Duration("degraded_for", now.Sub(report.DegradedSince)),
		)
	}
	if escalate {
		t.escalate(ctx, report)
	}
	return report
}

func (t *Tracker) escalate(ctx context.Context, report Report) {
	var degraded []string
	for _, src := range report.Sources {
		if src.Code != Good {
			degraded = append(degraded, fmt.Sprintf("%s=%s", src.Name, src.Code))
		}
	}
	reason := fmt.Sprintf("health %s for %d samples over %s (%s)",
		report.Code, report.Streak, report.CheckedAt.Sub(report.DegradedSince).Round(time.Second), strings.Join(degraded, ", "))

	logging.ErrorWithContext(t.logger, "persistent degradation; requesting device restart", "health_escalation",
		logging.String("reason", reason),
		logging.Alert("device_restart"),
		logging.String(logging.FieldErrorHint, "inspect stream supervisor logs preceding this restart"),
	)
	if t.restarter == nil {
		return
	}
	if err := t.restarter.RestartDevice(ctx, reason); err != nil {
		logging.ErrorWithContext(t.logger, "device restart request failed", "health_restart_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check health.restart_command"),
		)
	}
}

// Last returns the most recent CheckHealthState report.
func (t *Tracker) Last() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Escalations returns the number of restart requests issued.
func (t *Tracker) Escalations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.escalations
}

// Run calls CheckHealthState every interval until ctx is cancelled. The
// production trigger is the external probe; this loop is a debugging aid.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CheckHealthState(ctx)
		}
	}
}

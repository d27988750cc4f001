package health_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"visionedge/internal/health"
	"visionedge/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingRestarter struct {
	mu      sync.Mutex
	reasons []string
}

func (r *countingRestarter) RestartDevice(_ context.Context, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return nil
}

func (r *countingRestarter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

type settable struct {
	mu   sync.Mutex
	code health.Code
}

func (s *settable) set(c health.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = c
}

func (s *settable) get() health.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

func newTracker(t *testing.T) (*health.Tracker, *settable, *fakeClock, *countingRestarter) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	restarter := &countingRestarter{}
	src := &settable{code: health.Good}
	tracker := health.NewTracker(restarter, health.WithClock(clock.Now), health.WithLogger(logging.NewNop()))
	tracker.Register(health.SourceFunc("video", src.get))
	tracker.Register(health.SourceFunc("detection", func() health.Code { return health.Good }))
	return tracker, src, clock, restarter
}

func TestCodeOrderingAndMin(t *testing.T) {
	if !(health.Critical < health.Warning && health.Warning < health.Good) {
		t.Fatal("expected Critical < Warning < Good")
	}
	if got := health.Min(health.Good, health.Warning, health.Critical); got != health.Critical {
		t.Fatalf("Min = %s", got)
	}
	if got := health.Min(); got != health.Good {
		t.Fatalf("Min() = %s, want good", got)
	}
	data, err := json.Marshal(health.Warning)
	if err != nil || string(data) != `"warning"` {
		t.Fatalf("marshal = %s, %v", data, err)
	}
}

func TestGetHealthReturnsWorstSource(t *testing.T) {
	tracker, src, _, _ := newTracker(t)
	if tracker.GetHealth() != health.Good {
		t.Fatal("expected good")
	}
	src.set(health.Critical)
	if tracker.GetHealth() != health.Critical {
		t.Fatal("expected critical")
	}
}

func TestEscalatesAfterStreakSpanningWindow(t *testing.T) {
	tracker, src, clock, restarter := newTracker(t)
	ctx := context.Background()
	src.set(health.Warning)

	tracker.CheckHealthState(ctx)
	clock.Advance(30 * time.Second)
	tracker.CheckHealthState(ctx)
	clock.Advance(30 * time.Second)
	// Three samples but exactly 60s elapsed: not more than the window yet.
	if rep := tracker.CheckHealthState(ctx); rep.Escalated || restarter.count() != 0 {
		t.Fatalf("escalated at exactly 60s: %+v", rep)
	}
	clock.Advance(time.Second)
	rep := tracker.CheckHealthState(ctx)
	if !rep.Escalated || restarter.count() != 1 {
		t.Fatalf("expected escalation after 61s and 4 samples: %+v", rep)
	}
	if !strings.Contains(restarter.reasons[0], "video=warning") {
		t.Fatalf("reason does not name the degraded source: %q", restarter.reasons[0])
	}

	// State resets after escalation.
	clock.Advance(time.Second)
	if rep := tracker.CheckHealthState(ctx); rep.Streak != 1 || rep.Escalated {
		t.Fatalf("expected fresh streak after escalation: %+v", rep)
	}
}

func TestLongOutageWithFewSamplesDoesNotEscalate(t *testing.T) {
	tracker, src, clock, restarter := newTracker(t)
	ctx := context.Background()
	src.set(health.Critical)

	tracker.CheckHealthState(ctx)
	clock.Advance(5 * time.Minute)
	tracker.CheckHealthState(ctx)
	if restarter.count() != 0 {
		t.Fatal("two samples must not escalate regardless of elapsed time")
	}
}

func TestSingleDipNeverEscalates(t *testing.T) {
	tracker, src, clock, restarter := newTracker(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		src.set(health.Critical)
		tracker.CheckHealthState(ctx)
		clock.Advance(40 * time.Second)
		src.set(health.Good)
		if rep := tracker.CheckHealthState(ctx); rep.Streak != 0 {
			t.Fatalf("good sample should reset the streak: %+v", rep)
		}
		clock.Advance(40 * time.Second)
	}
	if restarter.count() != 0 {
		t.Fatalf("transient dips escalated %d times", restarter.count())
	}
	if tracker.Escalations() != 0 {
		t.Fatal("unexpected escalation count")
	}
}

func TestRunDrivesChecks(t *testing.T) {
	restarter := &countingRestarter{}
	tracker := health.NewTracker(restarter, health.WithEscalation(time.Nanosecond, 2))
	tracker.Register(health.SourceFunc("video", func() health.Code { return health.Critical }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tracker.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for restarter.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if restarter.count() == 0 {
		t.Fatal("expected Run to escalate")
	}
}

func TestCommandRestarterRunsArgv(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "restarted")
	r := health.NewRestarter([]string{"sh", "-c", `printf '%s' "$VISIONEDGE_RESTART_REASON" > "$0"`, marker}, logging.NewNop())
	if err := r.RestartDevice(context.Background(), "video critical"); err != nil {
		t.Fatalf("RestartDevice: %v", err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if string(data) != "video critical" {
		t.Fatalf("marker = %q", data)
	}
}

func TestNewRestarterWithoutCommandOnlyLogs(t *testing.T) {
	r := health.NewRestarter(nil, nil)
	if _, ok := r.(health.LogRestarter); !ok {
		t.Fatalf("expected LogRestarter, got %T", r)
	}
	if err := r.RestartDevice(context.Background(), "x"); err != nil {
		t.Fatalf("RestartDevice: %v", err)
	}
}

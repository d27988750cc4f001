package process_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"visionedge/internal/process"
	"visionedge/internal/testsupport"
)

const (
	testDelay = 30 * time.Millisecond
	waitLimit = 2 * time.Second
)

type recorder struct {
	mu     sync.Mutex
	chunks map[uint64][]string
	events []process.Event
}

func newRecorder() *recorder {
	return &recorder{chunks: map[uint64][]string{}}
}

func (r *recorder) consumer(gen uint64) process.Consumer {
	return process.ConsumerFunc(func(chunk []byte) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.chunks[gen] = append(r.chunks[gen], string(chunk))
	})
}

func (r *recorder) observe(ev process.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) data(gen uint64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.chunks[gen], "")
}

func (r *recorder) count(kind process.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitLimit)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newSupervisor(t *testing.T, launcher *testsupport.FakeLauncher, rec *recorder, mutate func(*process.Spec)) *process.Supervisor {
	t.Helper()
	spec := process.Spec{
		Name:         "video",
		Command:      "ffmpeg",
		Args:         []string{"-i", "{url}", "-f", "mjpeg", "pipe:1"},
		RestartDelay: testDelay,
		NewConsumer:  rec.consumer,
	}
	if mutate != nil {
		mutate(&spec)
	}
	sup, err := process.New(spec, process.WithLauncher(launcher), process.WithObserver(rec.observe))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		sup.Stop()
		sup.Wait()
	})
	return sup
}

func TestStartSubstitutesURLAndFeedsConsumer(t *testing.T) {
	launcher := testsupport.NewFakeLauncher()
	rec := newRecorder()
	sup := newSupervisor(t, launcher, rec, nil)

	if err := sup.Start("rtsp://cam/video"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	proc := launcher.Next(t, waitLimit)
	calls := launcher.Calls()
	if len(calls) != 1 || calls[0].Command != "ffmpeg" || calls[0].Args[1] != "rtsp://cam/video" {
		t.Fatalf("unexpected launch: %+v", calls)
	}
	if err := proc.Emit([]byte("hello ")); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := proc.Emit([]byte("world")); err != nil {
		t.Fatalf("emit: %v", err)
	}
	waitFor(t, "stdout delivered", func() bool { return rec.data(1) == "hello world" })

	if err := sup.Start("rtsp://cam/video"); !errors.Is(err, process.ErrAlreadyRunning) {
		t.Fatalf("second Start error = %v, want ErrAlreadyRunning", err)
	}
}

func TestCrashRestartsWithFreshConsumerAfterDelay(t *testing.T) {
	launcher := testsupport.NewFakeLauncher()
	rec := newRecorder()
	sup := newSupervisor(t, launcher, rec, nil)

	if err := sup.Start("rtsp://cam/video"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := launcher.Next(t, waitLimit)
	_ = first.Emit([]byte("partial"))
	crashedAt := time.Now()
	first.Crash(errors.New("exit status 1"))

	waitFor(t, "restart pending", func() bool { return sup.Status().RestartPending || sup.Status().Generation == 2 })
	second := launcher.Next(t, waitLimit)
	if elapsed := time.Since(crashedAt); elapsed < testDelay {
		t.Fatalf("restart after %v, want at least %v", elapsed, testDelay)
	}
	_ = second.Emit([]byte("fresh"))
	waitFor(t, "second generation data", func() bool { return rec.data(2) == "fresh" })
	if rec.data(1) != "partial" {
		t.Fatalf("generation 1 data = %q", rec.data(1))
	}

	st := sup.Status()
	if st.State != "running" || st.Restarts != 1 || st.Generation != 2 || st.PID != second.PID() {
		t.Fatalf("unexpected status: %+v", st)
	}
	if rec.count(process.EventCrashed) != 1 || rec.count(process.EventRestarted) != 1 {
		t.Fatalf("unexpected events: %+v", rec.events)
	}
}

func TestStopIsIntentionalAndDoesNotRestart(t *testing.T) {
	launcher := testsupport.NewFakeLauncher()
	rec := newRecorder()
	sup := newSupervisor(t, launcher, rec, nil)

	if err := sup.Start("u"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	proc := launcher.Next(t, waitLimit)
	sup.Stop()
	sup.Stop()

	if !proc.Terminated() {
		t.Fatal("expected terminate signal")
	}
	<-proc.Done()
	launcher.ExpectNoLaunch(t, 4*testDelay)
	if sup.State() != process.Stopped {
		t.Fatalf("state = %s, want stopped", sup.State())
	}
	if rec.count(process.EventCrashed) != 0 {
		t.Fatal("intentional stop reported as crash")
	}
}

func TestStopCancelsPendingRestart(t *testing.T) {
	launcher := testsupport.NewFakeLauncher()
	rec := newRecorder()
	sup := newSupervisor(t, launcher, rec, func(s *process.Spec) { s.RestartDelay = 100 * time.Millisecond })

	if err := sup.Start("u"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	launcher.Next(t, waitLimit).Crash(nil)
	waitFor(t, "restart pending", func() bool { return sup.Status().RestartPending })
	sup.Stop()
	launcher.ExpectNoLaunch(t, 250*time.Millisecond)
	if st := sup.Status(); st.RestartPending {
		t.Fatalf("restart still pending after stop: %+v", st)
	}
}

func TestInitialSpawnFailureIsRetried(t *testing.T) {
	launcher := testsupport.NewFakeLauncher()
	launcher.FailLaunch(1, errors.New("executable not found"))
	rec := newRecorder()
	sup := newSupervisor(t, launcher, rec, nil)

	if err := sup.Start("u"); err == nil {
		t.Fatal("expected spawn error")
	}
	st := sup.Status()
	if st.State != process.Running.String() || !st.RestartPending {
		t.Fatalf("status after failed spawn = %+v, want running with restart pending", st)
	}
	if !strings.Contains(st.LastExit, "executable not found") {
		t.Fatalf("last exit = %q", st.LastExit)
	}

	proc := launcher.Next(t, waitLimit)
	if n := len(launcher.Calls()); n != 2 {
		t.Fatalf("launch attempts = %d, want 2", n)
	}
	waitFor(t, "restart event", func() bool { return rec.count(process.EventRestarted) == 1 })
	if sup.Restarts() != 1 {
		t.Fatalf("restarts = %d, want 1", sup.Restarts())
	}
	if got := launcher.Calls()[1].Args[1]; got != "u" {
		t.Fatalf("retry url = %q", got)
	}
	sup.Stop()
	if !proc.Terminated() {
		t.Fatal("expected retried process terminated on stop")
	}
}

func TestStopCancelsRetryAfterInitialSpawnFailure(t *testing.T) {
	launcher := testsupport.NewFakeLauncher()
	launcher.FailLaunch(1, errors.New("executable not found"))
	rec := newRecorder()
	sup := newSupervisor(t, launcher, rec, nil)

	if err := sup.Start("u"); err == nil {
		t.Fatal("expected spawn error")
	}
	sup.Stop()
	launcher.ExpectNoLaunch(t, 4*testDelay)
	if st := sup.Status(); st.State != process.Stopped.String() || st.RestartPending {
		t.Fatalf("status after stop = %+v", st)
	}
	if rec.count(process.EventSpawnFailed) != 1 {
		t.Fatal("expected one spawn failure event")
	}
}

func TestRestartSpawnFailureIsRetried(t *testing.T) {
	launcher := testsupport.NewFakeLauncher()
	launcher.FailLaunch(2, errors.New("transient"))
	rec := newRecorder()
	sup := newSupervisor(t, launcher, rec, nil)

	if err := sup.Start("u"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	launcher.Next(t, waitLimit).Crash(nil)
	launcher.Next(t, waitLimit)
	if n := len(launcher.Calls()); n != 3 {
		t.Fatalf("launch attempts = %d, want 3", n)
	}
	if rec.count(process.EventSpawnFailed) != 1 {
		t.Fatal("expected one spawn failure event")
	}
}

func TestBreakerOpensAfterRepeatedCrashes(t *testing.T) {
	launcher := testsupport.NewFakeLauncher()
	rec := newRecorder()
	sup := newSupervisor(t, launcher, rec, func(s *process.Spec) {
		s.MaxRestarts = 2
		s.RestartWindow = time.Minute
	})

	if err := sup.Start("u"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		launcher.Next(t, waitLimit).Crash(nil)
	}
	waitFor(t, "breaker open", func() bool { return sup.Status().BreakerOpen })
	launcher.ExpectNoLaunch(t, 4*testDelay)
	if sup.State() != process.Stopped {
		t.Fatalf("state = %s, want stopped once breaker opens", sup.State())
	}
	if rec.count(process.EventBreakerOpen) != 1 {
		t.Fatal("expected breaker event")
	}

	if err := sup.Start("u"); err != nil {
		t.Fatalf("restart after breaker: %v", err)
	}
	launcher.Next(t, waitLimit)
	if sup.Status().BreakerOpen {
		t.Fatal("explicit start should close the breaker")
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	launcher := testsupport.NewFakeLauncher()
	rec := newRecorder()
	sup := newSupervisor(t, launcher, rec, func(s *process.Spec) { s.GracePeriod = 20 * time.Millisecond })

	if err := sup.Start("u"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	proc := launcher.Next(t, waitLimit)
	proc.IgnoreTerminate()
	sup.Stop()
	sup.Wait()
	if !proc.Killed() {
		t.Fatal("expected kill after grace period")
	}
}

func TestNewRequiresCommand(t *testing.T) {
	if _, err := process.New(process.Spec{Name: "detection"}); !errors.Is(err, process.ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

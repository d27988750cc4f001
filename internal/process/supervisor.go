package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"visionedge/internal/logging"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = errors.New("process already running")
	// ErrNotConfigured is returned when Spec.Command is empty.
	ErrNotConfigured = errors.New("process command not configured")
)

const defaultReadBuffer = 64 * 1024

// State is the supervisor's intent: Running survives crashes, only Stop leaves it.
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Consumer receives stdout chunks of one subprocess generation, in order.
type Consumer interface {
	Feed(chunk []byte)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func([]byte)

func (f ConsumerFunc) Feed(chunk []byte) { f(chunk) }

// Spec describes the supervised command.
type Spec struct {
	Name         string
	Command      string
	Args         []string
	Placeholder  string
	RestartDelay time.Duration
	GracePeriod  time.Duration
	// MaxRestarts inside RestartWindow before the breaker opens; 0 disables.
	MaxRestarts   int
	RestartWindow time.Duration
	// NewConsumer is called once per spawned generation.
	NewConsumer func(generation uint64) Consumer
	ReadBuffer  int
}

// EventKind classifies supervisor lifecycle notifications.
type EventKind string

const (
	EventStarted     EventKind = "started"
	EventStopped     EventKind = "stopped"
	EventCrashed     EventKind = "crashed"
	EventRestarted   EventKind = "restarted"
	EventSpawnFailed EventKind = "spawn_failed"
	EventBreakerOpen EventKind = "breaker_open"
)

// Event is delivered to observers registered with WithObserver.
type Event struct {
	Name       string
	Kind       EventKind
	Generation uint64
	Err        error
}

// Status is a point-in-time snapshot of a supervisor.
type Status struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	PID            int       `json:"pid,omitempty"`
	Generation     uint64    `json:"generation"`
	Restarts       int       `json:"restarts"`
	RestartPending bool      `json:"restart_pending"`
	BreakerOpen    bool      `json:"breaker_open"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	LastExit       string    `json:"last_exit,omitempty"`
	LastExitAt     time.Time `json:"last_exit_at,omitzero"`
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLauncher injects a custom launcher (primarily for tests).
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.launcher = l
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver registers a lifecycle callback. Callbacks run without the
// supervisor lock held and must not block.
func WithObserver(fn func(Event)) Option {
	return func(s *Supervisor) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

// Supervisor owns one subprocess slot.
type Supervisor struct {
	spec      Spec
	launcher  Launcher
	logger    *slog.Logger
	observers []func(Event)
	now       func() time.Time

	mu             sync.Mutex
	state          State
	live           *generation
	url            string
	generation     uint64
	epoch          uint64
	restartTimer   *time.Timer
	restarts       int
	recentRestarts []time.Time
	breakerOpen    bool
	startedAt      time.Time
	lastExit       string
	lastExitAt     time.Time

	wg sync.WaitGroup
}

type generation struct {
	id   uint64
	proc Process
	done chan struct{}
}

// New constructs a supervisor for spec.
func New(spec Spec, opts ...Option) (*Supervisor, error) {
	spec.Command = strings.TrimSpace(spec.Command)
	if spec.Command == "" {
		return nil, fmt.Errorf("%s: %w", spec.Name, ErrNotConfigured)
	}
	if spec.Placeholder == "" {
		spec.Placeholder = "{url}"
	}
	if spec.ReadBuffer <= 0 {
		spec.ReadBuffer = defaultReadBuffer
	}
	if spec.NewConsumer == nil {
		spec.NewConsumer = func(uint64) Consumer { return ConsumerFunc(func([]byte) {}) }
	}
	s := &Supervisor{
		spec:     spec,
		launcher: execLauncher{},
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.StreamLogger(logging.NewComponentLogger(s.logger, "supervisor"), spec.Name, 0)
	return s, nil
}

// Name returns the stream name.
func (s *Supervisor) Name() string { return s.spec.Name }

// Start spawns the subprocess for url. A spawn failure is returned to the
// caller and handled like a crash: the supervisor stays Running and retries
// after RestartDelay. Callers that treat the failure as fatal call Stop.
func (s *Supervisor) Start(url string) error {
	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", s.spec.Name, ErrAlreadyRunning)
	}
	s.epoch++
	s.url = url
	s.restarts = 0
	s.recentRestarts = nil
	s.breakerOpen = false
	s.state = Running
	gen, err := s.spawnLocked()
	if err != nil {
		s.lastExit = err.Error()
		s.lastExitAt = s.now()
		breaker := s.scheduleRestartLocked()
		s.mu.Unlock()
		logging.WarnWithContext(s.logger, "process failed to spawn", "process_spawn_failed",
			logging.Error(err),
			logging.Duration("restart_delay", s.spec.RestartDelay),
			logging.String(logging.FieldErrorHint, "check the pipeline command is installed"),
			logging.String(logging.FieldImpact, "stream down until the retry succeeds"),
		)
		s.notify(Event{Name: s.spec.Name, Kind: EventSpawnFailed, Err: err})
		if breaker {
			s.reportBreaker()
		}
		return err
	}
	s.mu.Unlock()

	s.logger.Info("process started", logging.Int("pid", gen.proc.PID()), logging.Generation(gen.id))
	s.notify(Event{Name: s.spec.Name, Kind: EventStarted, Generation: gen.id})
	return nil
}

// Stop moves the supervisor to Stopped, cancels any pending restart, and
// terminates the live subprocess. It is safe to call repeatedly.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state == Stopped && s.live == nil && s.restartTimer == nil {
		s.mu.Unlock()
		return
	}
	s.state = Stopped
	s.epoch++
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	gen := s.live
	// Cleared before signalling so the exit observer sees an intentional stop.
	s.live = nil
	s.mu.Unlock()

	if gen != nil {
		s.terminate(gen)
		s.logger.Info("process stopped", logging.Generation(gen.id))
	}
	s.notify(Event{Name: s.spec.Name, Kind: EventStopped})
}

// Wait blocks until every reader and escalation goroutine has finished.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) terminate(gen *generation) {
	if err := gen.proc.Terminate(); err != nil {
		s.logger.Debug("terminate failed", logging.Error(err))
	}
	grace := s.spec.GracePeriod
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if grace <= 0 {
			<-gen.done
			return
		}
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-gen.done:
		case <-timer.C:
			logging.WarnWithContext(s.logger, "process ignored SIGTERM; killing", "process_kill",
				logging.Duration("grace", grace),
				logging.String(logging.FieldImpact, "subprocess force killed"),
			)
			if err := gen.proc.Kill(); err != nil {
				s.logger.Debug("kill failed", logging.Error(err))
			}
		}
	}()
}

func (s *Supervisor) spawnLocked() (*generation, error) {
	args := make([]string, len(s.spec.Args))
	for i, arg := range s.spec.Args {
		args[i] = strings.ReplaceAll(arg, s.spec.Placeholder, s.url)
	}
	proc, err := s.launcher.Launch(s.spec.Command, args)
	if err != nil {
		return nil, fmt.Errorf("%s: launch %s: %w", s.spec.Name, s.spec.Command, err)
	}
	s.generation++
	gen := &generation{id: s.generation, proc: proc, done: make(chan struct{})}
	s.live = gen
	s.startedAt = s.now()
	consumer := s.spec.NewConsumer(gen.id)

	s.wg.Add(1)
	go s.observe(gen, consumer)
	return gen, nil
}

func (s *Supervisor) observe(gen *generation, consumer Consumer) {
	defer s.wg.Done()

	buf := make([]byte, s.spec.ReadBuffer)
	stdout := gen.proc.Stdout()
	var readErr error
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			consumer.Feed(buf[:n])
		}
		if err != nil {
			readErr = err
			break
		}
	}
	waitErr := gen.proc.Wait()
	close(gen.done)
	s.handleExit(gen, readErr, waitErr)
}

func (s *Supervisor) handleExit(gen *generation, readErr, waitErr error) {
	reason := "exited"
	if waitErr != nil {
		reason = waitErr.Error()
	}

	s.mu.Lock()
	s.lastExit = reason
	s.lastExitAt = s.now()
	if s.live != gen {
		s.mu.Unlock()
		s.logger.Debug("process exited after stop", logging.Generation(gen.id), logging.String("exit", reason))
		return
	}
	s.live = nil
	breaker := s.scheduleRestartLocked()
	s.mu.Unlock()

	attrs := []logging.Attr{
		logging.Generation(gen.id),
		logging.String("exit", reason),
		logging.Duration("restart_delay", s.spec.RestartDelay),
		logging.String(logging.FieldErrorHint, "check the stream URL and the pipeline command"),
		logging.String(logging.FieldImpact, "stream paused until restart"),
	}
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		attrs = append(attrs, logging.String("read_error", readErr.Error()))
	}
	logging.WarnWithContext(s.logger, "process exited unexpectedly", "process_crashed", attrs...)
	s.notify(Event{Name: s.spec.Name, Kind: EventCrashed, Generation: gen.id, Err: waitErr})
	if breaker {
		s.reportBreaker()
	}
}

// scheduleRestartLocked arms the restart timer, or opens the breaker and
// returns true when the restart budget is spent.
func (s *Supervisor) scheduleRestartLocked() bool {
	if s.spec.MaxRestarts > 0 {
		now := s.now()
		cutoff := now.Add(-s.spec.RestartWindow)
		kept := s.recentRestarts[:0]
		for _, ts := range s.recentRestarts {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		s.recentRestarts = kept
		if len(s.recentRestarts) >= s.spec.MaxRestarts {
			s.breakerOpen = true
			s.state = Stopped
			s.epoch++
			return true
		}
		s.recentRestarts = append(s.recentRestarts, now)
	}
	epoch := s.epoch
	s.restartTimer = time.AfterFunc(s.spec.RestartDelay, func() { s.restart(epoch) })
	return false
}

func (s *Supervisor) reportBreaker() {
	logging.ErrorWithContext(s.logger, "restart limit reached; supervisor halted", "process_breaker_open",
		logging.Int("max_restarts", s.spec.MaxRestarts),
		logging.Duration("window", s.spec.RestartWindow),
		logging.String(logging.FieldErrorHint, "fix the pipeline, then start the session again"),
		logging.String(logging.FieldImpact, "stream stays down until the next start"),
	)
	s.notify(Event{Name: s.spec.Name, Kind: EventBreakerOpen})
}

func (s *Supervisor) restart(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != Running || s.live != nil {
		s.mu.Unlock()
		return
	}
	s.restartTimer = nil
	s.restarts++
	gen, err := s.spawnLocked()
	if err != nil {
		breaker := s.scheduleRestartLocked()
		s.mu.Unlock()
		logging.WarnWithContext(s.logger, "restart failed", "process_restart_failed",
			logging.Error(err),
			logging.Duration("restart_delay", s.spec.RestartDelay),
			logging.String(logging.FieldImpact, "stream remains down; retry scheduled"),
		)
		s.notify(Event{Name: s.spec.Name, Kind: EventSpawnFailed, Err: err})
		if breaker {
			s.reportBreaker()
		}
		return
	}
	s.mu.Unlock()

	s.logger.Info("process restarted", logging.Int("pid", gen.proc.PID()), logging.Generation(gen.id))
	s.notify(Event{Name: s.spec.Name, Kind: EventRestarted, Generation: gen.id})
}

func (s *Supervisor) notify(ev Event) {
	for _, fn := range s.observers {
		fn(ev)
	}
}

// State returns the supervisor's current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Restarts returns the automatic restarts since the last explicit Start.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Status returns a snapshot for status reporting and health sampling.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Name:           s.spec.Name,
		State:          s.state.String(),
		Generation:     s.generation,
		Restarts:       s.restarts,
		RestartPending: s.restartTimer != nil,
		BreakerOpen:    s.breakerOpen,
		LastExit:       s.lastExit,
		LastExitAt:     s.lastExitAt,
	}
	if s.live != nil {
		st.PID = s.live.proc.PID()
		st.StartedAt = s.startedAt
	}
	return st
}

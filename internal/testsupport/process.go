package testsupport

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"visionedge/internal/process"
)

// LaunchCall records one Launch invocation.
type LaunchCall struct {
	Command string
	Args    []string
}

// FakeLauncher hands out FakeProcesses and records every launch.
type FakeLauncher struct {
	mu       sync.Mutex
	calls    []LaunchCall
	procs    []*FakeProcess
	failures map[int]error
	launched chan *FakeProcess
}

// NewFakeLauncher returns an empty launcher.
func NewFakeLauncher() *FakeLauncher {
	return &FakeLauncher{failures: map[int]error{}, launched: make(chan *FakeProcess, 64)}
}

// FailLaunch makes the n-th (1-based) launch return err.
func (l *FakeLauncher) FailLaunch(n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[n] = err
}

func (l *FakeLauncher) Launch(command string, args []string) (process.Process, error) {
	l.mu.Lock()
	l.calls = append(l.calls, LaunchCall{Command: command, Args: append([]string(nil), args...)})
	n := len(l.calls)
	if err := l.failures[n]; err != nil {
		l.mu.Unlock()
		return nil, err
	}
	p := NewFakeProcess(1000 + n)
	l.procs = append(l.procs, p)
	l.mu.Unlock()
	l.launched <- p
	return p, nil
}

// Calls returns a copy of recorded launches.
func (l *FakeLauncher) Calls() []LaunchCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LaunchCall(nil), l.calls...)
}

// Next waits for the next successfully launched process.
func (l *FakeLauncher) Next(t testing.TB, timeout time.Duration) *FakeProcess {
	t.Helper()
	select {
	case p := <-l.launched:
		return p
	case <-time.After(timeout):
		t.Fatalf("no process launched within %v", timeout)
		return nil
	}
}

// ExpectNoLaunch fails if a process is launched within d.
func (l *FakeLauncher) ExpectNoLaunch(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case p := <-l.launched:
		t.Fatalf("unexpected launch of pid %d", p.PID())
	case <-time.After(d):
	}
}

// FakeProcess is an in-memory subprocess whose stdout is written by the test.
type FakeProcess struct {
	pid        int
	r          *io.PipeReader
	w          *io.PipeWriter
	exited     chan struct{}
	once       sync.Once
	exitErr    error
	terminated atomic.Bool
	ignoreTerm atomic.Bool
	killed     atomic.Bool
}

// NewFakeProcess returns a running fake.
func NewFakeProcess(pid int) *FakeProcess {
	r, w := io.Pipe()
	return &FakeProcess{pid: pid, r: r, w: w, exited: make(chan struct{})}
}

// Emit writes data to stdout, blocking until the reader consumes it.
func (p *FakeProcess) Emit(data []byte) error {
	_, err := p.w.Write(data)
	return err
}

// Crash ends the process as if it died on its own.
func (p *FakeProcess) Crash(err error) {
	if err == nil {
		err = errors.New("exit status 1")
	}
	p.exit(err)
}

// IgnoreTerminate makes Terminate a no-op so Kill escalation can be observed.
func (p *FakeProcess) IgnoreTerminate() { p.ignoreTerm.Store(true) }

func (p *FakeProcess) exit(err error) {
	p.once.Do(func() {
		p.exitErr = err
		_ = p.w.Close()
		close(p.exited)
	})
}

func (p *FakeProcess) Stdout() io.Reader { return p.r }

func (p *FakeProcess) Wait() error {
	<-p.exited
	return p.exitErr
}

func (p *FakeProcess) Terminate() error {
	p.terminated.Store(true)
	if !p.ignoreTerm.Load() {
		p.exit(errors.New("signal: terminated"))
	}
	return nil
}

func (p *FakeProcess) Kill() error {
	p.killed.Store(true)
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *FakeProcess) PID() int { return p.pid }

// Terminated reports whether Terminate was called.
func (p *FakeProcess) Terminated() bool { return p.terminated.Load() }

// Killed reports whether Kill was called.
func (p *FakeProcess) Killed() bool { return p.killed.Load() }

// Done is closed once the process has exited.
func (p *FakeProcess) Done() <-chan struct{} { return p.exited }

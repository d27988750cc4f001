package process

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Process is a running subprocess as seen by the supervisor.
type Process interface {
	Stdout() io.Reader
	// Wait blocks until the process exits. It is called once, after Stdout hits EOF.
	Wait() error
	Terminate() error
	Kill() error
	PID() int
}

// Launcher starts subprocesses; tests substitute a fake.
type Launcher interface {
	Launch(command string, args []string) (Process, error)
}

// execLauncher runs commands in their own process group with stdin and
// stderr detached so only stdout reaches the parser.
type execLauncher struct{}

func (execLauncher) Launch(command string, args []string) (Process, error) {
	cmd := exec.Command(command, args...) //nolint:gosec
	cmd.Stdin = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}
	return &execProcess{cmd: cmd, stdout: stdout}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }

func (p *execProcess) Wait() error { return p.cmd.Wait() }

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

// Terminate signals the whole process group so pipeline children exit too.
func (p *execProcess) Terminate() error { return p.signalGroup(unix.SIGTERM) }

func (p *execProcess) Kill() error { return p.signalGroup(unix.SIGKILL) }

func (p *execProcess) signalGroup(sig unix.Signal) error {
	pid := p.cmd.Process.Pid
	if err := unix.Kill(-pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("signal process group %d: %w", pid, err)
	}
	return nil
}

package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"visionedge/internal/logging"
)

// NewRestarter returns a CommandRestarter when argv is set, otherwise a
// LogRestarter that records the request without acting on it.
func NewRestarter(argv []string, logger *slog.Logger) Restarter {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return LogRestarter{Logger: logger}
	}
	return &CommandRestarter{Argv: argv, Timeout: 30 * time.Second, Logger: logger}
}

// CommandRestarter runs an external command, e.g. "systemctl reboot".
type CommandRestarter struct {
	Argv    []string
	Timeout time.Duration
	Logger  *slog.Logger
}

func (r *CommandRestarter) RestartDevice(ctx context.Context, reason string) error {
	if len(r.Argv) == 0 {
		return errors.New("restart command not configured")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	logger := logging.NewComponentLogger(r.Logger, "device-restart")
	logger.Info("running device restart command",
		logging.String("command", strings.Join(r.Argv, " ")),
		logging.String("reason", reason),
	)
	cmd := exec.CommandContext(ctx, r.Argv[0], r.Argv[1:]...) //nolint:gosec
	cmd.Env = append(cmd.Environ(), "VISIONEDGE_RESTART_REASON="+reason)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %s: %w (output: %s)", r.Argv[0], err, strings.TrimSpace(string(output)))
	}
	return nil
}

// LogRestarter only logs the request.
type LogRestarter struct {
	Logger *slog.Logger
}

func (r LogRestarter) RestartDevice(_ context.Context, reason string) error {
	logging.WarnWithContext(logging.NewComponentLogger(r.Logger, "device-restart"),
		"device restart requested but no restart command is configured", "device_restart_skipped",
		logging.String("reason", reason),
		logging.String(logging.FieldErrorHint, "set health.restart_command to act on escalations"),
		logging.String(logging.FieldImpact, "device keeps running in a degraded state"),
	)
	return nil
}

package main

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"visionedge/internal/deps"
	"visionedge/internal/health"
	"visionedge/internal/process"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

var statusStyles = [...]struct{ tag, color string }{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

func (k statusKind) style() (tag, color string) {
	if k < 0 || int(k) >= len(statusStyles) {
		k = statusInfo
	}
	return statusStyles[k].tag, statusStyles[k].color
}

// labelColumn pads labels so the [TAG] column lines up.
const labelColumn = 20

// renderStatusLine formats "  Label:   [TAG] message", coloured as a whole
// when colorize is set.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	tag, color := kind.style()
	line := fmt.Sprintf("  %-*s [%s]", labelColumn, label+":", tag)
	if message != "" {
		line += " " + message
	}
	if !colorize {
		return line
	}
	return color + line + ansiReset
}

func statusKindFromHealth(code health.Code) statusKind {
	switch code {
	case health.Good:
		return statusOK
	case health.Warning:
		return statusWarn
	default:
		return statusError
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	heading := "== " + strings.TrimSpace(title) + " =="
	lines := []string{heading, strings.Repeat("-", len(heading))}
	if colorize {
		for i := range lines {
			lines[i] = ansiBlue + lines[i] + ansiReset
		}
	}
	return lines
}

// streamLine summarizes one supervised subprocess.
func streamLine(label string, st process.Status, colorize bool) string {
	if st.State != process.Running.String() {
		detail := "Stopped"
		if st.LastExit != "" {
			detail = fmt.Sprintf("Stopped (last exit: %s)", st.LastExit)
		}
		return renderStatusLine(label, statusInfo, detail, colorize)
	}
	detail := fmt.Sprintf("Running (pid %d, generation %d, restarts %d)", st.PID, st.Generation, st.Restarts)
	switch {
	case st.BreakerOpen:
		return renderStatusLine(label, statusError, fmt.Sprintf("Restart breaker open after %d restarts (last exit: %s)", st.Restarts, st.LastExit), colorize)
	case st.RestartPending:
		return renderStatusLine(label, statusWarn, fmt.Sprintf("Restart pending (last exit: %s)", st.LastExit), colorize)
	case st.Restarts > 0:
		return renderStatusLine(label, statusWarn, detail, colorize)
	default:
		return renderStatusLine(label, statusOK, detail, colorize)
	}
}

func dependencyLines(statuses []deps.Status, colorize bool) []string {
	lines := make([]string, 0, len(statuses)+1)
	for _, dep := range statuses {
		if dep.Available {
			lines = append(lines, renderStatusLine(dep.Name, statusOK, fmt.Sprintf("Ready (command: %s)", dep.Command), colorize))
			continue
		}
		kind, detail := statusError, cmp.Or(strings.TrimSpace(dep.Detail), "not available")
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	if missing := deps.Missing(statuses); len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing dependencies", statusError, strings.Join(missing, ", "), colorize))
	}
	return lines
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

// shouldColorize reports whether w is an interactive terminal.
func shouldColorize(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

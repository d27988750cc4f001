package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"visionedge/internal/config"
)

// Requirement defines an external binary the daemon relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// Requirements lists the binaries the configured streams and restart hook exec.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	reqs := []Requirement{
		{Name: "Detection pipeline", Command: cfg.Streams.DetectionCommand, Description: "emits detection metadata"},
		{Name: "Video pipeline", Command: cfg.Streams.VideoCommand, Description: "emits MJPEG frames", Optional: true},
	}
	if len(cfg.Health.RestartCommand) > 0 {
		reqs = append(reqs, Requirement{
			Name:        "Restart hook",
			Command:     cfg.Health.RestartCommand[0],
			Description: "device restart on sustained degradation",
			Optional:    true,
		})
	}
	return reqs
}

// CheckBinaries resolves each requirement's command on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, len(requirements))
	for i, req := range requirements {
		results[i] = probe(req)
	}
	return results
}

func probe(req Requirement) Status {
	st := Status{
		Name:        req.Name,
		Command:     strings.TrimSpace(req.Command),
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	switch _, err := exec.LookPath(st.Command); {
	case st.Command == "":
		st.Detail = "command not configured"
	case err != nil:
		st.Detail = fmt.Sprintf("binary %q not found", st.Command)
	default:
		st.Available = true
	}
	return st
}

// Check evaluates Requirements(cfg).
func Check(cfg *config.Config) []Status {
	return CheckBinaries(Requirements(cfg))
}

// Missing returns the names of unavailable required dependencies.
func Missing(statuses []Status) []string {
	var names []string
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			names = append(names, s.Name)
		}
	}
	return names
}

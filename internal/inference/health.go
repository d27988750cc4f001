package inference

import (
	"visionedge/internal/health"
	"visionedge/internal/process"
)

// VideoHealth maps the video supervisor's condition onto a health code.
// Repeated restarts beyond the threshold are Critical.
func (c *Coordinator) VideoHealth() health.Code {
	return c.streamHealth(c.video.Status(), c.cfg.Health.VideoRestartThreshold, health.Critical)
}

// DetectionHealth maps the detection supervisor's condition onto a health code.
func (c *Coordinator) DetectionHealth() health.Code {
	return c.streamHealth(c.detection.Status(), c.cfg.Health.DetectionRestartThreshold, health.Warning)
}

func (c *Coordinator) streamHealth(st process.Status, threshold int, overThreshold health.Code) health.Code {
	if !c.Running() {
		return health.Good
	}
	switch {
	case st.BreakerOpen:
		return health.Critical
	case threshold > 0 && st.Restarts > threshold:
		return overThreshold
	case st.RestartPending, st.State != process.Running.String():
		return health.Warning
	default:
		return health.Good
	}
}

// HealthSources returns the per-stream sources for a health.Tracker.
func (c *Coordinator) HealthSources() []health.Source {
	return []health.Source{
		health.SourceFunc(StreamVideo, c.VideoHealth),
		health.SourceFunc(StreamDetection, c.DetectionHealth),
	}
}

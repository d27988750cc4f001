package ipc

import (
	"visionedge/internal/daemon"
	"visionedge/internal/health"
	"visionedge/internal/inference"
	"visionedge/internal/journal"
)

// StartRequest starts an inference session. Empty URLs use the configured ones.
type StartRequest struct {
	DataURL  string `json:"data_url"`
	VideoURL string `json:"video_url"`
}

// StartResponse reports the session outcome. Started is false when the
// detection stream failed; Message carries the reason.
type StartResponse struct {
	Started bool                  `json:"started"`
	Message string                `json:"message"`
	Result  inference.StartResult `json:"result"`
}

// StopRequest stops the inference session.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse wraps the daemon status snapshot.
type StatusResponse struct {
	daemon.Status
}

// ApplySettingRequest changes one runtime setting.
type ApplySettingRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ApplySettingResponse acknowledges the change.
type ApplySettingResponse struct {
	Result inference.SettingResult `json:"result"`
}

// HealthRequest fetches health. Check runs an escalation-tracking sample
// instead of reading the live code.
type HealthRequest struct {
	Check bool `json:"check"`
}

// HealthResponse reports the current code and the latest tracked sample.
type HealthResponse struct {
	Code   health.Code   `json:"code"`
	Report health.Report `json:"report"`
}

// HistoryRequest lists journaled packets, newest first.
type HistoryRequest struct {
	Limit     int  `json:"limit"`
	WithFrame bool `json:"with_frame"`
}

// HistoryResponse contains journal entries.
type HistoryResponse struct {
	Entries []journal.Entry `json:"entries"`
}

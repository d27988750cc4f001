package inference

import (
	"context"
	"errors"
	"time"

	"visionedge/internal/process"
)

// Stream names used for supervisors, logs, and health sources.
const (
	StreamDetection = "detection"
	StreamVideo     = "video"
)

// NegativeClass is the pipeline's label for "nothing detected".
const NegativeClass = "Negative"

var (
	// ErrDetectionStart wraps the detection supervisor's spawn failure.
	ErrDetectionStart = errors.New("detection stream failed to start")
	// ErrAlreadyRunning is returned by Start during an active session.
	ErrAlreadyRunning = errors.New("inference session already running")
	// ErrMissingURL is returned when a stream URL is empty.
	ErrMissingURL = errors.New("stream url required")
)

// SequencedDetection is a surviving object stamped with its sequence number.
type SequencedDetection struct {
	Seq         uint64  `json:"seq"`
	ID          int     `json:"id"`
	DisplayName string  `json:"display_name"`
	Confidence  float64 `json:"confidence"`
}

// Packet is what gets published to the inference topic.
type Packet struct {
	Timestamp       time.Time            `json:"ts"`
	SessionID       string               `json:"session_id,omitempty"`
	Detections      []SequencedDetection `json:"detections"`
	Frame           []byte               `json:"frame,omitempty"`
	FrameCapturedAt time.Time            `json:"frame_captured_at,omitzero"`
}

// Publisher delivers packets to a pub/sub topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, pkt Packet) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, topic string, pkt Packet) error

func (f PublisherFunc) Publish(ctx context.Context, topic string, pkt Packet) error {
	return f(ctx, topic, pkt)
}

// Settings are the runtime-adjustable filtering parameters.
type Settings struct {
	ConfidenceThreshold int    `json:"confidence_threshold"`
	DetectClass         string `json:"detect_class"`
}

// Setting names accepted by ApplySetting.
const (
	SettingConfidenceThreshold = "confidenceThreshold"
	SettingDetectClass         = "detectClass"
)

// Setting result statuses.
const (
	SettingCompleted = "completed"
	SettingError     = "error"
)

// SettingResult acknowledges an ApplySetting call.
type SettingResult struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the setting was applied.
func (r SettingResult) OK() bool { return r.Status == SettingCompleted }

// StartResult describes what Start brought up.
type StartResult struct {
	SessionID    string `json:"session_id"`
	VideoStarted bool   `json:"video_started"`
	VideoError   string `json:"video_error,omitempty"`
}

// Status is a snapshot of the coordinator.
type Status struct {
	Running         bool           `json:"running"`
	SessionID       string         `json:"session_id,omitempty"`
	StartedAt       time.Time      `json:"started_at,omitzero"`
	Settings        Settings       `json:"settings"`
	Detection       process.Status `json:"detection"`
	Video           process.Status `json:"video"`
	NextSequence    uint64         `json:"next_sequence"`
	Events          uint64         `json:"events"`
	Published       uint64         `json:"published"`
	PublishFailures uint64         `json:"publish_failures"`
	WithoutFrame    uint64         `json:"without_frame"`
	QueueDropped    uint64         `json:"queue_dropped"`
	Frames          uint64         `json:"frames"`
	LastFrameAt     time.Time      `json:"last_frame_at,omitzero"`
	QueueDepth      int            `json:"queue_depth"`
}

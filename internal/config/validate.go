package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStreams(); err != nil {
		return err
	}
	if err := c.validateSupervisor(); err != nil {
		return err
	}
	if err := c.validateParsers(); err != nil {
		return err
	}
	if err := c.validateInference(); err != nil {
		return err
	}
	if err := c.validateHealth(); err != nil {
		return err
	}
	if err := c.validateMQTT(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStreams() error {
	if c.Streams.DetectionCommand == "" {
		return errors.New("streams.detection_command must be set")
	}
	if c.Streams.VideoCommand == "" {
		return errors.New("streams.video_command must be set")
	}
	if !containsPlaceholder(c.Streams.DetectionArgs, c.Streams.URLPlaceholder) {
		return fmt.Errorf("streams.detection_args must contain the %s placeholder", c.Streams.URLPlaceholder)
	}
	if !containsPlaceholder(c.Streams.VideoArgs, c.Streams.URLPlaceholder) {
		return fmt.Errorf("streams.video_args must contain the %s placeholder", c.Streams.URLPlaceholder)
	}
	if c.Streams.Autostart && (c.Streams.DataURL == "" || c.Streams.VideoURL == "") {
		return errors.New("streams.autostart requires data_url and video_url (or VISIONEDGE_DATA_URL / VISIONEDGE_VIDEO_URL)")
	}
	return nil
}

func containsPlaceholder(args []string, placeholder string) bool {
	for _, arg := range args {
		if strings.Contains(arg, placeholder) {
			return true
		}
	}
	return false
}

func (c *Config) validateSupervisor() error {
	if c.Supervisor.DetectionRestartDelay <= 0 {
		return errors.New("supervisor.detection_restart_delay must be positive")
	}
	if c.Supervisor.VideoRestartDelay <= 0 {
		return errors.New("supervisor.video_restart_delay must be positive")
	}
	if c.Supervisor.StopGracePeriod < 0 {
		return errors.New("supervisor.stop_grace_period must be >= 0")
	}
	if c.Supervisor.MaxRestarts < 0 {
		return errors.New("supervisor.max_restarts must be >= 0")
	}
	if c.Supervisor.MaxRestarts > 0 && c.Supervisor.RestartWindow <= 0 {
		return errors.New("supervisor.restart_window must be positive when max_restarts is set")
	}
	return nil
}

func (c *Config) validateParsers() error {
	if _, err := regexp.Compile(c.Detection.TerminatorPattern); err != nil {
		return fmt.Errorf("detection.terminator_pattern: %w", err)
	}
	if c.Detection.PayloadWidth <= 0 {
		return errors.New("detection.payload_width must be positive")
	}
	if c.Detection.MaxMessageBytes <= 0 {
		return errors.New("detection.max_message_bytes must be positive")
	}
	if c.MJPEG.HeaderSkip < 0 {
		return errors.New("mjpeg.header_skip must be >= 0")
	}
	if c.MJPEG.MaxPendingBytes <= c.MJPEG.HeaderSkip {
		return errors.New("mjpeg.max_pending_bytes must exceed mjpeg.header_skip")
	}
	return nil
}

func (c *Config) validateInference() error {
	if c.Inference.ConfidenceThreshold < 0 || c.Inference.ConfidenceThreshold > 100 {
		return errors.New("inference.confidence_threshold must be between 0 and 100")
	}
	if c.Inference.FrameWaitTimeout <= 0 {
		return errors.New("inference.frame_wait_timeout must be positive")
	}
	if c.Inference.PublishQueueSize <= 0 {
		return errors.New("inference.publish_queue_size must be positive")
	}
	return nil
}

func (c *Config) validateHealth() error {
	if c.Health.EscalationWindow <= 0 {
		return errors.New("health.escalation_window must be positive")
	}
	if c.Health.EscalationStreak <= 0 {
		return errors.New("health.escalation_streak must be positive")
	}
	if c.Health.VideoRestartThreshold < 0 || c.Health.DetectionRestartThreshold < 0 {
		return errors.New("health restart thresholds must be >= 0")
	}
	if c.Health.DebugInterval < 0 {
		return errors.New("health.debug_interval must be >= 0")
	}
	return nil
}

func (c *Config) validateMQTT() error {
	if !c.MQTT.Enabled {
		return nil
	}
	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	if c.MQTT.InferenceTopic == "" {
		return errors.New("mqtt.inference_topic must be set")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return errors.New("mqtt.qos must be 0, 1, or 2")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

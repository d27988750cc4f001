package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStreams()
	c.normalizeInference()
	c.normalizeMQTT()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.MetricsBind = strings.TrimSpace(c.Paths.MetricsBind)
	return nil
}

func (c *Config) normalizeStreams() {
	if value, ok := os.LookupEnv("VISIONEDGE_DATA_URL"); ok && strings.TrimSpace(value) != "" {
		c.Streams.DataURL = value
	}
	if value, ok := os.LookupEnv("VISIONEDGE_VIDEO_URL"); ok && strings.TrimSpace(value) != "" {
		c.Streams.VideoURL = value
	}
	c.Streams.DataURL = strings.TrimSpace(c.Streams.DataURL)
	c.Streams.VideoURL = strings.TrimSpace(c.Streams.VideoURL)
	c.Streams.DetectionCommand = strings.TrimSpace(c.Streams.DetectionCommand)
	c.Streams.VideoCommand = strings.TrimSpace(c.Streams.VideoCommand)
	if c.Streams.URLPlaceholder == "" {
		c.Streams.URLPlaceholder = DefaultURLPlaceholder
	}
}

func (c *Config) normalizeInference() {
	c.Inference.DetectClass = strings.TrimSpace(c.Inference.DetectClass)
	if c.Inference.DetectClass == "" {
		c.Inference.DetectClass = DefaultDetectClass
	}
	if c.Detection.HeaderMarker == "" {
		c.Detection.HeaderMarker = DefaultHeaderMarker
	}
	if c.Detection.TerminatorPattern == "" {
		c.Detection.TerminatorPattern = DefaultTerminatorPattern
	}
}

func (c *Config) normalizeMQTT() {
	if value, ok := os.LookupEnv("VISIONEDGE_MQTT_PASSWORD"); ok {
		c.MQTT.Password = value
	}
	c.MQTT.Broker = strings.TrimSpace(c.MQTT.Broker)
	c.MQTT.ClientID = strings.TrimSpace(c.MQTT.ClientID)
	c.MQTT.InferenceTopic = strings.Trim(strings.TrimSpace(c.MQTT.InferenceTopic), "/")
	c.MQTT.TelemetryTopic = strings.Trim(strings.TrimSpace(c.MQTT.TelemetryTopic), "/")
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = "console"
	}
	c.Logging.Format = format
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = "info"
	}
	c.Logging.Level = level
}

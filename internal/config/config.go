package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
	MetricsBind string `toml:"metrics_bind"`
}

// Streams describes the two external media pipelines and the URLs fed to them.
type Streams struct {
	DataURL          string   `toml:"data_url"`
	VideoURL         string   `toml:"video_url"`
	Autostart        bool     `toml:"autostart"`
	URLPlaceholder   string   `toml:"url_placeholder"`
	DetectionCommand string   `toml:"detection_command"`
	DetectionArgs    []string `toml:"detection_args"`
	VideoCommand     string   `toml:"video_command"`
	VideoArgs        []string `toml:"video_args"`
}

// Supervisor contains restart timing for the stream subprocesses.
type Supervisor struct {
	DetectionRestartDelay int `toml:"detection_restart_delay"` // seconds
	VideoRestartDelay     int `toml:"video_restart_delay"`     // seconds
	StopGracePeriod       int `toml:"stop_grace_period"`       // seconds
	// MaxRestarts caps automatic restarts inside RestartWindow; 0 disables the breaker.
	MaxRestarts   int `toml:"max_restarts"`
	RestartWindow int `toml:"restart_window"` // seconds
}

// Detection configures the text detection stream parser.
type Detection struct {
	HeaderMarker      string `toml:"header_marker"`
	TerminatorPattern string `toml:"terminator_pattern"`
	PayloadWidth      int    `toml:"payload_width"`
	MaxMessageBytes   int    `toml:"max_message_bytes"`
}

// MJPEG configures the binary frame parser.
type MJPEG struct {
	HeaderSkip      int  `toml:"header_skip"`
	MaxPendingBytes int  `toml:"max_pending_bytes"`
	SOILookback     bool `toml:"soi_lookback"`
}

// Inference holds the runtime-adjustable filtering settings.
type Inference struct {
	ConfidenceThreshold int    `toml:"confidence_threshold"`
	DetectClass         string `toml:"detect_class"`
	FrameWaitTimeout    int    `toml:"frame_wait_timeout"` // milliseconds
	PublishQueueSize    int    `toml:"publish_queue_size"`
}

// Health configures subsystem health sampling and device restart escalation.
type Health struct {
	VideoRestartThreshold     int      `toml:"video_restart_threshold"`
	DetectionRestartThreshold int      `toml:"detection_restart_threshold"`
	EscalationWindow          int      `toml:"escalation_window"` // seconds
	EscalationStreak          int      `toml:"escalation_streak"`
	DebugInterval             int      `toml:"debug_interval"` // seconds, 0 disables
	RestartCommand            []string `toml:"restart_command"`
}

// MQTT configures the broker used for the inference topic and telemetry.
type MQTT struct {
	Enabled        bool   `toml:"enabled"`
	Broker         string `toml:"broker"`
	ClientID       string `toml:"client_id"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TopicPrefix    string `toml:"topic_prefix"`
	InferenceTopic string `toml:"inference_topic"`
	TelemetryTopic string `toml:"telemetry_topic"`
	QoS            int    `toml:"qos"`
	ConnectTimeout int    `toml:"connect_timeout"` // seconds
}

// Journal configures the SQLite record of published packets.
type Journal struct {
	Enabled    bool `toml:"enabled"`
	StoreFrame bool `toml:"store_frame"`
	MaxEntries int  `toml:"max_entries"`
}

// Feed configures the in-memory packet hub and websocket feed.
type Feed struct {
	BufferSize int `toml:"buffer_size"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for visionedge.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories and the HTTP bind address
//   - Streams: subprocess command templates and stream URLs
//   - Supervisor: restart delays and the restart breaker
//   - Detection, MJPEG: parser framing constants
//   - Inference: filtering threshold, target class, correlation timeout
//   - Health: health thresholds and device restart escalation
//   - MQTT, Journal, Feed: packet and telemetry sinks
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Streams    Streams    `toml:"streams"`
	Supervisor Supervisor `toml:"supervisor"`
	Detection  Detection  `toml:"detection"`
	MJPEG      MJPEG      `toml:"mjpeg"`
	Inference  Inference  `toml:"inference"`
	Health     Health     `toml:"health"`
	MQTT       MQTT       `toml:"mqtt"`
	Journal    Journal    `toml:"journal"`
	Feed       Feed       `toml:"feed"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/visionedge/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		if err := decodeFile(resolvedPath, &cfg); err != nil {
			return nil, "", false, err
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("parse config: %s", strict.String())
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("visionedge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the IPC socket location.
func (c *Config) SocketPath() string { return filepath.Join(c.Paths.StateDir, "visionedge.sock") }

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string { return filepath.Join(c.Paths.StateDir, "visionedge.lock") }

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string { return filepath.Join(c.Paths.StateDir, "visionedge.pid") }

// JournalPath returns the packet journal database location.
func (c *Config) JournalPath() string { return filepath.Join(c.Paths.StateDir, "journal.db") }

func (s Supervisor) DetectionDelay() time.Duration {
	return time.Duration(s.DetectionRestartDelay) * time.Second
}

func (s Supervisor) VideoDelay() time.Duration {
	return time.Duration(s.VideoRestartDelay) * time.Second
}

func (s Supervisor) GracePeriod() time.Duration {
	return time.Duration(s.StopGracePeriod) * time.Second
}

func (s Supervisor) Window() time.Duration {
	return time.Duration(s.RestartWindow) * time.Second
}

func (i Inference) FrameWait() time.Duration {
	return time.Duration(i.FrameWaitTimeout) * time.Millisecond
}

func (h Health) Window() time.Duration {
	return time.Duration(h.EscalationWindow) * time.Second
}

func (h Health) DebugTick() time.Duration {
	return time.Duration(h.DebugInterval) * time.Second
}

func (m MQTT) Timeout() time.Duration {
	return time.Duration(m.ConnectTimeout) * time.Second
}

// Topic joins the configured prefix with name.
func (m MQTT) Topic(name string) string {
	prefix := strings.Trim(m.TopicPrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

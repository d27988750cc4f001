package config

const (
	defaultStateDir    = "~/.local/state/visionedge"
	defaultLogDir      = "~/.local/share/visionedge/logs"
	defaultMetricsBind = "127.0.0.1:9464"

	// DefaultURLPlaceholder is substituted with the stream URL in command arguments.
	DefaultURLPlaceholder = "{url}"

	// DefaultHeaderMarker opens a detection message in the pipeline output.
	DefaultHeaderMarker = `{"objects":`
	// DefaultTerminatorPattern matches the zero-filled line closing a detection message.
	DefaultTerminatorPattern = `^0{4,}`
	DefaultPayloadWidth      = 64
	DefaultMaxMessageBytes   = 1 << 20

	// DefaultHeaderSkip is the JPEG header length skipped before searching for EOI.
	DefaultHeaderSkip      = 600
	DefaultMaxPendingBytes = 8 << 20

	DefaultConfidenceThreshold = 70
	DefaultDetectClass         = "person"
	DefaultFrameWaitTimeoutMS  = 5000
	defaultPublishQueueSize    = 32

	defaultDetectionRestartDelay = 5
	defaultVideoRestartDelay     = 10
	defaultStopGracePeriod       = 3
	defaultMaxRestarts           = 30
	defaultRestartWindow         = 600

	defaultVideoRestartThreshold     = 5
	defaultDetectionRestartThreshold = 5
	defaultEscalationWindow          = 60
	defaultEscalationStreak          = 3

	defaultMQTTBroker         = "tcp://127.0.0.1:1883"
	defaultMQTTClientID       = "visionedge"
	defaultMQTTTopicPrefix    = "visionedge"
	defaultMQTTInferenceTopic = "inference"
	defaultMQTTTelemetryTopic = "telemetry"
	defaultMQTTConnectTimeout = 10

	defaultJournalMaxEntries = 10000
	defaultFeedBufferSize    = 256
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
			MetricsBind: defaultMetricsBind,
		},
		Streams: Streams{
			URLPlaceholder:   DefaultURLPlaceholder,
			DetectionCommand: "gst-launch-1.0",
			DetectionArgs: []string{
				"-q", "rtspsrc", "location={url}", "!", "application/x-rtp,media=application",
				"!", "rtpgstpay", "!", "fdsink", "fd=1",
			},
			VideoCommand: "ffmpeg",
			VideoArgs: []string{
				"-loglevel", "error", "-rtsp_transport", "tcp", "-i", "{url}",
				"-f", "mjpeg", "-q:v", "5", "-r", "5", "pipe:1",
			},
		},
		Supervisor: Supervisor{
			DetectionRestartDelay: defaultDetectionRestartDelay,
			VideoRestartDelay:     defaultVideoRestartDelay,
			StopGracePeriod:       defaultStopGracePeriod,
			MaxRestarts:           defaultMaxRestarts,
			RestartWindow:         defaultRestartWindow,
		},
		Detection: Detection{
			HeaderMarker:      DefaultHeaderMarker,
			TerminatorPattern: DefaultTerminatorPattern,
			PayloadWidth:      DefaultPayloadWidth,
			MaxMessageBytes:   DefaultMaxMessageBytes,
		},
		MJPEG: MJPEG{
			HeaderSkip:      DefaultHeaderSkip,
			MaxPendingBytes: DefaultMaxPendingBytes,
		},
		Inference: Inference{
			ConfidenceThreshold: DefaultConfidenceThreshold,
			DetectClass:         DefaultDetectClass,
			FrameWaitTimeout:    DefaultFrameWaitTimeoutMS,
			PublishQueueSize:    defaultPublishQueueSize,
		},
		Health: Health{
			VideoRestartThreshold:     defaultVideoRestartThreshold,
			DetectionRestartThreshold: defaultDetectionRestartThreshold,
			EscalationWindow:          defaultEscalationWindow,
			EscalationStreak:          defaultEscalationStreak,
		},
		MQTT: MQTT{
			Broker:         defaultMQTTBroker,
			ClientID:       defaultMQTTClientID,
			TopicPrefix:    defaultMQTTTopicPrefix,
			InferenceTopic: defaultMQTTInferenceTopic,
			TelemetryTopic: defaultMQTTTelemetryTopic,
			ConnectTimeout: defaultMQTTConnectTimeout,
		},
		Journal: Journal{
			Enabled:    true,
			MaxEntries: defaultJournalMaxEntries,
		},
		Feed: Feed{
			BufferSize: defaultFeedBufferSize,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}

package inference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"visionedge/internal/config"
	"visionedge/internal/detection"
	"visionedge/internal/logging"
	"visionedge/internal/mjpeg"
	"visionedge/internal/process"
	"visionedge/internal/telemetry"
)

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	launcher  process.Launcher
	logger    *slog.Logger
	observers []func(process.Event)
	onFrame   func(mjpeg.Frame)
}

// WithLauncher injects the subprocess launcher for both streams (primarily for tests).
func WithLauncher(l process.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithProcessObserver receives lifecycle events from both supervisors.
func WithProcessObserver(fn func(process.Event)) Option {
	return func(o *options) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// WithFrameObserver is called on the video reader goroutine for every frame.
func WithFrameObserver(fn func(mjpeg.Frame)) Option {
	return func(o *options) { o.onFrame = fn }
}

type batch struct {
	sessionID  string
	detections []SequencedDetection
	receivedAt time.Time
	waiter     chan mjpeg.Frame
}

// Coordinator runs one inference session at a time.
type Coordinator struct {
	cfg       *config.Config
	publisher Publisher
	telemetry telemetry.Sender
	logger    *slog.Logger
	onFrame   func(mjpeg.Frame)

	detection *process.Supervisor
	video     *process.Supervisor

	settingsMu sync.RWMutex
	settings   Settings

	seq    atomic.Uint64
	frames frameSlot
	queue  chan batch

	mu        sync.Mutex
	running   bool
	sessionID string
	startedAt time.Time

	events          atomic.Uint64
	published       atomic.Uint64
	publishFailures atomic.Uint64
	withoutFrame    atomic.Uint64
	queueDropped    atomic.Uint64
	frameCount      atomic.Uint64
	lastFrameAt     atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New builds a coordinator from cfg. publisher and sender may be nil.
func New(cfg *config.Config, publisher Publisher, sender telemetry.Sender, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("inference: config required")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if publisher == nil {
		publisher = PublisherFunc(func(context.Context, string, Packet) error { return nil })
	}
	if sender == nil {
		sender = telemetry.Nop{}
	}

	detOpts := detection.OptionsFromConfig(cfg.Detection)
	if _, err := detection.NewParser(detOpts, nil, nil); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	frameOpts := mjpeg.OptionsFromConfig(cfg.MJPEG)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:       cfg,
		publisher: publisher,
		telemetry: sender,
		logger:    logging.NewComponentLogger(o.logger, "inference"),
		onFrame:   o.onFrame,
		settings: Settings{
			ConfidenceThreshold: cfg.Inference.ConfidenceThreshold,
			DetectClass:         cfg.Inference.DetectClass,
		},
		queue:  make(chan batch, max(cfg.Inference.PublishQueueSize, 1)),
		ctx:    ctx,
		cancel: cancel,
	}

	supOpts := []process.Option{process.WithLogger(o.logger)}
	if o.launcher != nil {
		supOpts = append(supOpts, process.WithLauncher(o.launcher))
	}
	for _, fn := range o.observers {
		supOpts = append(supOpts, process.WithObserver(fn))
	}

	var err error
	c.detection, err = process.New(process.Spec{
		Name:          StreamDetection,
		Command:       cfg.Streams.DetectionCommand,
		Args:          cfg.Streams.DetectionArgs,
		Placeholder:   cfg.Streams.URLPlaceholder,
		RestartDelay:  cfg.Supervisor.DetectionDelay(),
		GracePeriod:   cfg.Supervisor.GracePeriod(),
		MaxRestarts:   cfg.Supervisor.MaxRestarts,
		RestartWindow: cfg.Supervisor.Window(),
		NewConsumer: func(gen uint64) process.Consumer {
			logger := c.streamLogger(StreamDetection, gen)
			parser, _ := detection.NewParser(detOpts, c.handleDetection, logger)
			return parser
		},
	}, supOpts...)
	if err != nil {
		cancel()
		return nil, err
	}
	c.video, err = process.New(process.Spec{
		Name:          StreamVideo,
		Command:       cfg.Streams.VideoCommand,
		Args:          cfg.Streams.VideoArgs,
		Placeholder:   cfg.Streams.URLPlaceholder,
		RestartDelay:  cfg.Supervisor.VideoDelay(),
		GracePeriod:   cfg.Supervisor.GracePeriod(),
		MaxRestarts:   cfg.Supervisor.MaxRestarts,
		RestartWindow: cfg.Supervisor.Window(),
		NewConsumer: func(gen uint64) process.Consumer {
			return mjpeg.NewParser(frameOpts, c.handleFrame, c.streamLogger(StreamVideo, gen))
		},
	}, supOpts...)
	if err != nil {
		cancel()
		return nil, err
	}

	c.wg.Add(1)
	go c.publishLoop()
	return c, nil
}

func (c *Coordinator) streamLogger(stream string, gen uint64) *slog.Logger {
	return logging.StreamLogger(c.logger, stream, gen)
}

// Start brings up the detection stream, then the video stream. Only the
// detection stream gates the result; a video start failure is logged and
// reported in StartResult while the session continues without frames.
func (c *Coordinator) Start(ctx context.Context, dataURL, videoURL string) (StartResult, error) {
	dataURL = strings.TrimSpace(dataURL)
	videoURL = strings.TrimSpace(videoURL)
	if dataURL == "" || videoURL == "" {
		return StartResult{}, ErrMissingURL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return StartResult{}, fmt.Errorf("inference: coordinator closed")
	}
	if c.running {
		return StartResult{}, ErrAlreadyRunning
	}

	sessionID := uuid.NewString()
	logger := logging.WithContext(logging.WithSessionID(ctx, sessionID), c.logger)

	if err := c.detection.Start(dataURL); err != nil {
		// Detection gates the session, so its retry is cancelled.
		c.detection.Stop()
		logging.ErrorWithContext(logger, "detection stream failed to start", "session_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check streams.detection_command and the data URL"),
		)
		return StartResult{}, fmt.Errorf("%w: %w", ErrDetectionStart, err)
	}

	result := StartResult{SessionID: sessionID, VideoStarted: true}
	if err := c.video.Start(videoURL); err != nil {
		result.VideoStarted = false
		result.VideoError = err.Error()
		logging.WarnWithContext(logger, "video stream failed to start; continuing without frames", "video_start_failed",
			logging.Error(err),
			logging.Duration("retry_in", c.cfg.Supervisor.VideoDelay()),
			logging.String(logging.FieldErrorHint, "check streams.video_command and the video URL"),
			logging.String(logging.FieldImpact, "packets are published without frame bytes until the retry succeeds"),
		)
	}

	c.running = true
	c.sessionID = sessionID
	c.startedAt = time.Now()
	logger.Info("inference session started",
		logging.String("data_url", dataURL),
		logging.String("video_url", videoURL),
		logging.Bool("video_started", result.VideoStarted),
	)
	return result, nil
}

// Stop ends the session. Calling it without an active session is a no-op.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detection.Stop()
	c.video.Stop()
	if !c.running {
		return
	}
	c.running = false
	c.logger.Info("inference session stopped", logging.Session(c.sessionID))
	c.sessionID = ""
}

// Close stops the session, drains the publish worker, and waits for readers.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.Stop()
	c.detection.Wait()
	c.video.Wait()
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Coordinator) currentSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// handleDetection runs on the detection reader goroutine and never waits for frames.
func (c *Coordinator) handleDetection(ev detection.Event) {
	c.events.Add(1)
	settings := c.Settings()
	logger := logging.StreamLogger(c.logger, StreamDetection, 0)

	for _, obj := range ev.Objects {
		logger.Info("detection",
			logging.Int("object_id", obj.ID),
			logging.String("class", obj.DisplayName),
			logging.Float64("confidence", obj.Confidence),
		)
	}

	kept := Filter(ev.Objects, settings.ConfidenceThreshold)
	if len(kept) == 0 {
		return
	}

	dets := make([]SequencedDetection, len(kept))
	for i, obj := range kept {
		dets[i] = SequencedDetection{
			Seq:         c.seq.Add(1),
			ID:          obj.ID,
			DisplayName: obj.DisplayName,
			Confidence:  obj.Confidence,
		}
	}

	receivedAt := ev.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	b := batch{
		sessionID:  c.currentSession(),
		detections: dets,
		receivedAt: receivedAt,
		waiter:     c.frames.await(),
	}

	c.sendTelemetry(dets, settings.DetectClass)

	select {
	case c.queue <- b:
	default:
		c.frames.cancel(b.waiter)
		c.queueDropped.Add(1)
		logging.WarnWithContext(logger, "publish queue full; dropping detection batch", "publish_queue_full",
			logging.Int("detections", len(dets)),
			logging.Uint64("first_seq", dets[0].Seq),
			logging.String(logging.FieldErrorHint, "check publisher latency or raise inference.publish_queue_size"),
			logging.String(logging.FieldImpact, "one detection batch not published"),
		)
	}
}

// handleFrame runs on the video reader goroutine.
func (c *Coordinator) handleFrame(f mjpeg.Frame) {
	c.frameCount.Add(1)
	c.lastFrameAt.Store(f.CapturedAt.UnixNano())
	c.frames.deliver(f)
	if c.onFrame != nil {
		c.onFrame(f)
	}
}

func (c *Coordinator) publishLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case b := <-c.queue:
			c.publishBatch(b)
		}
	}
}

func (c *Coordinator) publishBatch(b batch) {
	frame, ok := c.waitForFrame(b)
	if !ok {
		c.withoutFrame.Add(1)
		c.logger.Debug("no frame within wait timeout; publishing without frame",
			logging.Uint64("first_seq", b.detections[0].Seq),
			logging.Duration("timeout", c.cfg.Inference.FrameWait()),
		)
	}

	pkt := Packet{
		Timestamp:       time.Now(),
		SessionID:       b.sessionID,
		Detections:      b.detections,
		Frame:           frame.Data,
		FrameCapturedAt: frame.CapturedAt,
	}
	topic := c.cfg.MQTT.InferenceTopic
	if err := c.publisher.Publish(c.ctx, topic, pkt); err != nil {
		c.publishFailures.Add(1)
		logging.WarnWithContext(c.logger, "publish failed", "publish_failed",
			logging.Error(err),
			logging.String("topic", topic),
			logging.Int("detections", len(pkt.Detections)),
			logging.String(logging.FieldImpact, "packet not delivered to every sink"),
		)
		return
	}
	c.published.Add(1)
}

// waitForFrame returns the first frame decoded after the batch arrived, or
// false once the wait timeout measured from arrival has elapsed.
func (c *Coordinator) waitForFrame(b batch) (mjpeg.Frame, bool) {
	select {
	case f := <-b.waiter:
		return f, true
	default:
	}
	remaining := time.Until(b.receivedAt.Add(c.cfg.Inference.FrameWait()))
	if remaining <= 0 {
		c.frames.cancel(b.waiter)
		return mjpeg.Frame{}, false
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case f := <-b.waiter:
		return f, true
	case <-timer.C:
	case <-c.ctx.Done():
	}
	c.frames.cancel(b.waiter)
	// A frame may have landed between the timer firing and cancel.
	select {
	case f := <-b.waiter:
		return f, true
	default:
		return mjpeg.Frame{}, false
	}
}

// sendTelemetry forwards batch counters on a supervised goroutine so a slow or
// failing collaborator never delays publishing.
func (c *Coordinator) sendTelemetry(dets []SequencedDetection, detectClass string) {
	names := make([]string, len(dets))
	for i, d := range dets {
		names[i] = d.DisplayName
	}
	measurements := []telemetry.Measurement{
		{Name: telemetry.MeasurementAllDetections, Value: float64(len(dets))},
		{Name: telemetry.MeasurementDetectionsOfClass, Value: float64(CountClass(dets, detectClass))},
	}
	classes := strings.Join(names, ",")

	c.goSupervised("telemetry", func(ctx context.Context) error {
		if err := c.telemetry.SendMeasurements(ctx, measurements); err != nil {
			return fmt.Errorf("send measurements: %w", err)
		}
		if err := c.telemetry.SendEvent(ctx, telemetry.EventInferenceClasses, classes); err != nil {
			return fmt.Errorf("send event: %w", err)
		}
		return nil
	})
}

func (c *Coordinator) goSupervised(task string, fn func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logging.ErrorWithContext(c.logger, "background task panicked", "task_panic",
					logging.String("task", task),
					logging.Any("panic", r),
				)
			}
		}()
		ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			logging.WarnWithContext(c.logger, "background task failed", "task_failed",
				logging.String("task", task),
				logging.Error(err),
				logging.String(logging.FieldImpact, "telemetry for one batch lost; publishing unaffected"),
			)
		}
	}()
}

// Status returns a snapshot for the status command and IPC.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	running, sessionID, startedAt := c.running, c.sessionID, c.startedAt
	c.mu.Unlock()

	st := Status{
		Running:         running,
		SessionID:       sessionID,
		Settings:        c.Settings(),
		Detection:       c.detection.Status(),
		Video:           c.video.Status(),
		NextSequence:    c.seq.Load() + 1,
		Events:          c.events.Load(),
		Published:       c.published.Load(),
		PublishFailures: c.publishFailures.Load(),
		WithoutFrame:    c.withoutFrame.Load(),
		QueueDropped:    c.queueDropped.Load(),
		Frames:          c.frameCount.Load(),
		QueueDepth:      len(c.queue),
	}
	if running {
		st.StartedAt = startedAt
	}
	if ns := c.lastFrameAt.Load(); ns > 0 {
		st.LastFrameAt = time.Unix(0, ns)
	}
	return st
}

// Running reports whether a session is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

package telemetry

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"visionedge/internal/mjpeg"
	"visionedge/internal/process"
)

const namespace = "visionedge"

// Metrics is a Prometheus-backed Sender that also records supervisor
// lifecycle events and arbitrary gauges.
type Metrics struct {
	registry *prometheus.Registry

	detections        prometheus.Counter
	detectionsOfClass prometheus.Counter
	classes           *prometheus.CounterVec
	events            *prometheus.CounterVec
	processEvents     *prometheus.CounterVec
	frameBytes        prometheus.Histogram
}

// NewMetrics builds a registry with Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Detections that survived filtering and were published.",
		}),
		detectionsOfClass: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_of_class_total",
			Help:      "Published detections matching the configured detect class.",
		}),
		classes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_class_total",
			Help:      "Published detections by class name.",
		}, []string{"class"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_events_total",
			Help:      "Telemetry events by name.",
		}, []string{"name"}),
		processEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_events_total",
			Help:      "Subprocess lifecycle events by stream and kind.",
		}, []string{"stream", "kind"}),
		frameBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_bytes",
			Help:      "Size of decoded JPEG frames.",
			Buckets:   prometheus.ExponentialBuckets(16<<10, 2, 8),
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.detections,
		m.detectionsOfClass,
		m.classes,
		m.events,
		m.processEvents,
		m.frameBytes,
	)
	return m
}

func (m *Metrics) SendMeasurements(_ context.Context, measurements []Measurement) error {
	for _, ms := range measurements {
		switch ms.Name {
		case MeasurementAllDetections:
			m.detections.Add(ms.Value)
		case MeasurementDetectionsOfClass:
			m.detectionsOfClass.Add(ms.Value)
		}
	}
	return nil
}

func (m *Metrics) SendEvent(_ context.Context, name, value string) error {
	m.events.WithLabelValues(name).Inc()
	if name != EventInferenceClasses {
		return nil
	}
	for class := range strings.SplitSeq(value, ",") {
		if class = strings.TrimSpace(class); class != "" {
			m.classes.WithLabelValues(class).Inc()
		}
	}
	return nil
}

// ObserveProcess counts a supervisor lifecycle event.
func (m *Metrics) ObserveProcess(ev process.Event) {
	m.processEvents.WithLabelValues(ev.Name, string(ev.Kind)).Inc()
}

// ObserveFrame records the size of one decoded frame.
func (m *Metrics) ObserveFrame(f mjpeg.Frame) {
	m.frameBytes.Observe(float64(len(f.Data)))
}

// GaugeFunc registers a gauge sampled at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// CounterFunc registers a monotonically increasing value sampled at scrape time.
func (m *Metrics) CounterFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

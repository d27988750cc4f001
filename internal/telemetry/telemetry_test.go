package telemetry_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"visionedge/internal/mjpeg"
	"visionedge/internal/process"
	"visionedge/internal/telemetry"
)

type recordedPublish struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	calls []recordedPublish
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	f.calls = append(f.calls, recordedPublish{topic: topic, payload: payload})
	return f.err
}

func TestMQTTSenderEncodesMessages(t *testing.T) {
	pub := &fakePublisher{}
	sender := telemetry.NewMQTTSender(pub, "telemetry")
	ctx := context.Background()

	batch := []telemetry.Measurement{
		{Name: telemetry.MeasurementAllDetections, Value: 2},
		{Name: telemetry.MeasurementDetectionsOfClass, Value: 1},
	}
	if err := sender.SendMeasurements(ctx, batch); err != nil {
		t.Fatalf("SendMeasurements: %v", err)
	}
	if err := sender.SendEvent(ctx, telemetry.EventInferenceClasses, "person,car"); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}
	if len(pub.calls) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(pub.calls))
	}

	var first, second telemetry.Message
	if err := json.Unmarshal(pub.calls[0].payload, &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(pub.calls[1].payload, &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pub.calls[0].topic != "telemetry" || first.Type != telemetry.TypeMeasurements || len(first.Measurements) != 2 || first.Measurements[0].Value != 2 {
		t.Fatalf("unexpected measurements message: %+v", first)
	}
	for _, name := range []string{`"name":"allDetections"`, `"name":"detections-of-class"`} {
		if !strings.Contains(string(pub.calls[0].payload), name) {
			t.Fatalf("payload %s missing %s", pub.calls[0].payload, name)
		}
	}
	if second.Type != telemetry.TypeEvent || second.Name != telemetry.EventInferenceClasses || second.Value != "person,car" {
		t.Fatalf("unexpected event message: %+v", second)
	}
	if first.Timestamp.IsZero() {
		t.Fatal("timestamp missing")
	}
}

func gatherValue(t *testing.T, m *telemetry.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name || len(fam.GetMetric()) == 0 {
			continue
		}
		metric := fam.GetMetric()[0]
		if c := metric.GetCounter(); c != nil {
			return c.GetValue()
		}
		return metric.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

type failingSender struct{ err error }

func (f failingSender) SendMeasurements(context.Context, []telemetry.Measurement) error { return f.err }
func (f failingSender) SendEvent(context.Context, string, string) error               { return f.err }

func TestMultiJoinsErrorsAndContinues(t *testing.T) {
	metrics := telemetry.NewMetrics()
	boom := errors.New("collector down")
	multi := telemetry.Multi{failingSender{err: boom}, nil, metrics}

	err := multi.SendMeasurements(context.Background(), []telemetry.Measurement{{Name: telemetry.MeasurementAllDetections, Value: 3}})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want joined collector error", err)
	}
	if got := gatherValue(t, metrics, "visionedge_detections_total"); got != 3 {
		t.Fatalf("detections_total = %v, want 3", got)
	}
}

func TestMetricsCountersAndHandler(t *testing.T) {
	m := telemetry.NewMetrics()
	ctx := context.Background()
	_ = m.SendMeasurements(ctx, []telemetry.Measurement{
		{Name: telemetry.MeasurementAllDetections, Value: 2},
		{Name: telemetry.MeasurementDetectionsOfClass, Value: 1},
	})
	_ = m.SendEvent(ctx, telemetry.EventInferenceClasses, "person,car")
	m.ObserveProcess(process.Event{Name: "video", Kind: process.EventCrashed})
	m.ObserveFrame(mjpeg.Frame{Data: make([]byte, 20<<10)})
	m.GaugeFunc("health_code", "Overall health code.", func() float64 { return 2 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		"visionedge_detections_total 2",
		"visionedge_detections_of_class_total 1",
		`visionedge_inference_class_total{class="car"} 1`,
		`visionedge_process_events_total{kind="crashed",stream="video"} 1`,
		"visionedge_health_code 2",
		"visionedge_frame_bytes_count 1",
		`visionedge_frame_bytes_bucket{le="32768"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, text)
		}
	}
}

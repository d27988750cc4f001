// Package telemetry forwards per-batch detection counters and events to the
// telemetry collaborators: an MQTT topic and a Prometheus registry.
package telemetry

import (
	"context"
	"errors"
)

// Measurement names emitted for every published detection batch.
const (
	MeasurementAllDetections     = "allDetections"
	MeasurementDetectionsOfClass = "detections-of-class"
	EventInferenceClasses        = "inferenceClasses"
)

// Measurement is a named counter increment.
type Measurement struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Sender is the telemetry collaborator.
type Sender interface {
	SendMeasurements(ctx context.Context, measurements []Measurement) error
	SendEvent(ctx context.Context, name, value string) error
}

// Nop discards telemetry.
type Nop struct{}

func (Nop) SendMeasurements(context.Context, []Measurement) error { return nil }

func (Nop) SendEvent(context.Context, string, string) error { return nil }

// Multi fans telemetry out to several senders and joins their errors.
type Multi []Sender

func (m Multi) SendMeasurements(ctx context.Context, measurements []Measurement) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.SendMeasurements(ctx, measurements); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) SendEvent(ctx context.Context, name, value string) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.SendEvent(ctx, name, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

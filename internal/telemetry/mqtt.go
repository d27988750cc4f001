package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher is the slice of mqttclient.Client the sender needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Message is the JSON document written to the telemetry topic.
type Message struct {
	Type         string        `json:"type"`
	Timestamp    time.Time     `json:"ts"`
	Measurements []Measurement `json:"measurements,omitempty"`
	Name         string        `json:"name,omitempty"`
	Value        string        `json:"value,omitempty"`
}

// Message types.
const (
	TypeMeasurements = "measurements"
	TypeEvent        = "event"
)

// MQTTSender writes telemetry as JSON messages to one topic.
type MQTTSender struct {
	client Publisher
	topic  string
	now    func() time.Time
}

// NewMQTTSender returns a sender publishing to topic through client.
func NewMQTTSender(client Publisher, topic string) *MQTTSender {
	return &MQTTSender{client: client, topic: topic, now: time.Now}
}

func (s *MQTTSender) SendMeasurements(ctx context.Context, measurements []Measurement) error {
	return s.send(ctx, Message{Type: TypeMeasurements, Measurements: measurements})
}

func (s *MQTTSender) SendEvent(ctx context.Context, name, value string) error {
	return s.send(ctx, Message{Type: TypeEvent, Name: name, Value: value})
}

func (s *MQTTSender) send(ctx context.Context, msg Message) error {
	msg.Timestamp = s.now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode telemetry: %w", err)
	}
	return s.client.Publish(ctx, s.topic, payload)
}

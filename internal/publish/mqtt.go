package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"visionedge/internal/inference"
)

// Transport sends raw payloads to a broker topic; mqttclient.Client satisfies it.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// MQTT encodes packets as JSON and hands them to a Transport.
type MQTT struct {
	transport Transport
}

// NewMQTT wraps transport.
func NewMQTT(transport Transport) *MQTT { return &MQTT{transport: transport} }

func (m *MQTT) Publish(ctx context.Context, topic string, pkt inference.Packet) error {
	payload, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	return m.transport.Publish(ctx, topic, payload)
}

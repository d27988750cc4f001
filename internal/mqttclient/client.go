// Package mqttclient wraps the paho MQTT client with the connection policy
// and publish accounting shared by the packet publisher and telemetry sender.
package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"visionedge/internal/config"
	"visionedge/internal/logging"
)

// ErrNotConnected is returned by Publish while the broker link is down.
var ErrNotConnected = errors.New("mqtt not connected")

const (
	publishTimeout       = 2 * time.Second
	disconnectQuiesceMS  = 250
	maxReconnectInterval = 30 * time.Second
)

// Client publishes payloads to topics under the configured prefix.
type Client struct {
	cfg    config.MQTT
	logger *slog.Logger

	mu     sync.Mutex
	client mqtt.Client

	connected atomic.Bool
	published atomic.Uint64
	errors    atomic.Uint64
}

// Stats reports publish accounting.
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// New builds an unconnected client.
func New(cfg config.MQTT, logger *slog.Logger) *Client {
	return &Client{cfg: cfg, logger: logging.NewComponentLogger(logger, "mqtt")}
}

// Connect dials the broker. When the first attempt does not complete in time
// an error is returned and paho keeps retrying in the background; Publish
// fails with ErrNotConnected until the link comes up. Reconnection after a
// lost link is automatic.
func (c *Client) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		c.connected.Store(true)
		c.logger.Info("mqtt connection established",
			logging.String("broker", c.cfg.Broker),
			logging.String("client_id", c.cfg.ClientID),
		)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.connected.Store(false)
		logging.WarnWithContext(c.logger, "mqtt connection lost; reconnecting", "mqtt_connection_lost",
			logging.Error(err),
			logging.String("broker", c.cfg.Broker),
			logging.String(logging.FieldImpact, "packets and telemetry fail until the broker is reachable"),
		)
	})

	client := mqtt.NewClient(opts)
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	c.logger.Debug("connecting to mqtt broker", logging.String("broker", c.cfg.Broker))
	if err := wait(ctx, client.Connect(), c.cfg.Timeout()); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", c.cfg.Broker, err)
	}
	c.connected.Store(true)
	return nil
}

// Publish sends payload to the prefixed topic and waits for the broker ack
// (or the local write for QoS 0).
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil || !c.connected.Load() {
		c.errors.Add(1)
		return ErrNotConnected
	}
	full := c.cfg.Topic(topic)
	if err := wait(ctx, client.Publish(full, byte(c.cfg.QoS), false, payload), publishTimeout); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("mqtt publish %s: %w", full, err)
	}
	c.published.Add(1)
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil {
		client.Disconnect(disconnectQuiesceMS)
		c.logger.Debug("mqtt disconnected")
	}
	c.connected.Store(false)
}

// Stats returns the current accounting snapshot.
func (c *Client) Stats() Stats {
	return Stats{
		Connected: c.connected.Load(),
		Published: c.published.Load(),
		Errors:    c.errors.Load(),
	}
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = publishTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

package mqttclient_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"visionedge/internal/config"
	"visionedge/internal/logging"
	"visionedge/internal/mqttclient"
)

func unusedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestPublishBeforeConnect(t *testing.T) {
	client := mqttclient.New(config.Default().MQTT, logging.NewNop())
	err := client.Publish(context.Background(), "inference", []byte("{}"))
	if !errors.Is(err, mqttclient.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if stats := client.Stats(); stats.Errors != 1 || stats.Connected {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestConnectUnreachableBrokerTimesOut(t *testing.T) {
	cfg := config.Default().MQTT
	cfg.Broker = "tcp://" + unusedAddr(t)
	cfg.ConnectTimeout = 1
	client := mqttclient.New(cfg, logging.NewNop())
	defer client.Close()

	started := time.Now()
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("connect took %v", elapsed)
	}
}

func TestConnectHonoursContext(t *testing.T) {
	cfg := config.Default().MQTT
	cfg.Broker = "tcp://" + unusedAddr(t)
	cfg.ConnectTimeout = 30
	client := mqttclient.New(cfg, logging.NewNop())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := client.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

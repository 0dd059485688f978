package telemetry_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/nerrad567/knxtunnel/internal/bridgeconfig"
	"github.com/nerrad567/knxtunnel/internal/telemetry"
)

func testConfig() bridgeconfig.InfluxDBConfig {
	return bridgeconfig.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "knxtunnel-dev-token",
		Org:           "knxtunnel",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		client, err := telemetry.Connect(context.Background(), testConfig())
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

func TestConnect(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := telemetry.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnectDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := telemetry.Connect(context.Background(), cfg)
	if !errors.Is(err, telemetry.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectInvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := telemetry.Connect(context.Background(), cfg)
	if err == nil {
		t.Fatal("Connect() should return error for an unreachable server")
	}
}

func TestConnectRejectsOversizedBatch(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 1_000_000

	_, err := telemetry.Connect(context.Background(), cfg)
	if err == nil {
		t.Fatal("Connect() should reject a batch_size above the maximum")
	}
}

func TestConnectRejectsOversizedFlushInterval(t *testing.T) {
	cfg := testConfig()
	cfg.FlushInterval = 100_000

	_, err := telemetry.Connect(context.Background(), cfg)
	if err == nil {
		t.Fatal("Connect() should reject a flush_interval above the maximum")
	}
}

func TestConnectDefaultBatchSettings(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()
	cfg.BatchSize = 0
	cfg.FlushInterval = 0

	client, err := telemetry.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect() with default batch settings")
	}
}

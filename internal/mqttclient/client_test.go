package mqttclient_test

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/knxtunnel/internal/bridgeconfig"
	"github.com/nerrad567/knxtunnel/internal/mqttclient"
)

// testConfig returns a configuration pointed at a local Mosquitto broker.
// These tests require one running at 127.0.0.1:1883 and skip otherwise.
func testConfig() bridgeconfig.MQTTConfig {
	return bridgeconfig.MQTTConfig{
		Host:     "127.0.0.1",
		Port:     1883,
		ClientID: "knxtunnel-test",
		QoS:      1,
	}
}

func connectOrSkip(t *testing.T) *mqttclient.Client {
	t.Helper()
	client, err := mqttclient.Connect(testConfig(), "knxtunnel/bridge/status", nil)
	if err != nil {
		t.Skip("MQTT broker not available, skipping integration test")
	}
	return client
}

func TestConnectAndPublishSubscribe(t *testing.T) {
	client := connectOrSkip(t)
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}

	received := make(chan []byte, 1)
	if err := client.Subscribe("knxtunnel/test/topic", 1, func(topic string, payload []byte) {
		received <- payload
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.Publish("knxtunnel/test/topic", 1, false, []byte("hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != "hello" {
			t.Errorf("received payload = %q, want %q", payload, "hello")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestHealthCheckReflectsConnectionState(t *testing.T) {
	client := connectOrSkip(t)
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil while connected", err)
	}
}

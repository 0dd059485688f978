// Package bridgeconfig loads the YAML configuration for the MQTT bridge
// binary, with environment-variable overrides for deployment secrets.
package bridgeconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/knxtunnel/internal/database"
	"github.com/nerrad567/knxtunnel/internal/logging"
)

// Config is the root configuration for the knx-mqtt-bridge binary.
type Config struct {
	Gateway  GatewayConfig   `yaml:"gateway"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	Database database.Config `yaml:"database"`
	InfluxDB InfluxDBConfig  `yaml:"influxdb"`
	Logging  logging.Config  `yaml:"logging"`
	Devices  []DeviceConfig  `yaml:"devices"`
}

// GatewayConfig describes the KNXnet/IP gateway to tunnel to and the local
// endpoint the tunnel connection binds, plus its timing parameters.
type GatewayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	LocalHost string `yaml:"local_host"`
	LocalPort int    `yaml:"local_port"`

	ResendIntervalMS            int `yaml:"resend_interval_ms"`
	ResponseTimeoutMS           int `yaml:"response_timeout_ms"`
	HeartbeatIntervalSec        int `yaml:"heartbeat_interval_sec"`
	HeartbeatResponseTimeoutSec int `yaml:"heartbeat_response_timeout_sec"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
	QoS      int    `yaml:"qos"`
}

// InfluxDBConfig contains InfluxDB connection settings for telemetry export.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DeviceConfig maps a group address to the datapoint type the bridge should
// use when encoding outbound writes and decoding inbound state for it.
type DeviceConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
	DPT     string `yaml:"dpt"`
}

// Load reads cfg from path and applies KNXTUNNEL_-prefixed environment
// overrides for the values operators most often need to change per
// deployment without editing the file (broker credentials, gateway host).
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KNXTUNNEL_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("KNXTUNNEL_GATEWAY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = p
		}
	}
	if v := os.Getenv("KNXTUNNEL_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("KNXTUNNEL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("KNXTUNNEL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("KNXTUNNEL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// ResendInterval returns the configured resend interval, falling back to
// the core default when unset.
func (g GatewayConfig) ResendInterval(fallback time.Duration) time.Duration {
	if g.ResendIntervalMS <= 0 {
		return fallback
	}
	return time.Duration(g.ResendIntervalMS) * time.Millisecond
}

// ResponseTimeout returns the configured response timeout, falling back to
// the core default when unset.
func (g GatewayConfig) ResponseTimeout(fallback time.Duration) time.Duration {
	if g.ResponseTimeoutMS <= 0 {
		return fallback
	}
	return time.Duration(g.ResponseTimeoutMS) * time.Millisecond
}

// HeartbeatInterval returns the configured heartbeat interval, falling back
// to the core default when unset.
func (g GatewayConfig) HeartbeatInterval(fallback time.Duration) time.Duration {
	if g.HeartbeatIntervalSec <= 0 {
		return fallback
	}
	return time.Duration(g.HeartbeatIntervalSec) * time.Second
}

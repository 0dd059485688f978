// Command knx-mqtt-bridge tunnels group telegrams between a KNXnet/IP
// gateway and an MQTT broker, recording observed addresses to SQLite and
// optionally exporting readings to InfluxDB.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/knxtunnel/internal/bridgeconfig"
	"github.com/nerrad567/knxtunnel/internal/database"
	"github.com/nerrad567/knxtunnel/internal/garecorder"
	"github.com/nerrad567/knxtunnel/internal/knxbridge"
	"github.com/nerrad567/knxtunnel/internal/logging"
	"github.com/nerrad567/knxtunnel/internal/mqttclient"
	"github.com/nerrad567/knxtunnel/internal/telemetry"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := bridgeconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging, "knx-mqtt-bridge", version)
	logger.Info("starting", "commit", commit)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	recorder := garecorder.New(db.DB, logger)
	if err := recorder.Start(); err != nil {
		return fmt.Errorf("starting recorder: %w", err)
	}
	defer recorder.Stop()

	var tele *telemetry.Client
	if cfg.InfluxDB.Enabled {
		tele, err = telemetry.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to influxdb: %w", err)
		}
		defer tele.Close()
	}

	mqtt, err := mqttclient.Connect(cfg.MQTT, knxbridge.StatusTopic(), logger)
	if err != nil {
		return fmt.Errorf("connecting to mqtt: %w", err)
	}
	defer mqtt.Close()

	var teleIface knxbridge.Telemetry
	if tele != nil {
		teleIface = tele
	}

	bridge, err := knxbridge.New(cfg.Gateway, cfg.Devices, mqtt, recorder, teleIface, logger)
	if err != nil {
		return fmt.Errorf("constructing bridge: %w", err)
	}
	if err := bridge.SubscribeCommands(); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	logger.Info("bridge ready", "devices", len(cfg.Devices))
	err = bridge.Run(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Package telemetry exports decoded group values to InfluxDB for
// long-term trending, independent of the recorder's discovery database.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/knxtunnel/internal/bridgeconfig"
)

// ErrDisabled is returned by Connect when the configuration has telemetry
// turned off; callers treat it as "run without a Client".
var ErrDisabled = errors.New("telemetry: influxdb disabled")

// ErrConnectionFailed wraps a failure to reach the InfluxDB server.
var ErrConnectionFailed = errors.New("telemetry: connection failed")

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
	millisecondsPerSecond = 1000

	defaultBatchSize     = 100
	defaultFlushInterval = 10
	maxBatchSize         = 100000
	maxFlushIntervalSec  = 3600
)

// Client wraps the InfluxDB v2 client with a non-blocking, batched write
// path for group-value telemetry.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu        sync.RWMutex
	connected bool
	onError   func(err error)
	done      chan struct{}
}

// Connect opens a connection to the InfluxDB server described by cfg and
// verifies it with a ping. It returns ErrDisabled if cfg.Enabled is false.
func Connect(ctx context.Context, cfg bridgeconfig.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	switch {
	case batchSize <= 0:
		batchSize = defaultBatchSize
	case batchSize > maxBatchSize:
		return nil, fmt.Errorf("batch_size %d exceeds maximum %d", batchSize, maxBatchSize)
	}
	flushInterval := cfg.FlushInterval
	switch {
	case flushInterval <= 0:
		flushInterval = defaultFlushInterval
	case flushInterval > maxFlushIntervalSec:
		return nil, fmt.Errorf("flush_interval %d exceeds maximum %d seconds", flushInterval, maxFlushIntervalSec)
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond))

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	c := &Client{client: client, writeAPI: writeAPI, connected: true, done: make(chan struct{})}
	go c.drainErrors(writeAPI.Errors())
	return c, nil
}

func (c *Client) drainErrors(errs <-chan error) {
	for {
		select {
		case <-c.done:
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			c.mu.RLock()
			cb := c.onError
			c.mu.RUnlock()
			if cb != nil {
				cb(err)
			}
		}
	}
}

// SetOnError registers a callback for asynchronous write failures.
func (c *Client) SetOnError(cb func(err error)) {
	c.mu.Lock()
	c.onError = cb
	c.mu.Unlock()
}

// WriteGroupValue records one decoded group-address reading. measurement
// names the DPT family (e.g. "knx_bit", "knx_scaled_u8", "knx_float16");
// kind carries the specific DPT (e.g. "temperature").
func (c *Client) WriteGroupValue(measurement, address, kind string, value float64) {
	if !c.IsConnected() {
		return
	}
	point := write.NewPoint(measurement,
		map[string]string{"address": address, "dpt": kind},
		map[string]interface{}{"value": value},
		time.Now())
	c.writeAPI.WritePoint(point)
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HealthCheck actively pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrConnectionFailed
	}
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("telemetry health check: %w", err)
	}
	if !healthy {
		return fmt.Errorf("telemetry health check: server not healthy")
	}
	return nil
}

// Close flushes pending writes and shuts down the client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	close(c.done)
	c.client.Close()
	return nil
}

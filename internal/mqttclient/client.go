// Package mqttclient wraps the Paho MQTT client with the reconnect,
// last-will, and subscription-restore behaviour the bridge needs.
package mqttclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/knxtunnel/internal/bridgeconfig"
)

// Logger is the subset of logging.Logger the client needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

const (
	connectTimeout  = 10 * time.Second
	disconnectQuiet = 250 * time.Millisecond
)

type subscription struct {
	qos     byte
	handler pahomqtt.MessageHandler
}

// Client wraps a pahomqtt.Client, tracking subscriptions so they can be
// restored transparently after a reconnect and publishing an online/offline
// status topic via a last-will message.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	logger Logger

	mu            sync.RWMutex
	subscriptions map[string]subscription

	onConnect    func()
	onDisconnect func(err error)

	statusTopic string
}

// Connect dials the broker described by cfg. statusTopic, when non-empty,
// receives "online" on connect and is configured as the last-will topic
// with payload "offline".
func Connect(cfg bridgeconfig.MQTTConfig, statusTopic string, logger Logger) (*Client, error) {
	c := &Client{
		logger:        logger,
		subscriptions: make(map[string]subscription),
		statusTopic:   statusTopic,
	}

	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)

	opts := pahomqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(c.handleConnect).
		SetConnectionLostHandler(c.handleDisconnect)

	if statusTopic != "" {
		opts.SetWill(statusTopic, "offline", byte(cfg.QoS), true)
	}

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect: timed out after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return c, nil
}

func (c *Client) handleConnect(client pahomqtt.Client) {
	if c.logger != nil {
		c.logger.Info("mqtt connected")
	}
	c.restoreSubscriptions()
	c.publishOnlineStatus()

	c.mu.RLock()
	cb := c.onConnect
	c.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (c *Client) handleDisconnect(client pahomqtt.Client, err error) {
	if c.logger != nil {
		c.logger.Warn("mqtt connection lost", "error", err)
	}
	c.mu.RLock()
	cb := c.onDisconnect
	c.mu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

func (c *Client) restoreSubscriptions() {
	c.mu.RLock()
	subs := make(map[string]subscription, len(c.subscriptions))
	for topic, sub := range c.subscriptions {
		subs[topic] = sub
	}
	c.mu.RUnlock()

	for topic, sub := range subs {
		token := c.client.Subscribe(topic, sub.qos, sub.handler)
		if token.WaitTimeout(connectTimeout) && token.Error() != nil && c.logger != nil {
			c.logger.Error("resubscribe failed", "topic", topic, "error", token.Error())
		}
	}
}

func (c *Client) publishOnlineStatus() {
	if c.statusTopic == "" {
		return
	}
	c.client.Publish(c.statusTopic, 1, true, "online")
}

// Publish sends payload to topic with the given QoS and retain flag.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

// Subscribe registers handler for topic at qos and remembers it so it
// survives a reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	wrapped := c.wrapHandler(handler)

	c.mu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: wrapped}
	c.mu.Unlock()

	token := c.client.Subscribe(topic, qos, wrapped)
	token.Wait()
	return token.Error()
}

func (c *Client) wrapHandler(handler func(topic string, payload []byte)) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil && c.logger != nil {
				c.logger.Error("mqtt handler panic", "topic", msg.Topic(), "recovered", r)
			}
		}()
		handler(msg.Topic(), msg.Payload())
	}
}

// SetOnConnect registers a callback invoked after every successful connect
// (including reconnects), after subscriptions are restored.
func (c *Client) SetOnConnect(cb func()) {
	c.mu.Lock()
	c.onConnect = cb
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback invoked when the connection drops.
func (c *Client) SetOnDisconnect(cb func(err error)) {
	c.mu.Lock()
	c.onDisconnect = cb
	c.mu.Unlock()
}

// IsConnected reports the client's current connection state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnectionOpen()
}

// HealthCheck returns an error if the client is not currently connected.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt: not connected")
	}
	return nil
}

// Close publishes the offline status, then disconnects.
func (c *Client) Close() {
	if c.client == nil {
		return
	}
	if c.statusTopic != "" {
		token := c.client.Publish(c.statusTopic, 1, true, "offline")
		token.WaitTimeout(time.Second)
	}
	c.client.Disconnect(uint(disconnectQuiet.Milliseconds()))
}

// Package knxbridge wires a knxtunnel.TunnelConnection to an MQTT broker,
// translating group events into published state topics and inbound
// command topics into outbound group writes.
package knxbridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const topicPrefix = "knxtunnel"

// CommandMessage is the payload published to a device's command topic to
// request an outbound group write.
type CommandMessage struct {
	ID        string  `json:"id"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

// NewCommandMessage stamps a fresh correlation ID onto a command, so its
// matching AckMessage can be paired up by a caller tracking outstanding
// requests.
func NewCommandMessage(value float64, now time.Time) CommandMessage {
	return CommandMessage{ID: uuid.NewString(), Value: value, Timestamp: now.Unix()}
}

// AckStatus reports whether a command was accepted for transmission.
type AckStatus string

const (
	AckOK    AckStatus = "ok"
	AckError AckStatus = "error"
)

// AckMessage is published in response to a CommandMessage, correlated by ID.
type AckMessage struct {
	ID      string    `json:"id"`
	Status  AckStatus `json:"status"`
	Error   string    `json:"error,omitempty"`
	Address string    `json:"address"`
}

// NewAckMessage builds a success acknowledgement.
func NewAckMessage(id, address string) AckMessage {
	return AckMessage{ID: id, Status: AckOK, Address: address}
}

// NewAckError builds a failure acknowledgement.
func NewAckError(id, address string, err error) AckMessage {
	return AckMessage{ID: id, Status: AckError, Address: address, Error: err.Error()}
}

// StateMessage is published whenever a group event is observed on the bus,
// whether from a response, a write, or a local poll.
type StateMessage struct {
	Address   string  `json:"address"`
	Value     float64 `json:"value"`
	RawDPT    string  `json:"dpt"`
	Timestamp int64   `json:"timestamp"`
}

// ConnectionStatus mirrors the tunnel's connection lifecycle for the bridge
// status topic.
type ConnectionStatus string

const (
	StatusOnline       ConnectionStatus = "online"
	StatusOffline      ConnectionStatus = "offline"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// HealthMessage reports the bridge's own status, independent of any single
// device, published retained on the bridge status topic.
type HealthMessage struct {
	Status         ConnectionStatus `json:"status"`
	TunnelState    string           `json:"tunnel_state"`
	GroupAddresses int              `json:"group_addresses_seen"`
	Timestamp      int64            `json:"timestamp"`
}

func NewHealthMessage(status ConnectionStatus, tunnelState string, gaCount int, now time.Time) HealthMessage {
	return HealthMessage{Status: status, TunnelState: tunnelState, GroupAddresses: gaCount, Timestamp: now.Unix()}
}

func (m CommandMessage) marshal() ([]byte, error) { return json.Marshal(m) }
func (m AckMessage) marshal() ([]byte, error)     { return json.Marshal(m) }
func (m StateMessage) marshal() ([]byte, error)   { return json.Marshal(m) }
func (m HealthMessage) marshal() ([]byte, error)  { return json.Marshal(m) }

// encodeTopicAddress replaces the KNX address separator with an
// MQTT-topic-safe character, since group addresses contain "/".
func encodeTopicAddress(address string) string {
	return strings.ReplaceAll(address, "/", "-")
}

func decodeTopicAddress(encoded string) string {
	return strings.ReplaceAll(encoded, "-", "/")
}

// CommandTopic is the topic a caller publishes to in order to request an
// outbound group write for address.
func CommandTopic(address string) string {
	return fmt.Sprintf("%s/device/%s/set", topicPrefix, encodeTopicAddress(address))
}

// CommandSubscribeTopic is the wildcard the bridge subscribes to in order
// to receive every device's CommandTopic.
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/device/+/set", topicPrefix)
}

// AckTopic is where the bridge publishes AckMessage for address.
func AckTopic(address string) string {
	return fmt.Sprintf("%s/device/%s/ack", topicPrefix, encodeTopicAddress(address))
}

// StateTopic is where the bridge publishes StateMessage for address.
func StateTopic(address string) string {
	return fmt.Sprintf("%s/device/%s/state", topicPrefix, encodeTopicAddress(address))
}

// HealthTopic is the retained topic carrying the bridge's own HealthMessage.
func HealthTopic() string {
	return fmt.Sprintf("%s/bridge/health", topicPrefix)
}

// StatusTopic carries the plain online/offline last-will payload.
func StatusTopic() string {
	return fmt.Sprintf("%s/bridge/status", topicPrefix)
}

// addressFromCommandTopic extracts the encoded device address from a topic
// matching CommandTopic's pattern, or returns false if it doesn't match.
func addressFromCommandTopic(topic string) (string, bool) {
	prefix := topicPrefix + "/device/"
	suffix := "/set"
	if !strings.HasPrefix(topic, prefix) || !strings.HasSuffix(topic, suffix) {
		return "", false
	}
	encoded := strings.TrimSuffix(strings.TrimPrefix(topic, prefix), suffix)
	if encoded == "" {
		return "", false
	}
	return decodeTopicAddress(encoded), true
}

package knxbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/nerrad567/knxtunnel/internal/bridgeconfig"
	"github.com/nerrad567/knxtunnel/internal/garecorder"
	"github.com/nerrad567/knxtunnel/internal/logging"
	"github.com/nerrad567/knxtunnel/internal/mqttclient"
	"github.com/nerrad567/knxtunnel/internal/telemetry"
	"github.com/nerrad567/knxtunnel/knxtunnel"
)

const (
	udpReadBufferSize     = 2048
	healthPublishInterval = 60 * time.Second
)

// Telemetry is the subset of telemetry.Client the bridge needs, satisfied
// by *telemetry.Client or left nil when InfluxDB export is disabled.
type Telemetry interface {
	WriteGroupValue(measurement, address, kind string, value float64)
}

var _ Telemetry = (*telemetry.Client)(nil)

// Device pairs a group address with the datapoint codec the bridge uses to
// translate its MQTT command payloads and published state.
type Device struct {
	Address knxtunnel.GroupAddress3
	DPT     string
}

// Bridge owns the tunnel connection's UDP socket and republishes its
// traffic to MQTT, the recorder, and telemetry.
type Bridge struct {
	conn     *net.UDPConn
	tunnel   *knxtunnel.TunnelConnection
	mqtt     *mqttclient.Client
	recorder *garecorder.Recorder
	tele     Telemetry
	logger   *logging.Logger

	devices map[uint16]Device
}

// New dials the gateway's UDP endpoint, constructs the tunnel core, and
// wires its inbound/outbound events to mqtt, recorder, and tele (any of
// which may be nil to disable that side effect).
func New(cfg bridgeconfig.GatewayConfig, devices []bridgeconfig.DeviceConfig,
	mqtt *mqttclient.Client, recorder *garecorder.Recorder, tele Telemetry, logger *logging.Logger,
) (*Bridge, error) {
	gatewayAddr := &net.UDPAddr{IP: net.ParseIP(cfg.Host), Port: cfg.Port}
	localAddr := &net.UDPAddr{IP: net.ParseIP(cfg.LocalHost), Port: cfg.LocalPort}

	conn, err := net.DialUDP("udp4", localAddr, gatewayAddr)
	if err != nil {
		return nil, fmt.Errorf("dialing gateway: %w", err)
	}

	boundAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	localHPAI := knxtunnel.NewHPAI(boundAddr.IP, uint16(boundAddr.Port))

	tcfg := knxtunnel.DefaultConfig()
	tcfg.ResendInterval = cfg.ResendInterval(tcfg.ResendInterval)
	tcfg.ResponseTimeout = cfg.ResponseTimeout(tcfg.ResponseTimeout)
	tcfg.HeartbeatInterval = cfg.HeartbeatInterval(tcfg.HeartbeatInterval)

	b := &Bridge{
		conn:     conn,
		tunnel:   knxtunnel.NewTunnelConnection(time.Now(), localHPAI, tcfg),
		mqtt:     mqtt,
		recorder: recorder,
		tele:     tele,
		logger:   logger,
		devices:  make(map[uint16]Device, len(devices)),
	}

	for _, d := range devices {
		ga, err := knxtunnel.ParseGroupAddress3(d.Address)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("device %s: %w", d.ID, err)
		}
		b.devices[ga.ToUint16()] = Device{Address: ga, DPT: d.DPT}
	}

	return b, nil
}

// SubscribeCommands registers the MQTT command handler for every
// configured device. Call after the broker connection is established.
func (b *Bridge) SubscribeCommands() error {
	if b.mqtt == nil {
		return nil
	}
	return b.mqtt.Subscribe(CommandSubscribeTopic(), 1, b.handleCommand)
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	address, ok := addressFromCommandTopic(topic)
	if !ok {
		return
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("decoding command", err, "topic", topic)
		return
	}

	ga, err := knxtunnel.ParseGroupAddress3(address)
	if err != nil {
		b.publishAck(NewAckError(cmd.ID, address, err))
		return
	}
	dev, known := b.devices[ga.ToUint16()]
	if !known {
		b.publishAck(NewAckError(cmd.ID, address, fmt.Errorf("unknown device address")))
		return
	}

	value, err := encodeDPT(dev.DPT, cmd.Value)
	if err != nil {
		b.publishAck(NewAckError(cmd.ID, address, err))
		return
	}

	b.tunnel.Send(time.Now(), knxtunnel.GroupEvent{
		Address: ga.ToUint16(),
		Type:    knxtunnel.EventWrite,
		Value:   value,
	})
	b.publishAck(NewAckMessage(cmd.ID, address))
}

func (b *Bridge) publishAck(ack AckMessage) {
	if b.mqtt == nil {
		return
	}
	payload, err := ack.marshal()
	if err != nil {
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.Address), 1, false, payload); err != nil {
		b.logError("publishing ack", err)
	}
}

// Run drives the socket I/O loop until ctx is cancelled: it writes
// outbound frames, reads inbound ones, and wakes on the tunnel's next
// scheduled deadline to service retries and heartbeats.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.conn.Close()

	inbound := make(chan []byte, 16)
	readErrs := make(chan error, 1)
	go b.readLoop(ctx, inbound, readErrs)

	health := time.NewTicker(healthPublishInterval)
	defer health.Stop()

	for {
		now := time.Now()
		if data, ok := b.tunnel.GetOutboundData(now); ok {
			if _, err := b.conn.Write(data); err != nil {
				b.logError("writing to gateway", err)
			}
			continue
		}

		deadline := b.tunnel.GetNextTimeEvent()
		timer := time.NewTimer(time.Until(deadline))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case err := <-readErrs:
			timer.Stop()
			return fmt.Errorf("reading from gateway: %w", err)
		case data := <-inbound:
			timer.Stop()
			if event := b.tunnel.HandleInboundMessage(time.Now(), data); event != nil {
				b.handleGroupEvent(*event)
			}
		case <-health.C:
			timer.Stop()
			b.publishHealth(ctx)
		case <-timer.C:
			if err := b.tunnel.HandleTimeEvents(time.Now()); err != nil {
				b.logError("tunnel fatal", err)
				return err
			}
		}
	}
}

func (b *Bridge) readLoop(ctx context.Context, out chan<- []byte, errs chan<- error) {
	buf := make([]byte, udpReadBufferSize)
	for {
		_ = b.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := b.conn.Read(buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case errs <- err:
			case <-ctx.Done():
			}
			return
		}
		frame := append([]byte(nil), buf[:n]...)
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) handleGroupEvent(event knxtunnel.GroupEvent) {
	ga := knxtunnel.GroupAddress3FromUint16(event.Address)
	address := ga.String()

	dev, known := b.devices[event.Address]
	var numeric float64
	var dpt string
	if opaque, ok := event.Value.(*knxtunnel.Opaque); ok && known {
		if v, err := decodeDPT(dev.DPT, opaque.Bytes); err == nil {
			numeric = v
			dpt = dev.DPT
		}
	}

	if b.recorder != nil {
		b.recorder.Record(knxtunnel.IndividualAddress{}, event.Address, event.Type == knxtunnel.EventResponse)
	}
	if b.tele != nil && dpt != "" {
		b.tele.WriteGroupValue(dptMeasurement(dpt), address, dpt, numeric)
	}
	if b.mqtt != nil && event.Type != knxtunnel.EventRead {
		msg := StateMessage{Address: address, Value: numeric, RawDPT: dpt, Timestamp: time.Now().Unix()}
		if payload, err := msg.marshal(); err == nil {
			if err := b.mqtt.Publish(StateTopic(address), 0, true, payload); err != nil {
				b.logError("publishing state", err)
			}
		}
	}
}

func (b *Bridge) publishHealth(ctx context.Context) {
	if b.mqtt == nil {
		return
	}
	msg := b.HealthMessage(ctx)
	payload, err := msg.marshal()
	if err != nil {
		return
	}
	if err := b.mqtt.Publish(HealthTopic(), 0, true, payload); err != nil {
		b.logError("publishing health", err)
	}
}

func (b *Bridge) logError(msg string, err error, args ...any) {
	if b.logger == nil {
		return
	}
	b.logger.Error(msg, append([]any{"error", err}, args...)...)
}

// HealthMessage reports the bridge's current tunnel state and observed
// group-address count for publication on HealthTopic.
func (b *Bridge) HealthMessage(ctx context.Context) HealthMessage {
	status := StatusOffline
	if b.tunnel.Connected() {
		status = StatusOnline
	} else if b.tunnel.State() == knxtunnel.StateConnecting {
		status = StatusReconnecting
	}

	count := 0
	if b.recorder != nil {
		if n, err := b.recorder.GroupAddressCount(ctx); err == nil {
			count = n
		}
	}
	return NewHealthMessage(status, b.tunnel.State().String(), count, time.Now())
}

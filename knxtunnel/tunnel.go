package knxtunnel

import "time"

// ConnectionState is one of the tunnel connection's lifecycle states.
type ConnectionState uint8

// Recognised connection states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

// String names the state for logging.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// Config holds the host-supplied tunnel timing parameters.
type Config struct {
	// ResendInterval is the delay between retransmits of the in-flight
	// request. Default 1000ms.
	ResendInterval time.Duration

	// ResponseTimeout is the deadline after which the in-flight request
	// is abandoned (or the connect fails). Default 1500ms.
	ResponseTimeout time.Duration

	// HeartbeatInterval is the period between ConnectionStateRequest
	// probes. Default 60s.
	HeartbeatInterval time.Duration

	// HeartbeatResponseTimeout is reserved: declared but not used by
	// this core (see the design note on heartbeat cadence). Default 10s.
	HeartbeatResponseTimeout time.Duration
}

// DefaultConfig returns the configuration defaults from the external
// interface table.
func DefaultConfig() Config {
	return Config{
		ResendInterval:           time.Second,
		ResponseTimeout:          1500 * time.Millisecond,
		HeartbeatInterval:        60 * time.Second,
		HeartbeatResponseTimeout: 10 * time.Second,
	}
}

// TunnelConnection is the sans-I/O driver for one KNXnet/IP tunneling
// session. It performs no socket or timer I/O; a host loop drives it via
// Send, GetOutboundData, GetNextTimeEvent, HandleTimeEvents, and
// HandleInboundMessage.
//
// Not internally synchronized: the host must serialize calls to the three
// non-reentrant entry points (Send, HandleInboundMessage, HandleTimeEvents).
type TunnelConnection struct {
	state                     ConnectionState
	awaitingHeartbeatResponse bool
	channel                   uint8
	hostInfo                  HPAI
	outboundSeq               uint8
	inboundSeq                uint8

	outQueue outMessageQueue
	ackQueue outMessageQueue

	pendingBytes   []byte
	messagePending bool

	nextResent    time.Time
	nextTimeout   time.Time
	nextHeartbeat time.Time

	config Config
	fatal  bool
}

// NewTunnelConnection constructs a tunnel connection bound to localHPAI
// (the host's own UDP/IPv4 endpoint) and immediately issues a
// ConnectRequest, transitioning to Connecting.
func NewTunnelConnection(now time.Time, localHPAI HPAI, cfg Config) *TunnelConnection {
	t := &TunnelConnection{
		state:    StateDisconnected,
		hostInfo: localHPAI,
		config:   cfg,
	}
	t.nextHeartbeat = now.Add(cfg.HeartbeatInterval)
	t.nextTimeout = t.nextHeartbeat.Add(time.Second)
	t.nextResent = now

	t.reconnect(now)
	return t
}

// Connected reports whether the session currently has a live channel.
func (t *TunnelConnection) Connected() bool {
	return t.state == StateConnected && !t.fatal
}

// State returns the current lifecycle state.
func (t *TunnelConnection) State() ConnectionState {
	return t.state
}

// Channel returns the assigned channel and whether it is currently valid
// (per invariant I4, valid only while Connected or Disconnecting).
func (t *TunnelConnection) Channel() (uint8, bool) {
	return t.channel, t.state == StateConnected || t.state == StateDisconnecting
}

// Send constructs an L_Data.req from event, wraps it in a TunnelRequest on
// the current channel and sequence number, and enqueues it for
// transmission with retry-on-timeout semantics.
func (t *TunnelConnection) Send(now time.Time, event GroupEvent) {
	var apdu APDU
	switch event.Type {
	case EventRead:
		apdu = NewGroupValueRead()
	case EventWrite:
		apdu = NewGroupValueWrite(event.Value)
	case EventResponse:
		apdu = NewGroupValueResponse(event.Value)
	default:
		apdu = NewGroupValueRead()
	}

	ld := DefaultLData(event.Address, apdu)
	ld.Source = 0

	req := TunnelRequest{
		Channel:  t.channel,
		Sequence: t.outboundSeq,
		Message:  NewLDataReqMessage(ld),
	}
	t.outboundSeq++

	t.enqueueRequest(now, req.Encode())
}

// enqueueRequest pushes bytes onto out_queue as a retried, acked request.
// Per invariant I1, only the head of out_queue is "in flight": if the
// queue was already non-empty (an earlier request is still awaiting ack),
// the new message waits behind it untouched — arming next_timeout or
// message_pending here would prematurely retransmit or extend the
// deadline of the message actually in flight. Arming happens once this
// message reaches the head, via onHeadRemoved.
func (t *TunnelConnection) enqueueRequest(now time.Time, bytes []byte) {
	wasEmpty := t.outQueue.empty()
	t.outQueue.push(OutMessage{Bytes: bytes, NeedsAck: true})
	if wasEmpty {
		t.messagePending = true
		t.nextTimeout = now.Add(t.config.ResponseTimeout)
	}
}

// enqueueAck pushes bytes onto ack_queue: best-effort, never retried.
func (t *TunnelConnection) enqueueAck(bytes []byte) {
	t.ackQueue.push(OutMessage{Bytes: bytes, NeedsAck: false})
}

// onHeadRemoved is called after popping out_queue's head (ack, timeout, or
// state reset). If another message is now at the head, it becomes the new
// in-flight message and is armed for immediate send plus a fresh
// next_timeout. If the queue drained, both next_resent and next_timeout
// are disarmed (invariant I5): pushed beyond next_heartbeat so neither
// fires spuriously, and GetNextTimeEvent never returns a stale deadline
// while the session is idle.
func (t *TunnelConnection) onHeadRemoved(now time.Time) {
	if t.outQueue.empty() {
		t.nextResent = t.nextHeartbeat.Add(time.Second)
		t.nextTimeout = t.nextHeartbeat.Add(time.Second)
		return
	}
	t.messagePending = true
	t.nextTimeout = now.Add(t.config.ResponseTimeout)
}

// reconnect transitions to Connecting and issues a fresh ConnectRequest.
// Any request still queued for the dead session is dropped first: its ack
// can never arrive, and leaving it at the head would keep the fresh
// ConnectRequest from being armed. Per the design note on reconnect
// storms, this core applies no backoff; that policy is left to the host.
func (t *TunnelConnection) reconnect(now time.Time) {
	t.outQueue.clear()
	t.state = StateConnecting
	req := ConnectRequest{
		ControlHPAI: t.hostInfo,
		DataHPAI:    t.hostInfo,
		CRI:         CRI{Layer: LinkLayer},
	}
	t.enqueueRequest(now, req.Encode())
}

// GetOutboundData returns the next buffer the host should transmit, or
// (nil, false) if nothing is pending. The ack queue always preempts the
// acked-request queue. The host must call this repeatedly until it
// returns false.
func (t *TunnelConnection) GetOutboundData(now time.Time) ([]byte, bool) {
	if msg, ok := t.ackQueue.pop(); ok {
		t.pendingBytes = msg.Bytes
		return t.pendingBytes, true
	}

	if t.messagePending {
		if head, ok := t.outQueue.peek(); ok {
			t.messagePending = false
			t.nextResent = now.Add(t.config.ResendInterval)
			head.AttemptCount++
			t.pendingBytes = head.Bytes
			return t.pendingBytes, true
		}
	}

	return nil, false
}

// GetNextTimeEvent returns the deadline the host loop must wake up by.
func (t *TunnelConnection) GetNextTimeEvent() time.Time {
	next := t.nextHeartbeat
	if t.nextResent.Before(next) {
		next = t.nextResent
	}
	if t.nextTimeout.Before(next) {
		next = t.nextTimeout
	}
	return next
}

// HandleTimeEvents advances retry, abandonment, heartbeat, and reconnect
// logic for the current time. It returns ErrConnectTimeout if the initial
// ConnectRequest was never answered — the one condition this core treats
// as fatal to the session (see the design note correcting the original's
// panic-on-connect-timeout defect). Once fatal, every subsequent call
// returns the same error; Connected always reports false from that point.
func (t *TunnelConnection) HandleTimeEvents(now time.Time) error {
	if !now.Before(t.nextTimeout) && !t.outQueue.empty() {
		switch t.state {
		case StateConnecting:
			t.fatal = true
			t.outQueue.pop()
			t.onHeadRemoved(now)
		case StateDisconnecting:
			t.outQueue.pop()
			t.onHeadRemoved(now)
			t.state = StateDisconnected
			t.reconnect(now)
		default: // Connected, Disconnected
			t.outQueue.pop()
			t.onHeadRemoved(now)
		}
	}

	if !now.Before(t.nextHeartbeat) && t.state == StateConnected {
		if t.awaitingHeartbeatResponse {
			req := DisconnectRequest{Channel: t.channel, ControlHPAI: t.hostInfo}
			t.enqueueRequest(now, req.Encode())
			t.state = StateDisconnecting
		} else {
			req := ConnectionStateRequest{Channel: t.channel, ControlHPAI: t.hostInfo}
			t.enqueueRequest(now, req.Encode())
			t.awaitingHeartbeatResponse = true
		}
		t.nextHeartbeat = t.nextHeartbeat.Add(t.config.HeartbeatInterval)
	}

	if !now.Before(t.nextResent) && !t.outQueue.empty() {
		t.messagePending = true
	}

	if t.fatal {
		return ErrConnectTimeout
	}
	return nil
}

// HandleInboundMessage decodes an inbound datagram and dispatches it.
// Malformed datagrams are silently ignored, per the propagation policy:
// the network is a shared medium and garbage is expected. It returns a
// GroupEvent when the datagram was a TunnelRequest carrying a new (not
// duplicate) L_Data.ind with a group-value APDU; nil otherwise.
func (t *TunnelConnection) HandleInboundMessage(now time.Time, data []byte) *GroupEvent {
	svc, err := DecodeService(data)
	if err != nil {
		return nil
	}

	switch {
	case svc.ConnectResponse != nil:
		t.handleConnectResponse(now, svc.ConnectResponse)
		return nil
	case svc.ConnectionStateResponse != nil:
		t.handleConnectionStateResponse(now, svc.ConnectionStateResponse)
		return nil
	case svc.DisconnectRequest != nil:
		t.handleDisconnectRequest(now, svc.DisconnectRequest)
		return nil
	case svc.DisconnectResponse != nil:
		t.handleDisconnectResponse(now, svc.DisconnectResponse)
		return nil
	case svc.TunnelAck != nil:
		t.outQueue.pop()
		t.onHeadRemoved(now)
		return nil
	case svc.TunnelRequest != nil:
		return t.handleTunnelRequest(svc.TunnelRequest)
	default:
		return nil
	}
}

func (t *TunnelConnection) handleConnectResponse(now time.Time, r *ConnectResponse) {
	if r.Status != StatusNoError {
		return
	}
	t.outboundSeq = 0
	t.inboundSeq = 0
	t.channel = r.Channel
	t.outQueue.pop()
	t.onHeadRemoved(now)
	t.state = StateConnected
}

func (t *TunnelConnection) handleConnectionStateResponse(now time.Time, r *ConnectionStateResponse) {
	t.awaitingHeartbeatResponse = false
	t.outQueue.pop()
	t.onHeadRemoved(now)
	if r.Status != StatusNoError {
		t.state = StateDisconnected
		t.reconnect(now)
	}
}

func (t *TunnelConnection) handleDisconnectRequest(now time.Time, r *DisconnectRequest) {
	if r.Channel != t.channel {
		return
	}
	resp := DisconnectResponse{Channel: t.channel, Status: StatusNoError}
	t.enqueueAck(resp.Encode())
	t.state = StateDisconnected
	t.reconnect(now)
}

func (t *TunnelConnection) handleDisconnectResponse(now time.Time, r *DisconnectResponse) {
	if r.Channel != t.channel {
		return
	}
	t.outQueue.pop()
	t.onHeadRemoved(now)
	t.state = StateDisconnected
	t.reconnect(now)
}

func (t *TunnelConnection) handleTunnelRequest(r *TunnelRequest) *GroupEvent {
	if r.Channel != t.channel {
		return nil
	}

	expectedNext := r.Sequence + 1
	isNew := t.inboundSeq == r.Sequence
	isDuplicate := t.inboundSeq == expectedNext
	if !isNew && !isDuplicate {
		return nil
	}

	ack := TunnelAck{Channel: t.channel, Sequence: r.Sequence, Status: StatusNoError}
	t.enqueueAck(ack.Encode())

	if isDuplicate {
		return nil
	}

	t.inboundSeq = expectedNext

	if r.Message.Code != LDataInd {
		return nil
	}

	var evType GroupEventType
	switch r.Message.LData.APDU.Tag {
	case GroupValueRead:
		evType = EventRead
	case GroupValueWrite:
		evType = EventWrite
	case GroupValueResponse:
		evType = EventResponse
	default:
		return nil
	}

	return &GroupEvent{
		Address: r.Message.LData.Destination,
		Type:    evType,
		Value:   r.Message.LData.APDU.Value,
	}
}

package knxtunnel

import (
	"errors"
	"net"
	"testing"
	"time"
)

func testHPAI() HPAI {
	return NewHPAI(net.ParseIP("192.168.200.12"), 50100)
}

func TestNewTunnelConnectionIssuesConnectRequestOnce(t *testing.T) {
	now := time.Unix(0, 0)
	tc := NewTunnelConnection(now, testHPAI(), DefaultConfig())

	if tc.State() != StateConnecting {
		t.Fatalf("State() = %v, want Connecting", tc.State())
	}

	data, ok := tc.GetOutboundData(now)
	if !ok {
		t.Fatal("expected a ConnectRequest frame")
	}
	svc, err := DecodeService(data)
	if err != nil {
		t.Fatalf("DecodeService: %v", err)
	}
	if svc.ConnectRequest == nil {
		t.Fatal("expected the outbound frame to decode as a ConnectRequest")
	}

	if _, ok := tc.GetOutboundData(now); ok {
		t.Error("a second call before any resend deadline should return nothing")
	}
}

func TestConnectResponseTransitionsToConnected(t *testing.T) {
	now := time.Unix(0, 0)
	tc := NewTunnelConnection(now, testHPAI(), DefaultConfig())
	tc.GetOutboundData(now)

	resp := ConnectResponse{
		Channel:  0x15,
		Status:   StatusNoError,
		DataHPAI: testHPAI(),
		CRD:      CRD{AssignedAddress: 0x110A},
	}
	if ev := tc.HandleInboundMessage(now, resp.Encode()); ev != nil {
		t.Errorf("ConnectResponse should not surface a GroupEvent, got %+v", ev)
	}

	if !tc.Connected() {
		t.Fatal("expected Connected() true after a NoError ConnectResponse")
	}
	if ch, valid := tc.Channel(); !valid || ch != 0x15 {
		t.Errorf("Channel() = %#x, %v; want 0x15, true", ch, valid)
	}
}

func TestConnectTimeoutIsFatal(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Unix(0, 0)
	tc := NewTunnelConnection(now, testHPAI(), cfg)
	tc.GetOutboundData(now)

	past := now.Add(cfg.ResponseTimeout + time.Millisecond)
	err := tc.HandleTimeEvents(past)
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("HandleTimeEvents() = %v, want ErrConnectTimeout", err)
	}
	if tc.Connected() {
		t.Error("Connected() should be false after a fatal connect timeout")
	}

	// Once fatal, the error is sticky.
	if err := tc.HandleTimeEvents(past); !errors.Is(err, ErrConnectTimeout) {
		t.Errorf("HandleTimeEvents() after fatal = %v, want ErrConnectTimeout again", err)
	}
}

func connectedTunnel(t *testing.T, now time.Time) *TunnelConnection {
	t.Helper()
	tc := NewTunnelConnection(now, testHPAI(), DefaultConfig())
	tc.GetOutboundData(now)
	resp := ConnectResponse{Channel: 0x15, Status: StatusNoError, DataHPAI: testHPAI(), CRD: CRD{AssignedAddress: 0x110A}}
	tc.HandleInboundMessage(now, resp.Encode())
	return tc
}

func TestSendEnqueuesRetriedRequest(t *testing.T) {
	now := time.Unix(0, 0)
	tc := connectedTunnel(t, now)

	tc.Send(now, GroupEvent{Address: 0x000A, Type: EventWrite, Value: &Bit{Value: true}})

	data, ok := tc.GetOutboundData(now)
	if !ok {
		t.Fatal("expected the queued TunnelRequest")
	}
	svc, err := DecodeService(data)
	if err != nil {
		t.Fatalf("DecodeService: %v", err)
	}
	if svc.TunnelRequest == nil {
		t.Fatal("expected a TunnelRequest")
	}
	if svc.TunnelRequest.Sequence != 0 {
		t.Errorf("Sequence = %d, want 0", svc.TunnelRequest.Sequence)
	}
}

func TestSendRetriesAfterResendInterval(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Unix(0, 0)
	tc := NewTunnelConnection(now, testHPAI(), cfg)
	tc.GetOutboundData(now) // hands out the initial ConnectRequest

	later := now.Add(cfg.ResendInterval + time.Millisecond)
	if err := tc.HandleTimeEvents(later); err != nil {
		t.Fatalf("HandleTimeEvents: %v", err)
	}
	if _, ok := tc.GetOutboundData(later); !ok {
		t.Error("expected the unacked ConnectRequest to be resent")
	}
}

func TestTunnelAckPopsOutQueue(t *testing.T) {
	now := time.Unix(0, 0)
	tc := connectedTunnel(t, now)
	tc.Send(now, GroupEvent{Address: 0x000A, Type: EventWrite, Value: &Bit{Value: true}})
	tc.GetOutboundData(now)

	ack := TunnelAck{Channel: 0x15, Sequence: 0, Status: StatusNoError}
	if ev := tc.HandleInboundMessage(now, ack.Encode()); ev != nil {
		t.Errorf("TunnelAck should not surface a GroupEvent, got %+v", ev)
	}

	// With the queue drained, the only live deadline is the heartbeat: a
	// stale resend or timeout deadline left in the past would spin a host
	// loop that sizes its sleep from GetNextTimeEvent.
	if got, want := tc.GetNextTimeEvent(), now.Add(cfg().HeartbeatInterval); !got.Equal(want) {
		t.Fatalf("GetNextTimeEvent() = %v, want the heartbeat deadline %v", got, want)
	}
	// out_queue is now empty; a subsequent resend deadline must not hand
	// back a stale frame.
	if _, ok := tc.GetOutboundData(now.Add(cfg().ResendInterval + time.Millisecond)); ok {
		t.Error("expected nothing pending once the ack drained the queue")
	}
}

func cfg() Config { return DefaultConfig() }

func TestHandleInboundMessageSurfacesGroupWrite(t *testing.T) {
	now := time.Unix(0, 0)
	tc := connectedTunnel(t, now)

	ld := DefaultLData(0x000A, NewGroupValueWrite(&Opaque{Bytes: []byte{0x01}}))
	ld.Source = 0x1102
	req := TunnelRequest{Channel: 0x15, Sequence: 0, Message: Message{Code: LDataInd, LData: ld}}

	ev := tc.HandleInboundMessage(now, req.Encode())
	if ev == nil {
		t.Fatal("expected a GroupEvent for a new TunnelRequest")
	}
	if ev.Address != 0x000A || ev.Type != EventWrite {
		t.Errorf("GroupEvent = %+v", ev)
	}
	opaque, ok := ev.Value.(*Opaque)
	if !ok || len(opaque.Bytes) != 1 || opaque.Bytes[0] != 0x01 {
		t.Errorf("Value = %+v, want Opaque{[01]}", ev.Value)
	}

	// The ack must now be queued ahead of anything else.
	data, ok := tc.GetOutboundData(now)
	if !ok {
		t.Fatal("expected the TunnelAck to be queued")
	}
	svc, err := DecodeService(data)
	if err != nil {
		t.Fatalf("DecodeService: %v", err)
	}
	if svc.TunnelAck == nil || svc.TunnelAck.Sequence != 0 {
		t.Errorf("expected a TunnelAck for sequence 0, got %+v", svc)
	}
}

func TestHandleInboundMessageDuplicateRequestIsAckedNotDelivered(t *testing.T) {
	now := time.Unix(0, 0)
	tc := connectedTunnel(t, now)

	ld := DefaultLData(0x000A, NewGroupValueRead())
	req := TunnelRequest{Channel: 0x15, Sequence: 0, Message: Message{Code: LDataInd, LData: ld}}

	if ev := tc.HandleInboundMessage(now, req.Encode()); ev == nil {
		t.Fatal("expected the first delivery to surface a GroupEvent")
	}
	tc.GetOutboundData(now) // drain the ack

	// Gateway never saw our ack and resends the same sequence.
	if ev := tc.HandleInboundMessage(now, req.Encode()); ev != nil {
		t.Errorf("duplicate TunnelRequest should not surface a GroupEvent, got %+v", ev)
	}
	data, ok := tc.GetOutboundData(now)
	if !ok {
		t.Fatal("expected a repeat TunnelAck for the duplicate")
	}
	svc, err := DecodeService(data)
	if err != nil {
		t.Fatalf("DecodeService: %v", err)
	}
	if svc.TunnelAck == nil || svc.TunnelAck.Sequence != 0 {
		t.Errorf("expected TunnelAck sequence 0 again, got %+v", svc)
	}
}

func TestHeartbeatSentAfterInterval(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Unix(0, 0)
	tc := connectedTunnel(t, now)

	later := now.Add(cfg.HeartbeatInterval + time.Millisecond)
	if err := tc.HandleTimeEvents(later); err != nil {
		t.Fatalf("HandleTimeEvents: %v", err)
	}
	data, ok := tc.GetOutboundData(later)
	if !ok {
		t.Fatal("expected a ConnectionStateRequest heartbeat probe")
	}
	svc, err := DecodeService(data)
	if err != nil {
		t.Fatalf("DecodeService: %v", err)
	}
	if svc.ConnectionStateRequest == nil {
		t.Fatal("expected a ConnectionStateRequest")
	}
}

func TestSecondSendWaitsBehindInFlightRequest(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Unix(0, 0)
	tc := connectedTunnel(t, now)

	tc.Send(now, GroupEvent{Address: 0x000A, Type: EventWrite, Value: &Bit{Value: true}})
	tc.Send(now, GroupEvent{Address: 0x000B, Type: EventWrite, Value: &Bit{Value: false}})

	// Only the first request is in flight; the second must not be handed
	// out, and the first's deadline must not have been extended by the
	// second Send call (invariant I1).
	data, ok := tc.GetOutboundData(now)
	if !ok {
		t.Fatal("expected the first queued TunnelRequest")
	}
	svc, err := DecodeService(data)
	if err != nil {
		t.Fatalf("DecodeService: %v", err)
	}
	if svc.TunnelRequest == nil || svc.TunnelRequest.Sequence != 0 {
		t.Fatalf("expected TunnelRequest seq 0, got %+v", svc)
	}
	if _, ok := tc.GetOutboundData(now); ok {
		t.Error("the second request should not be offered while the first is in flight")
	}

	// Ack the first; the second should now become the head and be armed
	// for immediate send.
	ack := TunnelAck{Channel: 0x15, Sequence: 0, Status: StatusNoError}
	tc.HandleInboundMessage(now, ack.Encode())

	data, ok = tc.GetOutboundData(now)
	if !ok {
		t.Fatal("expected the second request to become the new head after the ack")
	}
	svc, err = DecodeService(data)
	if err != nil {
		t.Fatalf("DecodeService: %v", err)
	}
	if svc.TunnelRequest == nil || svc.TunnelRequest.Sequence != 1 {
		t.Fatalf("expected TunnelRequest seq 1, got %+v", svc)
	}

	// And it retries on its own fresh deadline, not an extended one from
	// when it was enqueued.
	later := now.Add(cfg.ResendInterval + time.Millisecond)
	if err := tc.HandleTimeEvents(later); err != nil {
		t.Fatalf("HandleTimeEvents: %v", err)
	}
	if _, ok := tc.GetOutboundData(later); !ok {
		t.Error("expected the second request to be resent after its own resend interval")
	}
}

func TestGatewayDisconnectWithInFlightRequestStillReconnects(t *testing.T) {
	now := time.Unix(0, 0)
	tc := connectedTunnel(t, now)

	// A write is in flight, awaiting its TunnelAck, when the gateway
	// disconnects the channel.
	tc.Send(now, GroupEvent{Address: 0x000A, Type: EventWrite, Value: &Bit{Value: true}})
	tc.GetOutboundData(now)

	dreq := DisconnectRequest{Channel: 0x15, ControlHPAI: testHPAI()}
	tc.HandleInboundMessage(now, dreq.Encode())

	// The DisconnectResponse ack drains first; behind it the fresh
	// ConnectRequest must be armed even though a stale request occupied
	// the queue when the disconnect arrived.
	data, ok := tc.GetOutboundData(now)
	if !ok {
		t.Fatal("expected the DisconnectResponse ack")
	}
	svc, err := DecodeService(data)
	if err != nil {
		t.Fatalf("DecodeService: %v", err)
	}
	if svc.DisconnectResponse == nil {
		t.Fatal("expected a DisconnectResponse")
	}

	data, ok = tc.GetOutboundData(now)
	if !ok {
		t.Fatal("expected the fresh ConnectRequest to be armed")
	}
	svc, err = DecodeService(data)
	if err != nil {
		t.Fatalf("DecodeService: %v", err)
	}
	if svc.ConnectRequest == nil {
		t.Fatal("expected a ConnectRequest")
	}

	resp := ConnectResponse{Channel: 0x16, Status: StatusNoError, DataHPAI: testHPAI(), CRD: CRD{AssignedAddress: 0x110A}}
	tc.HandleInboundMessage(now, resp.Encode())
	if !tc.Connected() {
		t.Fatal("expected Connected() true after the reconnect handshake")
	}

	// The abandoned write's original deadline must not surface as a fatal
	// connect timeout once the session is back up.
	if err := tc.HandleTimeEvents(now.Add(cfg().ResponseTimeout + time.Millisecond)); err != nil {
		t.Fatalf("HandleTimeEvents() = %v, want nil", err)
	}
}

func TestDisconnectRequestFromGatewayTriggersReconnect(t *testing.T) {
	now := time.Unix(0, 0)
	tc := connectedTunnel(t, now)

	dreq := DisconnectRequest{Channel: 0x15, ControlHPAI: testHPAI()}
	if ev := tc.HandleInboundMessage(now, dreq.Encode()); ev != nil {
		t.Errorf("DisconnectRequest should not surface a GroupEvent, got %+v", ev)
	}
	if tc.State() != StateConnecting {
		t.Fatalf("State() = %v, want Connecting (reconnect issued)", tc.State())
	}

	// A DisconnectResponse (best-effort ack) should be waiting ahead of
	// the fresh ConnectRequest.
	data, ok := tc.GetOutboundData(now)
	if !ok {
		t.Fatal("expected the DisconnectResponse ack")
	}
	svc, err := DecodeService(data)
	if err != nil {
		t.Fatalf("DecodeService: %v", err)
	}
	if svc.DisconnectResponse == nil {
		t.Fatal("expected a DisconnectResponse")
	}
}

package knxtunnel

import (
	"encoding/binary"
	"fmt"
)

// ServiceID is the 16-bit KNXnet/IP service identifier carried in every
// frame header.
type ServiceID uint16

// Recognised KNXnet/IP service identifiers.
const (
	ServiceSearchRequest              ServiceID = 0x0201
	ServiceSearchResponse             ServiceID = 0x0202
	ServiceDescriptionRequest         ServiceID = 0x0203
	ServiceDescriptionResponse        ServiceID = 0x0204
	ServiceConnectRequest             ServiceID = 0x0205
	ServiceConnectResponse            ServiceID = 0x0206
	ServiceConnectionStateRequest     ServiceID = 0x0207
	ServiceConnectionStateResponse    ServiceID = 0x0208
	ServiceDisconnectRequest          ServiceID = 0x0209
	ServiceDisconnectResponse         ServiceID = 0x020A
	ServiceDeviceConfigurationRequest ServiceID = 0x0310
	ServiceDeviceConfigurationAck     ServiceID = 0x0311
	ServiceTunnelRequest              ServiceID = 0x0420
	ServiceTunnelAck                  ServiceID = 0x0421
	ServiceRoutingIndication          ServiceID = 0x0530
	ServiceRoutingLostMessage         ServiceID = 0x0531
)

// Frame header constants.
const (
	headerLen       = 6
	protocolVersion = 0x10
)

// EncodeHeader appends the fixed 6-byte KNXnet/IP header — header length,
// protocol version, service identifier, total frame length — for a
// service payload of payloadLen bytes.
func EncodeHeader(buf []byte, id ServiceID, payloadLen int) []byte {
	buf = append(buf, headerLen, protocolVersion)
	buf = binary.BigEndian.AppendUint16(buf, uint16(id))
	buf = binary.BigEndian.AppendUint16(buf, uint16(headerLen+payloadLen))
	return buf
}

// DecodeHeader decodes the fixed header, validating header length,
// protocol version, and that the declared total length matches the
// buffer actually supplied. It returns the service identifier and the
// remaining payload bytes.
func DecodeHeader(data []byte) (id ServiceID, payload []byte, err error) {
	if len(data) < headerLen {
		return 0, nil, fmt.Errorf("%w: header requires %d bytes, got %d", ErrHeaderTooShort, headerLen, len(data))
	}
	if data[0] != headerLen {
		return 0, nil, fmt.Errorf("%w: %#x", ErrUnknownHeaderSize, data[0])
	}
	if data[1] != protocolVersion {
		return 0, nil, fmt.Errorf("%w: %#x", ErrUnknownVersion, data[1])
	}

	id = ServiceID(binary.BigEndian.Uint16(data[2:4]))
	total := int(binary.BigEndian.Uint16(data[4:6]))
	if total != len(data) {
		return 0, nil, fmt.Errorf("%w: declared %d, actual %d", ErrInvalidHeaderSize, total, len(data))
	}

	return id, data[headerLen:], nil
}

// ConnectRequest is the client's initial handshake frame.
type ConnectRequest struct {
	ControlHPAI HPAI
	DataHPAI    HPAI
	CRI         CRI
}

// Encode renders the full ConnectRequest frame, including header.
func (r ConnectRequest) Encode() []byte {
	payload := r.ControlHPAI.Encode(nil)
	payload = r.DataHPAI.Encode(payload)
	payload = r.CRI.Encode(payload)
	buf := EncodeHeader(make([]byte, 0, headerLen+len(payload)), ServiceConnectRequest, len(payload))
	return append(buf, payload...)
}

// DecodeConnectRequestPayload decodes a ConnectRequest payload (header
// already stripped).
func DecodeConnectRequestPayload(payload []byte) (ConnectRequest, error) {
	control, err := DecodeHPAI(payload)
	if err != nil {
		return ConnectRequest{}, err
	}
	data, err := DecodeHPAI(payload[hpaiLen:])
	if err != nil {
		return ConnectRequest{}, err
	}
	cri, err := DecodeCRI(payload[2*hpaiLen:])
	if err != nil {
		return ConnectRequest{}, err
	}
	return ConnectRequest{ControlHPAI: control, DataHPAI: data, CRI: cri}, nil
}

// ConnectResponse is the gateway's reply to a ConnectRequest.
type ConnectResponse struct {
	Channel  uint8
	Status   StatusCode
	DataHPAI HPAI
	CRD      CRD
}

// Encode renders the full ConnectResponse frame, including header.
func (r ConnectResponse) Encode() []byte {
	payload := []byte{r.Channel, byte(r.Status)}
	payload = r.DataHPAI.Encode(payload)
	payload = r.CRD.Encode(payload)
	buf := EncodeHeader(make([]byte, 0, headerLen+len(payload)), ServiceConnectResponse, len(payload))
	return append(buf, payload...)
}

// DecodeConnectResponsePayload decodes a ConnectResponse payload (header
// already stripped).
func DecodeConnectResponsePayload(payload []byte) (ConnectResponse, error) {
	const fixedLen = 2
	if len(payload) < fixedLen {
		return ConnectResponse{}, fmt.Errorf("%w: ConnectResponse requires %d bytes, got %d", ErrMessageTooShort, fixedLen, len(payload))
	}
	status, err := ParseStatusCode(payload[1])
	if err != nil {
		return ConnectResponse{}, err
	}
	r := ConnectResponse{Channel: payload[0], Status: status}
	if status != StatusNoError {
		return r, nil
	}
	data, err := DecodeHPAI(payload[fixedLen:])
	if err != nil {
		return ConnectResponse{}, err
	}
	crd, err := DecodeCRD(payload[fixedLen+hpaiLen:])
	if err != nil {
		return ConnectResponse{}, err
	}
	r.DataHPAI = data
	r.CRD = crd
	return r, nil
}

// ConnectionStateRequest is a heartbeat probe sent by the client.
type ConnectionStateRequest struct {
	Channel     uint8
	ControlHPAI HPAI
}

// Encode renders the full ConnectionStateRequest frame, including header.
func (r ConnectionStateRequest) Encode() []byte {
	payload := []byte{r.Channel, 0x00}
	payload = r.ControlHPAI.Encode(payload)
	buf := EncodeHeader(make([]byte, 0, headerLen+len(payload)), ServiceConnectionStateRequest, len(payload))
	return append(buf, payload...)
}

// DecodeConnectionStateRequestPayload decodes a ConnectionStateRequest
// payload (header already stripped).
func DecodeConnectionStateRequestPayload(payload []byte) (ConnectionStateRequest, error) {
	const fixedLen = 2
	if len(payload) < fixedLen {
		return ConnectionStateRequest{}, fmt.Errorf("%w: ConnectionStateRequest requires %d bytes, got %d", ErrMessageTooShort, fixedLen, len(payload))
	}
	hpai, err := DecodeHPAI(payload[fixedLen:])
	if err != nil {
		return ConnectionStateRequest{}, err
	}
	return ConnectionStateRequest{Channel: payload[0], ControlHPAI: hpai}, nil
}

// ConnectionStateResponse is the gateway's reply to a heartbeat probe.
type ConnectionStateResponse struct {
	Channel uint8
	Status  StatusCode
}

// Encode renders the full ConnectionStateResponse frame, including header.
func (r ConnectionStateResponse) Encode() []byte {
	payload := []byte{r.Channel, byte(r.Status)}
	buf := EncodeHeader(make([]byte, 0, headerLen+len(payload)), ServiceConnectionStateResponse, len(payload))
	return append(buf, payload...)
}

// DecodeConnectionStateResponsePayload decodes a ConnectionStateResponse
// payload (header already stripped).
func DecodeConnectionStateResponsePayload(payload []byte) (ConnectionStateResponse, error) {
	const fixedLen = 2
	if len(payload) < fixedLen {
		return ConnectionStateResponse{}, fmt.Errorf("%w: ConnectionStateResponse requires %d bytes, got %d", ErrMessageTooShort, fixedLen, len(payload))
	}
	status, err := ParseStatusCode(payload[1])
	if err != nil {
		return ConnectionStateResponse{}, err
	}
	return ConnectionStateResponse{Channel: payload[0], Status: status}, nil
}

// DisconnectRequest tears down a tunneling session, from either side.
type DisconnectRequest struct {
	Channel     uint8
	ControlHPAI HPAI
}

// Encode renders the full DisconnectRequest frame, including header.
func (r DisconnectRequest) Encode() []byte {
	payload := []byte{r.Channel, 0x00}
	payload = r.ControlHPAI.Encode(payload)
	buf := EncodeHeader(make([]byte, 0, headerLen+len(payload)), ServiceDisconnectRequest, len(payload))
	return append(buf, payload...)
}

// DecodeDisconnectRequestPayload decodes a DisconnectRequest payload
// (header already stripped).
func DecodeDisconnectRequestPayload(payload []byte) (DisconnectRequest, error) {
	const fixedLen = 2
	if len(payload) < fixedLen {
		return DisconnectRequest{}, fmt.Errorf("%w: DisconnectRequest requires %d bytes, got %d", ErrMessageTooShort, fixedLen, len(payload))
	}
	hpai, err := DecodeHPAI(payload[fixedLen:])
	if err != nil {
		return DisconnectRequest{}, err
	}
	return DisconnectRequest{Channel: payload[0], ControlHPAI: hpai}, nil
}

// DisconnectResponse acknowledges a DisconnectRequest.
type DisconnectResponse struct {
	Channel uint8
	Status  StatusCode
}

// Encode renders the full DisconnectResponse frame, including header.
func (r DisconnectResponse) Encode() []byte {
	payload := []byte{r.Channel, byte(r.Status)}
	buf := EncodeHeader(make([]byte, 0, headerLen+len(payload)), ServiceDisconnectResponse, len(payload))
	return append(buf, payload...)
}

// DecodeDisconnectResponsePayload decodes a DisconnectResponse payload
// (header already stripped).
func DecodeDisconnectResponsePayload(payload []byte) (DisconnectResponse, error) {
	const fixedLen = 2
	if len(payload) < fixedLen {
		return DisconnectResponse{}, fmt.Errorf("%w: DisconnectResponse requires %d bytes, got %d", ErrMessageTooShort, fixedLen, len(payload))
	}
	status, err := ParseStatusCode(payload[1])
	if err != nil {
		return DisconnectResponse{}, err
	}
	return DisconnectResponse{Channel: payload[0], Status: status}, nil
}

// tunnelConnectionHeaderLen is the fixed 4-byte connection header
// (structure length, channel, sequence, reserved/status) that prefixes
// both TunnelRequest and TunnelAck payloads.
const tunnelConnectionHeaderLen = 0x04

// TunnelRequest carries one cEMI message over the tunnel, sequence-numbered
// per channel.
type TunnelRequest struct {
	Channel  uint8
	Sequence uint8
	Message  Message
}

// Encode renders the full TunnelRequest frame, including header.
func (r TunnelRequest) Encode() []byte {
	payload := []byte{tunnelConnectionHeaderLen, r.Channel, r.Sequence, 0x00}
	payload = r.Message.Encode(payload)
	buf := EncodeHeader(make([]byte, 0, headerLen+len(payload)), ServiceTunnelRequest, len(payload))
	return append(buf, payload...)
}

// DecodeTunnelRequestPayload decodes a TunnelRequest payload (header
// already stripped).
func DecodeTunnelRequestPayload(payload []byte) (TunnelRequest, error) {
	if len(payload) < tunnelConnectionHeaderLen {
		return TunnelRequest{}, fmt.Errorf("%w: TunnelRequest requires %d bytes, got %d", ErrMessageTooShort, tunnelConnectionHeaderLen, len(payload))
	}
	if payload[0] != tunnelConnectionHeaderLen {
		return TunnelRequest{}, fmt.Errorf("%w: TunnelRequest connection header length %d, expected %d", ErrInvalidSize, payload[0], tunnelConnectionHeaderLen)
	}
	msg, err := DecodeMessage(payload[tunnelConnectionHeaderLen:])
	if err != nil {
		return TunnelRequest{}, err
	}
	return TunnelRequest{Channel: payload[1], Sequence: payload[2], Message: msg}, nil
}

// TunnelAck acknowledges a TunnelRequest with the same sequence number.
type TunnelAck struct {
	Channel  uint8
	Sequence uint8
	Status   StatusCode
}

// Encode renders the full TunnelAck frame, including header.
func (r TunnelAck) Encode() []byte {
	payload := []byte{tunnelConnectionHeaderLen, r.Channel, r.Sequence, byte(r.Status)}
	buf := EncodeHeader(make([]byte, 0, headerLen+len(payload)), ServiceTunnelAck, len(payload))
	return append(buf, payload...)
}

// DecodeTunnelAckPayload decodes a TunnelAck payload (header already
// stripped).
func DecodeTunnelAckPayload(payload []byte) (TunnelAck, error) {
	if len(payload) < tunnelConnectionHeaderLen {
		return TunnelAck{}, fmt.Errorf("%w: TunnelAck requires %d bytes, got %d", ErrMessageTooShort, tunnelConnectionHeaderLen, len(payload))
	}
	if payload[0] != tunnelConnectionHeaderLen {
		return TunnelAck{}, fmt.Errorf("%w: TunnelAck connection header length %d, expected %d", ErrInvalidSize, payload[0], tunnelConnectionHeaderLen)
	}
	status, err := ParseStatusCode(payload[3])
	if err != nil {
		return TunnelAck{}, err
	}
	return TunnelAck{Channel: payload[1], Sequence: payload[2], Status: status}, nil
}

// Service is a decoded KNXnet/IP frame: the identifier that selected which
// field is populated, plus that one payload. Exactly one of the typed
// fields is meaningful per ID; the others are the zero value.
type Service struct {
	ID ServiceID

	ConnectRequest          *ConnectRequest
	ConnectResponse         *ConnectResponse
	ConnectionStateRequest  *ConnectionStateRequest
	ConnectionStateResponse *ConnectionStateResponse
	DisconnectRequest       *DisconnectRequest
	DisconnectResponse      *DisconnectResponse
	TunnelRequest           *TunnelRequest
	TunnelAck               *TunnelAck
}

// DecodeService decodes a full KNXnet/IP frame (header included) into a
// Service. Services this core does not act on (discovery, routing, device
// configuration) decode to a bare Service{ID: id} with every typed field
// nil, which the tunnel connection's inbound dispatch ignores.
func DecodeService(data []byte) (Service, error) {
	id, payload, err := DecodeHeader(data)
	if err != nil {
		return Service{}, err
	}

	switch id {
	case ServiceConnectRequest:
		r, err := DecodeConnectRequestPayload(payload)
		if err != nil {
			return Service{}, err
		}
		return Service{ID: id, ConnectRequest: &r}, nil
	case ServiceConnectResponse:
		r, err := DecodeConnectResponsePayload(payload)
		if err != nil {
			return Service{}, err
		}
		return Service{ID: id, ConnectResponse: &r}, nil
	case ServiceConnectionStateRequest:
		r, err := DecodeConnectionStateRequestPayload(payload)
		if err != nil {
			return Service{}, err
		}
		return Service{ID: id, ConnectionStateRequest: &r}, nil
	case ServiceConnectionStateResponse:
		r, err := DecodeConnectionStateResponsePayload(payload)
		if err != nil {
			return Service{}, err
		}
		return Service{ID: id, ConnectionStateResponse: &r}, nil
	case ServiceDisconnectRequest:
		r, err := DecodeDisconnectRequestPayload(payload)
		if err != nil {
			return Service{}, err
		}
		return Service{ID: id, DisconnectRequest: &r}, nil
	case ServiceDisconnectResponse:
		r, err := DecodeDisconnectResponsePayload(payload)
		if err != nil {
			return Service{}, err
		}
		return Service{ID: id, DisconnectResponse: &r}, nil
	case ServiceTunnelRequest:
		r, err := DecodeTunnelRequestPayload(payload)
		if err != nil {
			return Service{}, err
		}
		return Service{ID: id, TunnelRequest: &r}, nil
	case ServiceTunnelAck:
		r, err := DecodeTunnelAckPayload(payload)
		if err != nil {
			return Service{}, err
		}
		return Service{ID: id, TunnelAck: &r}, nil
	default:
		return Service{ID: id}, nil
	}
}

package knxtunnel

import (
	"encoding/binary"
	"fmt"
)

// ConnectionType identifies the kind of connection a CRI/CRD negotiates.
// The core only ever requests TunnelConnection.
type ConnectionType uint8

// TunnelConnectionType is the only connection type this core supports.
const TunnelConnectionType ConnectionType = 0x04

// TunnelingLayer selects the cEMI layer exposed over the tunnel.
type TunnelingLayer uint8

// Recognised tunneling layers.
const (
	LinkLayer   TunnelingLayer = 0x02
	RawLayer    TunnelingLayer = 0x04
	BusmonLayer TunnelingLayer = 0x80
)

const criCrdLen = 4

// CRI is Connection Request Information: for tunneling connections, the
// cEMI layer the client wants exposed.
type CRI struct {
	Layer TunnelingLayer
}

// Encode appends the 4-byte CRI wire form: `04 04 LAYER 00`.
func (c CRI) Encode(buf []byte) []byte {
	return append(buf, criCrdLen, byte(TunnelConnectionType), byte(c.Layer), 0x00)
}

// DecodeCRI decodes a 4-byte tunneling CRI from the front of data.
func DecodeCRI(data []byte) (CRI, error) {
	if len(data) < criCrdLen {
		return CRI{}, fmt.Errorf("%w: CRI requires %d bytes, got %d", ErrMessageTooShort, criCrdLen, len(data))
	}
	if data[0] != criCrdLen {
		return CRI{}, fmt.Errorf("%w: CRI declared length %d, expected %d", ErrInvalidSize, data[0], criCrdLen)
	}
	if ConnectionType(data[1]) != TunnelConnectionType {
		return CRI{}, fmt.Errorf("%w: CRI connection type %#x", ErrUnknownConnectionType, data[1])
	}
	layer := TunnelingLayer(data[2])
	if layer != LinkLayer && layer != RawLayer && layer != BusmonLayer {
		return CRI{}, fmt.Errorf("%w: CRI layer %#x", ErrUnknownLayer, data[2])
	}
	return CRI{Layer: layer}, nil
}

// CRD is Connection Response Data: for tunneling connections, the
// individual address the gateway assigned the client for the session.
type CRD struct {
	AssignedAddress uint16
}

// Encode appends the 4-byte CRD wire form: `04 04 A0 A1`.
func (c CRD) Encode(buf []byte) []byte {
	buf = append(buf, criCrdLen, byte(TunnelConnectionType))
	buf = binary.BigEndian.AppendUint16(buf, c.AssignedAddress)
	return buf
}

// DecodeCRD decodes a 4-byte tunneling CRD from the front of data.
func DecodeCRD(data []byte) (CRD, error) {
	if len(data) < criCrdLen {
		return CRD{}, fmt.Errorf("%w: CRD requires %d bytes, got %d", ErrMessageTooShort, criCrdLen, len(data))
	}
	if data[0] != criCrdLen {
		return CRD{}, fmt.Errorf("%w: CRD declared length %d, expected %d", ErrInvalidSize, data[0], criCrdLen)
	}
	if ConnectionType(data[1]) != TunnelConnectionType {
		return CRD{}, fmt.Errorf("%w: CRD connection type %#x", ErrUnknownConnectionType, data[1])
	}
	return CRD{AssignedAddress: binary.BigEndian.Uint16(data[2:4])}, nil
}

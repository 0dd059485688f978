package knxtunnel

import (
	"encoding/binary"
	"fmt"
	"net"
)

// HostProtocol identifies the transport an HPAI describes.
type HostProtocol uint8

// Recognised host protocols.
const (
	ProtocolUDP4 HostProtocol = 0x01
	ProtocolTCP4 HostProtocol = 0x02
)

// hpaiLen is the fixed wire length of an HPAI structure.
const hpaiLen = 8

// HPAI is Host Protocol Address Information: a transport, an IPv4 address,
// and a port. Fixed wire length 8.
type HPAI struct {
	Protocol HostProtocol
	Address  [4]byte
	Port     uint16
}

// NewHPAI builds an HPAI for a UDP/IPv4 endpoint.
func NewHPAI(addr net.IP, port uint16) HPAI {
	var a [4]byte
	copy(a[:], addr.To4())
	return HPAI{Protocol: ProtocolUDP4, Address: a, Port: port}
}

// IP returns the address as a net.IP.
func (h HPAI) IP() net.IP {
	return net.IPv4(h.Address[0], h.Address[1], h.Address[2], h.Address[3])
}

// Encode appends the 8-byte HPAI wire form: `08 PROT A0 A1 A2 A3 P0 P1`.
func (h HPAI) Encode(buf []byte) []byte {
	buf = append(buf, hpaiLen, byte(h.Protocol))
	buf = append(buf, h.Address[:]...)
	buf = binary.BigEndian.AppendUint16(buf, h.Port)
	return buf
}

// DecodeHPAI decodes an 8-byte HPAI structure from the front of data.
func DecodeHPAI(data []byte) (HPAI, error) {
	if len(data) < hpaiLen {
		return HPAI{}, fmt.Errorf("%w: HPAI requires %d bytes, got %d", ErrMessageTooShort, hpaiLen, len(data))
	}
	if data[0] != hpaiLen {
		return HPAI{}, fmt.Errorf("%w: HPAI declared length %d, expected %d", ErrInvalidSize, data[0], hpaiLen)
	}

	proto := HostProtocol(data[1])
	if proto != ProtocolUDP4 && proto != ProtocolTCP4 {
		return HPAI{}, fmt.Errorf("%w: HPAI protocol %#x", ErrNotImplemented, data[1])
	}

	var addr [4]byte
	copy(addr[:], data[2:6])
	port := binary.BigEndian.Uint16(data[6:8])

	return HPAI{Protocol: proto, Address: addr, Port: port}, nil
}

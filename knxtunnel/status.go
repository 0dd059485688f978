package knxtunnel

import "fmt"

// StatusCode is the 1-byte status carried by KNXnet/IP response frames.
type StatusCode uint8

// Recognised status codes.
const (
	StatusNoError                 StatusCode = 0x00
	StatusHostProtocolType        StatusCode = 0x01
	StatusVersionNotSupported     StatusCode = 0x02
	StatusSequenceNumber          StatusCode = 0x04
	StatusConnectionID            StatusCode = 0x21
	StatusConnectionType          StatusCode = 0x22
	StatusConnectionOption        StatusCode = 0x23
	StatusNoMoreConnections       StatusCode = 0x24
	StatusNoMoreUniqueConnections StatusCode = 0x25
	StatusDataConnection          StatusCode = 0x26
	StatusKNXConnection           StatusCode = 0x27
	StatusTunnellingLayer         StatusCode = 0x29
)

// String names the status code for logging.
func (s StatusCode) String() string {
	switch s {
	case StatusNoError:
		return "NoError"
	case StatusHostProtocolType:
		return "HostProtocolType"
	case StatusVersionNotSupported:
		return "VersionNotSupported"
	case StatusSequenceNumber:
		return "SequenceNumber"
	case StatusConnectionID:
		return "ConnectionID"
	case StatusConnectionType:
		return "ConnectionType"
	case StatusConnectionOption:
		return "ConnectionOption"
	case StatusNoMoreConnections:
		return "NoMoreConnections"
	case StatusNoMoreUniqueConnections:
		return "NoMoreUniqueConnections"
	case StatusDataConnection:
		return "DataConnection"
	case StatusKNXConnection:
		return "KNXConnection"
	case StatusTunnellingLayer:
		return "TunnellingLayer"
	default:
		return fmt.Sprintf("Unknown(%#x)", uint8(s))
	}
}

// ParseStatusCode validates a raw status byte, returning ErrUnknownStatus
// for values outside the recognised set.
func ParseStatusCode(b byte) (StatusCode, error) {
	switch StatusCode(b) {
	case StatusNoError, StatusHostProtocolType, StatusVersionNotSupported, StatusSequenceNumber,
		StatusConnectionID, StatusConnectionType, StatusConnectionOption, StatusNoMoreConnections,
		StatusNoMoreUniqueConnections, StatusDataConnection, StatusKNXConnection, StatusTunnellingLayer:
		return StatusCode(b), nil
	default:
		return 0, fmt.Errorf("%w: %#x", ErrUnknownStatus, b)
	}
}

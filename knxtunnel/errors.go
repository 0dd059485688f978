package knxtunnel

import "errors"

// Domain errors for the knxtunnel package.
var (
	// ErrInvalidIndividualAddress is returned when an individual address
	// string cannot be parsed.
	ErrInvalidIndividualAddress = errors.New("knxtunnel: invalid individual address")

	// ErrInvalidGroupAddress is returned when a group address string
	// cannot be parsed.
	ErrInvalidGroupAddress = errors.New("knxtunnel: invalid group address")

	// ErrInvalidDPT is returned when a DPT value cannot encode or decode
	// the requested payload.
	ErrInvalidDPT = errors.New("knxtunnel: invalid datapoint value")

	// ErrMessageTooShort is returned when a buffer is too short to contain
	// a declared or expected structure.
	ErrMessageTooShort = errors.New("knxtunnel: message too short")

	// ErrHeaderTooShort is returned when a buffer is too short to contain
	// even the fixed KNXnet/IP header.
	ErrHeaderTooShort = errors.New("knxtunnel: header too short")

	// ErrUnknownHeaderSize is returned when the header length byte is not
	// the one fixed value the protocol defines.
	ErrUnknownHeaderSize = errors.New("knxtunnel: unknown header size")

	// ErrInvalidHeaderSize is returned when the frame's declared total
	// length does not match the number of bytes actually supplied.
	ErrInvalidHeaderSize = errors.New("knxtunnel: invalid header size")

	// ErrUnknownVersion is returned when the protocol version byte is not
	// the one this package implements.
	ErrUnknownVersion = errors.New("knxtunnel: unknown protocol version")

	// ErrUnknownService is returned when a service identifier does not
	// match any service this package recognises.
	ErrUnknownService = errors.New("knxtunnel: unknown service identifier")

	// ErrUnknownStatus is returned when a status byte does not match any
	// status code this package recognises.
	ErrUnknownStatus = errors.New("knxtunnel: unknown status code")

	// ErrUnknownConnectionType is returned when a CRI/CRD connection type
	// byte is not TunnelConnection.
	ErrUnknownConnectionType = errors.New("knxtunnel: unknown connection type")

	// ErrUnknownLayer is returned when a CRI tunneling-layer byte is not
	// recognised.
	ErrUnknownLayer = errors.New("knxtunnel: unknown tunneling layer")

	// ErrNotImplemented is returned when decoding a structurally valid but
	// unsupported variant (an APCI selector outside the recognised set, an
	// HPAI host protocol other than UDP4/TCP4).
	ErrNotImplemented = errors.New("knxtunnel: not implemented")

	// ErrInvalidSize is returned when a decoded field's declared size
	// does not match what the wire format requires.
	ErrInvalidSize = errors.New("knxtunnel: invalid size")

	// ErrConnectTimeout is the fatal-to-session error surfaced from
	// HandleTimeEvents when the initial ConnectRequest is never
	// answered within response_timeout. The session cannot proceed
	// without a channel; the host must decide whether to rebuild the
	// TunnelConnection and retry at a higher level.
	ErrConnectTimeout = errors.New("knxtunnel: connect request timed out")
)

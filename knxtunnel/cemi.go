package knxtunnel

import (
	"encoding/binary"
	"fmt"
)

// L_Data control-field option values (OR'd together to build control1/control2).
const (
	FrameTypeExtended = 0x00
	FrameTypeStandard = 0x80

	RepetitionRepeat   = 0x00
	RepetitionNoRepeat = 0x20

	BroadcastSystem = 0x00
	BroadcastNormal = 0x10

	PrioritySystem  = 0x00
	PriorityUrgent  = 0x08
	PriorityNormal  = 0x04
	PriorityLow     = 0x0C

	AckRequestNoAck = 0x00
	AckRequestAck   = 0x02

	ConfirmNoError = 0x00
	ConfirmError   = 0x01

	AddressTypeIndividual = 0x00
	AddressTypeGroup      = 0x80

	FrameFormatStandard = 0x00

	defaultHopCount = 6

	tpciControlBit  = 0x80
	tpciNumberedBit = 0x40
	tpciSeqShift    = 2
	tpciSeqMask     = 0x0F
	tpciAPCIMask    = 0x03

	hopCountMask    = 0x07
	hopCountShift   = 4
	frameFormatMask = 0x07
)

// LData is an L_Data link-layer frame: the fields a cEMI L_Data.* message
// carries between source and destination on the bus.
type LData struct {
	FrameType   uint8
	Repetition  uint8
	Broadcast   uint8
	Priority    uint8
	AckRequest  uint8
	Confirm     uint8
	AddressType uint8
	HopCount    uint8
	FrameFormat uint8

	Source      uint16
	Destination uint16

	TPCIControl  bool
	TPCINumbered bool
	Sequence     uint8

	APDU APDU
}

// DefaultLData returns the L_Data defaults the tunnel connection uses for
// outbound group traffic: Standard, NoRepeat, Broadcast, Low priority,
// NoAck, NoError, Group destination, hop count 6.
func DefaultLData(destination uint16, apdu APDU) LData {
	return LData{
		FrameType:   FrameTypeStandard,
		Repetition:  RepetitionNoRepeat,
		Broadcast:   BroadcastNormal,
		Priority:    PriorityLow,
		AckRequest:  AckRequestNoAck,
		Confirm:     ConfirmNoError,
		AddressType: AddressTypeGroup,
		HopCount:    defaultHopCount,
		FrameFormat: FrameFormatStandard,
		Destination: destination,
		APDU:        apdu,
	}
}

// Encode appends the L_Data wire bytes to buf.
func (l LData) Encode(buf []byte) []byte {
	control1 := l.FrameType | l.Repetition | l.Broadcast | l.Priority | l.AckRequest | l.Confirm
	control2 := l.AddressType | ((l.HopCount & hopCountMask) << hopCountShift) | (l.FrameFormat & frameFormatMask)

	apciHigh2, body := encodeAPDU(l.APDU)

	tpci := byte(apciHigh2 & tpciAPCIMask)
	if l.TPCIControl {
		tpci |= tpciControlBit
	}
	if l.TPCINumbered {
		tpci |= tpciNumberedBit
	}
	tpci |= (l.Sequence & tpciSeqMask) << tpciSeqShift

	buf = append(buf, byte(control1), byte(control2))
	buf = binary.BigEndian.AppendUint16(buf, l.Source)
	buf = binary.BigEndian.AppendUint16(buf, l.Destination)
	buf = append(buf, byte(len(body)), tpci)
	buf = append(buf, body...)
	return buf
}

const lDataFixedLen = 8 // control1, control2, source(2), destination(2), apdu-length, tpci

// DecodeLData decodes an L_Data frame from data. data must contain exactly
// the L_Data bytes (no trailing garbage); it is sized by the caller from
// the cEMI message's additional-information length.
func DecodeLData(data []byte) (LData, error) {
	if len(data) < lDataFixedLen {
		return LData{}, fmt.Errorf("%w: L_Data requires %d bytes, got %d", ErrMessageTooShort, lDataFixedLen, len(data))
	}

	control1 := data[0]
	control2 := data[1]
	source := binary.BigEndian.Uint16(data[2:4])
	destination := binary.BigEndian.Uint16(data[4:6])
	apduLen := int(data[6])
	tpci := data[7]

	if len(data) < lDataFixedLen+apduLen {
		return LData{}, fmt.Errorf("%w: L_Data APDU body truncated, want %d got %d", ErrMessageTooShort, apduLen, len(data)-lDataFixedLen)
	}
	body := data[lDataFixedLen : lDataFixedLen+apduLen]

	apdu, err := decodeAPDU(tpci&tpciAPCIMask, body)
	if err != nil {
		return LData{}, err
	}

	return LData{
		FrameType:    control1 & FrameTypeStandard,
		Repetition:   control1 & RepetitionNoRepeat,
		Broadcast:    control1 & BroadcastNormal,
		Priority:     control1 & (PriorityLow | PriorityUrgent | PriorityNormal),
		AckRequest:   control1 & AckRequestAck,
		Confirm:      control1 & ConfirmError,
		AddressType:  control2 & AddressTypeGroup,
		HopCount:     (control2 >> hopCountShift) & hopCountMask,
		FrameFormat:  control2 & frameFormatMask,
		Source:       source,
		Destination:  destination,
		TPCIControl:  tpci&tpciControlBit != 0,
		TPCINumbered: tpci&tpciNumberedBit != 0,
		Sequence:     (tpci >> tpciSeqShift) & tpciSeqMask,
		APDU:         apdu,
	}, nil
}

// MessageCode identifies the kind of cEMI message.
type MessageCode uint8

// Recognised cEMI message codes. Only the L_Data.* variants are interpreted
// by the tunnel connection; the others are acknowledged (per the
// handle_inbound_message contract's unconditional TunnelAck) but otherwise
// unused.
const (
	LRawReq    MessageCode = 0x10
	LDataReq   MessageCode = 0x11
	LBusmonInd MessageCode = 0x2B
	LDataInd   MessageCode = 0x29
	LDataCon   MessageCode = 0x2E
	LRawInd    MessageCode = 0x2D
	LRawCon    MessageCode = 0x2F
	MResetReq  MessageCode = 0xF1
)

func (c MessageCode) isLData() bool {
	return c == LDataReq || c == LDataInd || c == LDataCon
}

// Message is a cEMI message: a message code, an additional-information
// vector, and (for L_Data.* codes) the L_Data frame it carries.
type Message struct {
	Code           MessageCode
	AdditionalInfo []byte
	LData          LData
}

// NewLDataReqMessage wraps ld in an L_Data.req message with no
// additional-information (the core never emits any).
func NewLDataReqMessage(ld LData) Message {
	return Message{Code: LDataReq, LData: ld}
}

// Encode appends the cEMI message wire bytes to buf: message code,
// additional-information length and bytes, then the L_Data body for
// L_Data.* codes.
func (m Message) Encode(buf []byte) []byte {
	buf = append(buf, byte(m.Code), byte(len(m.AdditionalInfo)))
	buf = append(buf, m.AdditionalInfo...)
	if m.Code.isLData() {
		buf = m.LData.Encode(buf)
	}
	return buf
}

// DecodeMessage decodes a cEMI message. Additional-information bytes are
// skipped rather than interpreted (see the open question on
// additional-information decoding).
func DecodeMessage(data []byte) (Message, error) {
	const messageFixedLen = 2
	if len(data) < messageFixedLen {
		return Message{}, fmt.Errorf("%w: cEMI message requires %d bytes, got %d", ErrMessageTooShort, messageFixedLen, len(data))
	}

	code := MessageCode(data[0])
	ail := int(data[1])
	if len(data) < messageFixedLen+ail {
		return Message{}, fmt.Errorf("%w: cEMI additional-information truncated, want %d got %d", ErrMessageTooShort, ail, len(data)-messageFixedLen)
	}

	msg := Message{Code: code, AdditionalInfo: data[messageFixedLen : messageFixedLen+ail]}
	if code.isLData() {
		ld, err := DecodeLData(data[messageFixedLen+ail:])
		if err != nil {
			return Message{}, err
		}
		msg.LData = ld
	}
	return msg, nil
}

package knxtunnel

import "fmt"

// APCI is the 10-bit application-control-information opcode carried by an
// APDU. Only the top 4 bits are assigned by the variants this core
// recognises; the low 6 bits of the wire byte are reserved for an inlined
// short value.
type APCI uint16

// Recognised APCI codes (binary layout per the frame codec: top 4 bits
// identify the operation, low 6 bits are zero in the table and free for
// inlining).
const (
	apciGroupValueRead             APCI = 0x000
	apciGroupValueResponse         APCI = 0x040
	apciGroupValueWrite            APCI = 0x080
	apciIndividualAddressWrite     APCI = 0x0C0
	apciIndividualAddressRead      APCI = 0x100
	apciIndividualAddressResponse  APCI = 0x140
	apciAdcRead                    APCI = 0x180
	apciAdcResponse                APCI = 0x1C0
	apciInlineMask                      = 0x3F
	apciSelectorShift                   = 6
)

// APDUTag identifies which application-layer operation an APDU carries.
type APDUTag uint8

// Recognised APDU tags.
const (
	GroupValueRead APDUTag = iota
	GroupValueResponse
	GroupValueWrite
	IndividualAddressWrite
	IndividualAddressRead
	IndividualAddressResponse
	AdcRead
	AdcResponse
	// APDUNone is the sentinel for "no APDU" — never produced by the
	// codec, used by callers constructing an empty/invalid APDU.
	APDUNone
)

// String names the tag for logging.
func (t APDUTag) String() string {
	switch t {
	case GroupValueRead:
		return "GroupValueRead"
	case GroupValueResponse:
		return "GroupValueResponse"
	case GroupValueWrite:
		return "GroupValueWrite"
	case IndividualAddressWrite:
		return "IndividualAddressWrite"
	case IndividualAddressRead:
		return "IndividualAddressRead"
	case IndividualAddressResponse:
		return "IndividualAddressResponse"
	case AdcRead:
		return "AdcRead"
	case AdcResponse:
		return "AdcResponse"
	default:
		return "None"
	}
}

func apciForTag(tag APDUTag) APCI {
	switch tag {
	case GroupValueRead:
		return apciGroupValueRead
	case GroupValueResponse:
		return apciGroupValueResponse
	case GroupValueWrite:
		return apciGroupValueWrite
	case IndividualAddressWrite:
		return apciIndividualAddressWrite
	case IndividualAddressRead:
		return apciIndividualAddressRead
	case IndividualAddressResponse:
		return apciIndividualAddressResponse
	case AdcRead:
		return apciAdcRead
	case AdcResponse:
		return apciAdcResponse
	default:
		return apciGroupValueRead
	}
}

// APDU is the application-protocol data unit: an operation tag plus its
// inline payload. Value is only meaningful for GroupValueWrite and
// GroupValueResponse; it is Unit{} for every other tag (individual-address
// and ADC services carry no payload in this core — see the open question
// on multiple-APDU services).
type APDU struct {
	Tag   APDUTag
	Value DPT
}

// NewGroupValueRead builds a read APDU (no payload).
func NewGroupValueRead() APDU { return APDU{Tag: GroupValueRead, Value: &Unit{}} }

// NewGroupValueWrite builds a write APDU carrying value.
func NewGroupValueWrite(value DPT) APDU { return APDU{Tag: GroupValueWrite, Value: value} }

// NewGroupValueResponse builds a response APDU carrying value.
func NewGroupValueResponse(value DPT) APDU { return APDU{Tag: GroupValueResponse, Value: value} }

// encodeAPDU encodes apdu into the high 2 bits of the APCI (destined for
// the TPCI byte) and the APDU body (the low-APCI byte, possibly OR'd with
// an inlined short value, followed by any overflow DPT bytes).
func encodeAPDU(apdu APDU) (apciHigh2 byte, body []byte) {
	apci := apciForTag(apdu.Tag)
	apciHigh2 = byte((apci >> 8) & 0x3)
	apciLow := byte(apci & 0xFF)

	if apdu.Tag != GroupValueWrite && apdu.Tag != GroupValueResponse {
		return apciHigh2, []byte{apciLow}
	}

	value := apdu.Value
	if value == nil {
		value = &Unit{}
	}

	const inlineBitLimit = 6
	if value.BitLen() <= inlineBitLimit {
		valBuf := value.Encode(nil)
		var inline byte
		if len(valBuf) > 0 {
			inline = valBuf[0] & apciInlineMask
		}
		return apciHigh2, []byte{apciLow | inline}
	}

	body = append(body, apciLow)
	body = value.Encode(body)
	return apciHigh2, body
}

// decodeAPDU decodes an APDU from its TPCI-carried high APCI bits and its
// body bytes (the low-APCI byte followed by any DPT overflow bytes).
// GroupValueWrite/Response payloads decode to Opaque per the symmetric
// inlining rule; the caller reinterprets with its own DPT.
func decodeAPDU(apciHigh2 byte, body []byte) (APDU, error) {
	if len(body) < 1 {
		return APDU{}, fmt.Errorf("%w: APDU body is empty", ErrMessageTooShort)
	}

	selector := (uint16(apciHigh2) << 2) | uint16(body[0]>>apciSelectorShift)

	switch selector {
	case uint16(apciGroupValueRead >> apciSelectorShift):
		return APDU{Tag: GroupValueRead, Value: &Unit{}}, nil
	case uint16(apciGroupValueResponse >> apciSelectorShift):
		v := opaqueFromAPDUBody(body)
		return APDU{Tag: GroupValueResponse, Value: &v}, nil
	case uint16(apciGroupValueWrite >> apciSelectorShift):
		v := opaqueFromAPDUBody(body)
		return APDU{Tag: GroupValueWrite, Value: &v}, nil
	case uint16(apciIndividualAddressWrite >> apciSelectorShift):
		return APDU{Tag: IndividualAddressWrite, Value: &Unit{}}, nil
	case uint16(apciIndividualAddressRead >> apciSelectorShift):
		return APDU{Tag: IndividualAddressRead, Value: &Unit{}}, nil
	case uint16(apciIndividualAddressResponse >> apciSelectorShift):
		return APDU{Tag: IndividualAddressResponse, Value: &Unit{}}, nil
	case uint16(apciAdcRead >> apciSelectorShift):
		return APDU{Tag: AdcRead, Value: &Unit{}}, nil
	case uint16(apciAdcResponse >> apciSelectorShift):
		return APDU{Tag: AdcResponse, Value: &Unit{}}, nil
	default:
		return APDU{}, fmt.Errorf("%w: unrecognised APCI selector %#x", ErrNotImplemented, selector)
	}
}

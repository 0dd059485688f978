package knxtunnel

import (
	"fmt"
	"math"
)

// DPT is a typed value that knows its own bit length and can encode itself
// into, or decode itself from, a byte buffer. The core keeps no
// address-to-DPT registry; callers attach the DPT variant they expect to
// each address themselves.
type DPT interface {
	// BitLen reports the value's encoded length in bits.
	BitLen() int

	// Encode appends the value's wire bytes to buf and returns the result.
	Encode(buf []byte) []byte

	// Decode populates the value from its wire bytes.
	Decode(data []byte) error
}

// Opaque carries an arbitrary byte payload whose meaning the caller
// supplies out of band. Inbound group events always decode to Opaque; the
// caller reinterprets the bytes with its own DPT.
type Opaque struct {
	Bytes []byte
}

// BitLen returns 8 times the number of bytes held.
func (o Opaque) BitLen() int { return 8 * len(o.Bytes) }

// Encode appends the raw bytes as-is.
func (o Opaque) Encode(buf []byte) []byte { return append(buf, o.Bytes...) }

// Decode copies data verbatim.
func (o *Opaque) Decode(data []byte) error {
	o.Bytes = append([]byte(nil), data...)
	return nil
}

// opaqueFromAPDUBody builds an Opaque value from the APDU body bytes of an
// inbound GroupValueWrite/Response, honouring the 6-bit inlining rule
// symmetrically with the encoder: a single remaining byte carries the
// value in its low 6 bits; two or more bytes are the value verbatim,
// starting after the low-APCI byte.
func opaqueFromAPDUBody(body []byte) Opaque {
	if len(body) == 1 {
		return Opaque{Bytes: []byte{body[0] & apciInlineMask}}
	}
	if len(body) >= 2 {
		return Opaque{Bytes: append([]byte(nil), body[1:]...)}
	}
	return Opaque{}
}

// Bit is a single-bit boolean DPT (DPT 1.xxx: switch, bool, step, ...).
type Bit struct {
	Value bool
}

// BitLen always returns 1.
func (b Bit) BitLen() int { return 1 }

// Encode appends a single byte with the LSB set to 0 or 1.
func (b Bit) Encode(buf []byte) []byte {
	if b.Value {
		return append(buf, 0x01)
	}
	return append(buf, 0x00)
}

// Decode reads the LSB of the first byte.
func (b *Bit) Decode(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("%w: Bit requires 1 byte, got %d", ErrInvalidDPT, len(data))
	}
	b.Value = data[0]&0x01 != 0
	return nil
}

// Unit is the zero-payload DPT used for services that carry no value
// (GroupValueRead).
type Unit struct{}

// BitLen always returns 0.
func (Unit) BitLen() int { return 0 }

// Encode appends nothing.
func (Unit) Encode(buf []byte) []byte { return buf }

// Decode accepts any input, including empty, and stores nothing.
func (*Unit) Decode([]byte) error { return nil }

// ScaledU8 maps a single byte linearly onto a declared [Min,Max] float
// range. Scaling (0-100%), Angle (0-360°), PercentU8 (0-255%), and
// DecimalFactor (0-255) are all the same encoding with different bounds.
type ScaledU8 struct {
	Value    float64
	Min, Max float64
}

const scaledU8Range = 255

// NewScaling builds a DPT 5.001 percentage value (0-100%).
func NewScaling(value float64) ScaledU8 { return ScaledU8{Value: value, Min: 0, Max: 100} }

// NewAngle builds a DPT 5.003 angle value (0-360°).
func NewAngle(value float64) ScaledU8 { return ScaledU8{Value: value, Min: 0, Max: 360} }

// NewPercentU8 builds a DPT 5.004 raw percentage value (0-255).
func NewPercentU8(value float64) ScaledU8 { return ScaledU8{Value: value, Min: 0, Max: 255} }

// NewDecimalFactor builds a DPT 5.005/5.010-style raw factor value (0-255).
func NewDecimalFactor(value float64) ScaledU8 { return ScaledU8{Value: value, Min: 0, Max: 255} }

// BitLen always returns 8.
func (ScaledU8) BitLen() int { return 8 }

// Encode appends round((clamp(Value,Min,Max)-Min)*255/(Max-Min)).
func (s ScaledU8) Encode(buf []byte) []byte {
	v := s.Value
	if v < s.Min {
		v = s.Min
	}
	if v > s.Max {
		v = s.Max
	}
	raw := math.Round((v - s.Min) * scaledU8Range / (s.Max - s.Min))
	return append(buf, byte(raw))
}

// Decode sets Value = byte*(Max-Min)/255 + Min. The Min/Max bounds must
// already be set on the receiver (via one of the New* constructors).
func (s *ScaledU8) Decode(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("%w: ScaledU8 requires 1 byte, got %d", ErrInvalidDPT, len(data))
	}
	s.Value = float64(data[0])*(s.Max-s.Min)/scaledU8Range + s.Min
	return nil
}

// Float16Kind names the KNX 2-octet float sub-variants this core
// recognises, matching DPT 9.xxx subtypes.
type Float16Kind uint8

// Recognised KNX 2-octet float variants (DPT 9.xxx).
const (
	Float16Temperature Float16Kind = iota
	Float16TemperatureDifference
	Float16TemperatureGradient
	Float16Lux
	Float16WindSpeed
	Float16Pressure
	Float16Humidity
	Float16AirQuality
	Float16TimeSeconds
	Float16TimeMilliseconds
	Float16Voltage
	Float16Current
	Float16PowerDensity
	Float16KelvinPerPercent
	Float16Power
	Float16VolumetricFlow
	Float16RainAmount
	Float16TemperatureFahrenheit
	Float16WindSpeedKmh
)

// Unit returns the physical unit suffix for the variant, used for display.
func (k Float16Kind) Unit() string {
	switch k {
	case Float16Temperature, Float16TemperatureFahrenheit:
		if k == Float16TemperatureFahrenheit {
			return "°F"
		}
		return "°C"
	case Float16TemperatureDifference:
		return "K"
	case Float16TemperatureGradient:
		return "K/h"
	case Float16Lux:
		return "lux"
	case Float16WindSpeed:
		return "m/s"
	case Float16Pressure:
		return "Pa"
	case Float16Humidity:
		return "%"
	case Float16AirQuality:
		return "ppm"
	case Float16TimeSeconds:
		return "s"
	case Float16TimeMilliseconds:
		return "ms"
	case Float16Voltage:
		return "mV"
	case Float16Current:
		return "mA"
	case Float16PowerDensity:
		return "W/m²"
	case Float16KelvinPerPercent:
		return "K/%"
	case Float16Power:
		return "kW"
	case Float16VolumetricFlow:
		return "l/h"
	case Float16RainAmount:
		return "l/m²"
	case Float16WindSpeedKmh:
		return "km/h"
	default:
		return ""
	}
}

// KnxFloat16 is the KNX 2-octet floating-point DPT: value = 0.01*M*2^E.
// Kind only affects display; encode/decode is identical for every
// DPT 9.xxx subtype.
type KnxFloat16 struct {
	Value float32
	Kind  Float16Kind
}

// NewKnxFloat16 builds a float16 value of the given kind.
func NewKnxFloat16(value float32, kind Float16Kind) KnxFloat16 {
	return KnxFloat16{Value: value, Kind: kind}
}

// BitLen always returns 16.
func (KnxFloat16) BitLen() int { return 16 }

// Encode appends the 2-byte big-endian wire form.
func (f KnxFloat16) Encode(buf []byte) []byte {
	wire := encodeFloat16(f.Value)
	return append(buf, byte(wire>>8), byte(wire))
}

// Decode reads the 2-byte big-endian wire form.
func (f *KnxFloat16) Decode(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("%w: KnxFloat16 requires 2 bytes, got %d", ErrInvalidDPT, len(data))
	}
	wire := uint16(data[0])<<8 | uint16(data[1])
	f.Value = decodeFloat16(wire)
	return nil
}

// String renders the value with its unit, e.g. "21.50 °C".
func (f KnxFloat16) String() string {
	return fmt.Sprintf("%.2f %s", f.Value, f.Kind.Unit())
}

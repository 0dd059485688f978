package knxtunnel

import (
	"math"
	"testing"
)

func TestKnxFloat16ReferenceVectors(t *testing.T) {
	cases := []struct {
		name  string
		value float32
		wire  uint16
	}{
		{"zero", 0.0, 0x0000},
		{"one", 1.0, 0x0064},
		{"smallest positive", 0.01, 0x0001},
		{"negative one", -1.0, 0x879C},
		{"twenty-point-four-eight", 20.48, 0x0C00},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := encodeFloat16(c.value); got != c.wire {
				t.Errorf("encodeFloat16(%v) = %#04x, want %#04x", c.value, got, c.wire)
			}
			if got := decodeFloat16(c.wire); math.Abs(float64(got-c.value)) > 1e-9 {
				t.Errorf("decodeFloat16(%#04x) = %v, want %v", c.wire, got, c.value)
			}
		})
	}
}

func TestKnxFloat16EncodeDecode(t *testing.T) {
	f := NewKnxFloat16(21.5, Float16Temperature)
	buf := f.Encode(nil)
	if len(buf) != 2 {
		t.Fatalf("Encode() produced %d bytes, want 2", len(buf))
	}
	var got KnxFloat16
	if err := got.Decode(buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if math.Abs(float64(got.Value-21.5)) > 0.02 {
		t.Errorf("round-trip Value = %v, want ~21.5", got.Value)
	}
}

func TestKnxFloat16DecodeTooShort(t *testing.T) {
	var f KnxFloat16
	if err := f.Decode([]byte{0x00}); err == nil {
		t.Error("expected error decoding 1 byte into a 2-byte DPT")
	}
}

func TestScaledU8RoundTrip(t *testing.T) {
	s := NewScaling(50)
	buf := s.Encode(nil)
	if got := buf[0]; got != 128 {
		t.Errorf("Encode(50%%) = %d, want 128", got)
	}
	decoded := NewScaling(0)
	if err := decoded.Decode(buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if math.Abs(decoded.Value-50) > 1 {
		t.Errorf("round-trip Value = %v, want ~50", decoded.Value)
	}
}

func TestScaledU8Clamps(t *testing.T) {
	over := NewPercentU8(300)
	buf := over.Encode(nil)
	if buf[0] != 255 {
		t.Errorf("Encode(300, clamped to [0,255]) = %d, want 255", buf[0])
	}
	under := NewScaling(-10)
	buf = under.Encode(nil)
	if buf[0] != 0 {
		t.Errorf("Encode(-10, clamped to [0,100]) = %d, want 0", buf[0])
	}
}

func TestBitRoundTrip(t *testing.T) {
	on := Bit{Value: true}
	buf := on.Encode(nil)
	if buf[0] != 0x01 {
		t.Errorf("Encode(true) = %#x, want 0x01", buf[0])
	}
	var off Bit
	if err := off.Decode(buf); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !off.Value {
		t.Error("Decode(0x01).Value = false, want true")
	}
}

func TestOpaqueFromAPDUBodyInlining(t *testing.T) {
	got := opaqueFromAPDUBody([]byte{0x80 | 0x03})
	if len(got.Bytes) != 1 || got.Bytes[0] != 0x03 {
		t.Errorf("single-byte body: got %+v, want [0x03]", got)
	}

	got = opaqueFromAPDUBody([]byte{0x80, 0x03, 0xD4})
	if len(got.Bytes) != 2 || got.Bytes[0] != 0x03 || got.Bytes[1] != 0xD4 {
		t.Errorf("multi-byte body: got %+v, want [0x03 0xD4]", got)
	}
}

package knxtunnel

import (
	"bytes"
	"testing"
)

func TestEncodeAPDUGroupValueRead(t *testing.T) {
	high2, body := encodeAPDU(NewGroupValueRead())
	if high2 != 0 {
		t.Errorf("apciHigh2 = %#x, want 0", high2)
	}
	if !bytes.Equal(body, []byte{0x00}) {
		t.Errorf("body = %x, want [00]", body)
	}
}

func TestEncodeAPDUGroupValueWriteOverflow(t *testing.T) {
	high2, body := encodeAPDU(NewGroupValueWrite(&Opaque{Bytes: []byte{0x03, 0xD4}}))
	if high2 != 0 {
		t.Errorf("apciHigh2 = %#x, want 0", high2)
	}
	if !bytes.Equal(body, []byte{0x80, 0x03, 0xD4}) {
		t.Errorf("body = %x, want [80 03 d4]", body)
	}
}

func TestEncodeAPDUGroupValueWriteInline(t *testing.T) {
	high2, body := encodeAPDU(NewGroupValueWrite(&Bit{Value: true}))
	if high2 != 0 {
		t.Errorf("apciHigh2 = %#x, want 0", high2)
	}
	if !bytes.Equal(body, []byte{0x81}) {
		t.Errorf("body = %x, want [81] (GroupValueWrite apci OR'd with inlined bit)", body)
	}
}

func TestDecodeAPDURoundTrip(t *testing.T) {
	high2, body := encodeAPDU(NewGroupValueWrite(&Opaque{Bytes: []byte{0x03, 0xD4}}))
	apdu, err := decodeAPDU(high2, body)
	if err != nil {
		t.Fatalf("decodeAPDU: %v", err)
	}
	if apdu.Tag != GroupValueWrite {
		t.Errorf("Tag = %v, want GroupValueWrite", apdu.Tag)
	}
	opaque, ok := apdu.Value.(*Opaque)
	if !ok || !bytes.Equal(opaque.Bytes, []byte{0x03, 0xD4}) {
		t.Errorf("Value = %+v, want Opaque{[03 d4]}", apdu.Value)
	}
}

func TestDecodeAPDUEmptyBody(t *testing.T) {
	if _, err := decodeAPDU(0, nil); err == nil {
		t.Error("expected error decoding an empty APDU body")
	}
}

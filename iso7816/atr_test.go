package iso7816

import (
	"bytes"
	"testing"

	"github.com/usbarmory/defender/timing"
)

func TestParseATRDirectMinimum(t *testing.T) {
	atr, err := ParseATR([]byte{0x3B, 0x00, 0x00})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atr.Convention != timing.Direct {
		t.Fatalf("convention = %v, want Direct", atr.Convention)
	}
	if atr.TC1() != 0xFF {
		t.Fatalf("TC1 = %#x, want absent (0xFF)", atr.TC1())
	}
	if len(atr.HistoricalBytes) != 0 {
		t.Fatalf("historical bytes = %v, want none", atr.HistoricalBytes)
	}
	if atr.SelectionBitmap != 0b0100_0000_0000_0000 {
		t.Fatalf("selection bitmap = %016b, want 0100000000000000", atr.SelectionBitmap)
	}
	if atr.Groups[0].TB == nil || *atr.Groups[0].TB != 0x00 {
		t.Fatalf("TB1 = %v, want present and 0x00", atr.Groups[0].TB)
	}
}

func TestParseATRRejectsT1(t *testing.T) {
	_, err := ParseATR([]byte{0x3B, 0xE0, 0x00, 0xFF, 0x81, 0x31, 0x20, 0x08})
	badErr, ok := err.(*BadATRError)
	if !ok {
		t.Fatalf("err = %v (%T), want *BadATRError", err, err)
	}
	if badErr.Byte != "TD1" {
		t.Fatalf("BadATRError.Byte = %q, want %q", badErr.Byte, "TD1")
	}
}

func TestParseATRInverseConvention(t *testing.T) {
	atr, err := ParseATR([]byte{0x3F, 0x00, 0x00})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atr.Convention != timing.Inverse {
		t.Fatalf("convention = %v, want Inverse", atr.Convention)
	}
}

func TestParseATRBadTS(t *testing.T) {
	_, err := ParseATR([]byte{0x00, 0x00})
	badErr, ok := err.(*BadATRError)
	if !ok || badErr.Byte != "TS" {
		t.Fatalf("err = %v, want BadATR::TS", err)
	}
}

func TestParseATRTruncated(t *testing.T) {
	_, err := ParseATR([]byte{0x3B})
	badErr, ok := err.(*BadATRError)
	if !ok || badErr.Byte != "T0" {
		t.Fatalf("err = %v, want BadATR::T0 for a truncated feed", err)
	}
}

func TestParseATRRejectsTA2(t *testing.T) {
	// T0 = 0x80: TD1 present (group1 mask=1000), low nibble 0.
	// TD1 = 0x10: group2 presence mask 0001 -> TA2 present, which must be
	// rejected before any group-2 byte is even read.
	_, err := ParseATR([]byte{0x3B, 0x80, 0x00, 0x10})
	badErr, ok := err.(*BadATRError)
	if !ok || badErr.Byte != "TA2" {
		t.Fatalf("err = %v, want BadATR::TA2", err)
	}
}

func TestParseATRRejectsBadTC2(t *testing.T) {
	// TD1 = 0x40 -> group 2 presence mask 0100 -> TC2 present only.
	_, err := ParseATR([]byte{0x3B, 0x80, 0x00, 0x40, 0x0B})
	badErr, ok := err.(*BadATRError)
	if !ok || badErr.Byte != "TC2" {
		t.Fatalf("err = %v, want BadATR::TC2, got %v", err, err)
	}
}

func TestParseATRAcceptsTA3TB3(t *testing.T) {
	// T0 = 0x80 -> TD1 present (group1 mask=1000), low nibble 0.
	// TD1 = 0x80 -> group2 mask=1000 (TD2 present only), low nibble 0.
	// TD2 = 0x30 -> group3 mask=0011 (TA3, TB3 present), low nibble 0.
	data := []byte{
		0x3B, // TS
		0x80, // T0: TD1 present
		0x00, // TB1 (forced)
		0x80, // TD1: group2 mask=1000 (TD2 present only)
		0x30, // TD2: group3 mask=0011 (TA3,TB3 present)
		0x0F, // TA3
		0x05, // TB3: low nibble 5 (<=5 ok), high nibble 0 (<=4 ok)
	}
	atr, err := ParseATR(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atr.Groups[2].TA == nil || *atr.Groups[2].TA != 0x0F {
		t.Fatalf("TA3 = %v, want 0x0F", atr.Groups[2].TA)
	}
	if atr.Groups[2].TB == nil || *atr.Groups[2].TB != 0x05 {
		t.Fatalf("TB3 = %v, want 0x05", atr.Groups[2].TB)
	}
}

func TestParseATRRejectsBadTA3(t *testing.T) {
	data := []byte{0x3B, 0x80, 0x00, 0x80, 0x30, 0xFF}
	_, err := ParseATR(data)
	badErr, ok := err.(*BadATRError)
	if !ok || badErr.Byte != "TA3" {
		t.Fatalf("err = %v, want BadATR::TA3 (0xFF is the reserved sentinel)", err)
	}
}

func TestParseATRHistoricalBytes(t *testing.T) {
	data := []byte{0x3B, 0x03, 0x00, 0x01, 0x02, 0x03}
	atr, err := ParseATR(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(atr.HistoricalBytes, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("historical bytes = %v, want [1 2 3]", atr.HistoricalBytes)
	}
}

func TestParseATRBytesRoundTrip(t *testing.T) {
	vectors := [][]byte{
		{0x3B, 0x00, 0x00},
		{0x3F, 0x00, 0x00},
		{0x3B, 0x03, 0x00, 0x01, 0x02, 0x03},
		{0x3B, 0x80, 0x00, 0x80, 0x30, 0x0F, 0x05},
	}
	for _, want := range vectors {
		atr, err := ParseATR(want)
		if err != nil {
			t.Fatalf("ParseATR(%x): %v", want, err)
		}
		got := atr.Bytes()
		if !bytes.Equal(got, want) {
			t.Fatalf("round trip: got %x, want %x", got, want)
		}
		again, err := ParseATR(got)
		if err != nil {
			t.Fatalf("ParseATR(republished) failed: %v", err)
		}
		if again.SelectionBitmap != atr.SelectionBitmap {
			t.Fatalf("selection bitmap changed across round trip: %016b != %016b", again.SelectionBitmap, atr.SelectionBitmap)
		}
	}
}

package iso7816

import "testing"

func TestScanTLVTopLevel(t *testing.T) {
	// 70 05 8C 03 9F 02 06  -- template 0x70 wrapping a 3-byte CDOL1.
	data := []byte{0x70, 0x05, 0x8C, 0x03, 0x9F, 0x02, 0x06}
	objs := ScanTLV(data)
	if len(objs) != 1 || objs[0].Tag != 0x70 {
		t.Fatalf("ScanTLV = %v, want one tag-0x70 object", objs)
	}
	if len(objs[0].Value) != 5 {
		t.Fatalf("template value length = %d, want 5", len(objs[0].Value))
	}
}

func TestFindCDOL1(t *testing.T) {
	data := []byte{0x8C, 0x03, 0x9F, 0x02, 0x06}
	cdol1, ok := FindCDOL1(data)
	if !ok {
		t.Fatal("expected CDOL1 to be found")
	}
	if len(cdol1) != 3 {
		t.Fatalf("CDOL1 value length = %d, want 3", len(cdol1))
	}
}

func TestFindCDOL1Absent(t *testing.T) {
	data := []byte{0x9F, 0x6C, 0x02, 0x00, 0x01}
	_, ok := FindCDOL1(data)
	if ok {
		t.Fatal("expected no CDOL1 in data lacking tag 0x8C")
	}
}

func TestCDOL1AmountOffset(t *testing.T) {
	// Two leading two-byte entries (total value length 2), then 9F02 06:
	// the amount field must land at 1-based offset 3 (§8 scenario 5).
	cdol1 := []byte{
		0x9F, 0x02 + 1, 0x01, // unrelated 2-byte tag, 1-byte field (placeholder)
		0x9F, 0x1A, 0x01, // Terminal Country Code, 1-byte field
		0x9F, 0x02, 0x06, // Amount, Authorised, 6-byte field
	}
	offset, found := CDOL1AmountOffset(cdol1)
	if !found {
		t.Fatal("expected amount field to be found")
	}
	if offset != 3 {
		t.Fatalf("offset = %d, want 3", offset)
	}
}

func TestCDOL1AmountOffsetAbsent(t *testing.T) {
	cdol1 := []byte{0x9F, 0x1A, 0x02}
	_, found := CDOL1AmountOffset(cdol1)
	if found {
		t.Fatal("expected amount field to be absent")
	}
}

package iso7816

import (
	"fmt"

	"github.com/usbarmory/defender/timing"
)

// InterfaceGroup holds the TA/TB/TC/TD interface bytes of one of an ATR's up
// to four groups (§3 "ATR"). A nil field means that byte was absent.
type InterfaceGroup struct {
	TA, TB, TC, TD *byte
}

// ATR is a parsed, immutable Answer-To-Reset record (§3, §4.3). There is no
// pointer-and-free lifecycle here: ParseATR returns a value the caller owns
// outright.
type ATR struct {
	TS         byte
	Convention timing.Convention
	T0         byte
	Groups     [4]InterfaceGroup

	// HistoricalBytes is T0's low nibble worth of historical bytes, 0-15 of
	// them, copied verbatim.
	HistoricalBytes []byte

	// SelectionBitmap accumulates one bit per possible interface byte, MSB
	// first in the order TA1,TB1,TC1,TD1,TA2,…,TD4 (§4.3 "parser
	// accumulates a 16-bit selection bitmap").
	SelectionBitmap uint16
}

// TC1 returns the card-to-Defender guard-time byte, or the ISO 7816 "no
// extra guard" sentinel 0xFF if TC1 was absent.
func (a *ATR) TC1() byte {
	if g := a.Groups[0].TC; g != nil {
		return *g
	}
	return 0xFF
}

// byteSource supplies the next ATR byte, naming what it expected if none is
// available, so ParseATR and ReadATR (reset.go) can share one parser over
// either a complete byte slice or a live link.Transport.
type byteSource interface {
	next(label string) (byte, error)
}

// cursor walks an ATR byte slice, reporting a BadATRError naming the byte it
// was trying to read when the slice runs out early.
type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) next(label string) (byte, error) {
	if c.pos >= len(c.data) {
		return 0, badATR(label)
	}
	b := c.data[c.pos]
	c.pos++
	return b, nil
}

// selectionBit returns the SelectionBitmap bit for the which'th byte
// (0=TA,1=TB,2=TC,3=TD) of the given group (1-4), MSB-first across the
// 16-bit enumeration TA1,TB1,TC1,TD1,TA2,…,TD4.
func selectionBit(group, which int) uint16 {
	index := (group-1)*4 + which
	return 1 << uint(15-index)
}

// ParseATR parses and validates a complete ATR byte sequence (§4.3). Only
// T=0 is negotiable; any interface byte group offering T=1 fails with
// BadATR::TDn. TB1 is treated as unconditionally present (the historical,
// still-universal ISO 7816-3:1989 behaviour this hardware assumes), matching
// the minimum ATR "3B 00 00" = TS, T0, TB1.
func ParseATR(data []byte) (*ATR, error) {
	return parseFrom(&cursor{data: data})
}

// parseFrom implements §4.3 parsing against any byteSource, letting
// ReadATR (reset.go) drive it from a live link.Transport one character at a
// time.
func parseFrom(src byteSource) (*ATR, error) {
	ts, err := src.next("TS")
	if err != nil {
		return nil, err
	}

	var conv timing.Convention
	switch ts {
	case 0x3B:
		conv = timing.Direct
	case 0x3F:
		conv = timing.Inverse
	default:
		return nil, badATR("TS")
	}

	t0, err := src.next("T0")
	if err != nil {
		return nil, err
	}

	atr := &ATR{TS: ts, Convention: conv, T0: t0}
	historicalCount := int(t0 & 0x0F)
	mask := (t0 >> 4) & 0x0F

	for group := 1; group <= 4; group++ {
		g, nextMask, present, err := parseGroup(src, group, mask)
		if err != nil {
			return nil, err
		}
		atr.Groups[group-1] = g
		for which := 0; which < 4; which++ {
			if present[which] {
				atr.SelectionBitmap |= selectionBit(group, which)
			}
		}
		if !present[3] {
			break
		}
		mask = nextMask
	}

	hist := make([]byte, historicalCount)
	for i := range hist {
		b, err := src.next("historical")
		if err != nil {
			return nil, err
		}
		hist[i] = b
	}
	atr.HistoricalBytes = hist

	return atr, nil
}

// parseGroup reads the interface bytes of one group, given the presence
// mask carried over from the previous group's TD (or T0 for group 1), and
// returns the next group's presence mask (taken from this group's TD, valid
// only if present[3]).
func parseGroup(src byteSource, group int, mask byte) (g InterfaceGroup, nextMask byte, present [4]bool, err error) {
	present[0] = mask&0x01 != 0
	present[1] = mask&0x02 != 0 || group == 1 // TB1 forced present
	present[2] = mask&0x04 != 0
	present[3] = mask&0x08 != 0

	if group == 2 {
		if present[0] {
			return g, 0, present, badATR("TA2")
		}
		if present[1] {
			return g, 0, present, badATR("TB2")
		}
	}

	if present[0] {
		label := fmt.Sprintf("TA%d", group)
		b, e := src.next(label)
		if e != nil {
			return g, 0, present, e
		}
		if group == 3 && (b < 0x0F || b == 0xFF) {
			return g, 0, present, badATR(label)
		}
		g.TA = &b
	}

	if present[1] {
		label := fmt.Sprintf("TB%d", group)
		b, e := src.next(label)
		if e != nil {
			return g, 0, present, e
		}
		switch group {
		case 1:
			if b != 0x00 {
				return g, 0, present, badATR(label)
			}
		case 3:
			if b&0x0F > 5 || b>>4 > 4 {
				return g, 0, present, badATR(label)
			}
		}
		g.TB = &b
	}

	if present[2] {
		label := fmt.Sprintf("TC%d", group)
		b, e := src.next(label)
		if e != nil {
			return g, 0, present, e
		}
		switch group {
		case 2:
			if b != 0x0A {
				return g, 0, present, badATR(label)
			}
		case 3:
			if b != 0x00 {
				return g, 0, present, badATR(label)
			}
		}
		g.TC = &b
	}

	if present[3] {
		label := fmt.Sprintf("TD%d", group)
		b, e := src.next(label)
		if e != nil {
			return g, 0, present, e
		}
		if b&0x0F != 0 {
			return g, 0, present, badATR(label)
		}
		g.TD = &b
		nextMask = b >> 4
	}

	return g, nextMask, present, nil
}

// Bytes reconstructs the exact wire encoding of the ATR: TS, T0, every
// present interface byte in original group/letter order, then the
// historical bytes. TCK is never emitted (T=0 only). This is the data half
// of dual-ATR republication (§4.3); the bridge package drives the actual
// timed transmission over a link.Transport.
func (a *ATR) Bytes() []byte {
	out := make([]byte, 0, 2+4*4+len(a.HistoricalBytes))
	out = append(out, a.TS, a.T0)

	for _, g := range a.Groups {
		if g.TA != nil {
			out = append(out, *g.TA)
		}
		if g.TB != nil {
			out = append(out, *g.TB)
		}
		if g.TC != nil {
			out = append(out, *g.TC)
		}
		if g.TD != nil {
			out = append(out, *g.TD)
		}
	}

	out = append(out, a.HistoricalBytes...)
	return out
}

// Elementary Time Unit primitives (ISO/IEC 7816-3 §4.1, C1)
//
// Grounded on the teacher's (usbarmory/tamago) ARM generic-timer pattern
// (arm/timer.go's nanotime1/read_cntpct split between a raw counter read
// and a multiplier that converts counter ticks to nanoseconds): this
// package keeps the same "read a monotonic counter, scale it" shape but
// exposes it as a Clock interface so the same ETU math runs identically
// whether the ETU comes from the board's card clock (hw.Clock, tamago build)
// or a fixed value (FixedClock, used by the tests in this module).
package timing

import (
	"time"
)

// Convention is the bit-level wire convention signalled by the card's TS
// byte (§4.2, §4.3).
type Convention int

const (
	Direct Convention = iota
	Inverse
)

func (c Convention) String() string {
	if c == Inverse {
		return "inverse"
	}
	return "direct"
}

// Side identifies which of the Defender's two wires a value belongs to.
type Side int

const (
	Card Side = iota
	Terminal
)

func (s Side) String() string {
	if s == Terminal {
		return "terminal"
	}
	return "card"
}

// Outcome is the result of a blocking wait primitive (§4.1 "Timeouts",
// §5 "Suspension points"). Every blocking wait in this module returns one
// of these instead of looping silently.
type Outcome int

const (
	OK Outcome = iota
	TimedOut
	ResetLow
	NoClock
	BadFrame
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case TimedOut:
		return "timed out"
	case ResetLow:
		return "reset low"
	case NoClock:
		return "no clock"
	case BadFrame:
		return "bad frame"
	default:
		return "unknown"
	}
}

// RationalETU expresses a wait as a fraction of one ETU, so that a 0.5 ETU
// bit-sampling offset (§4.2) rounds to the nearest integer clock count
// rather than truncating.
type RationalETU struct {
	Num, Den int
}

// ETU constructs a whole-ETU duration.
func ETU(n int) RationalETU { return RationalETU{Num: n, Den: 1} }

// HalfETU is the 0.5 ETU bit-sampling offset used on receive (§4.2).
var HalfETU = RationalETU{Num: 1, Den: 2}

// Clock supplies the duration of a single ETU for one side; the duration
// changes with card frequency selection (C1 "Card-clock generation") or
// with a measured terminal frequency (C1 "Terminal-clock reception"),
// so it is read fresh on every wait rather than cached.
type Clock interface {
	// ETUDuration returns the current duration of one Elementary Time Unit
	// (372 clock cycles at the nominal divider) on this side.
	ETUDuration() time.Duration
}

// FixedClock is a Clock with a constant ETU duration; used by hostsim and
// by tests, and by real hardware once the card or terminal frequency has
// been measured and is not expected to change mid-session.
type FixedClock time.Duration

func (c FixedClock) ETUDuration() time.Duration { return time.Duration(c) }

// CardETU returns the ETU duration for a card clocked at hz (372 cycles,
// ISO/IEC 7816-3 §4.1 note: "1 / ETU = f_c / 372" at the default divider).
func CardETU(hz int) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration(372*1e9/int64(hz)) * time.Nanosecond
}

// Endpoint is the per-side configuration C1/C2 need: which convention to
// frame characters with, the TC1 extra-guard-time value (0..254; 255 is the
// ISO 7816 reserved "do not use" value and is treated as 0 by this
// implementation, since the spec does not assign it a meaning), and the
// Clock that turns ETU counts into real time.
type Endpoint struct {
	Side       Side
	Convention Convention
	TC1        byte
	Clock      Clock
}

// guardETU returns the effective TC1 extra-guard count, folding the
// reserved 255 sentinel down to 0.
func (e *Endpoint) guardETU() int {
	if e.TC1 == 0xFF {
		return 0
	}
	return int(e.TC1)
}

// Round converts a RationalETU count to a wall-clock duration, rounding to
// the nearest integer clock tick rather than truncating (§4.1).
func (e *Endpoint) Round(r RationalETU) time.Duration {
	if r.Den == 0 {
		r.Den = 1
	}
	etu := e.Clock.ETUDuration()
	num := int64(r.Num) * int64(etu)
	den := int64(r.Den)
	// round-half-up
	return time.Duration((num + den/2) / den)
}

// OutgoingGuard is the "2 + TC1" ETU hold time after a transmitted
// character, before the next one may start (§4.2, §6).
func (e *Endpoint) OutgoingGuard() time.Duration {
	return e.Round(ETU(2 + e.guardETU()))
}

// IncomingGuard is the "1 + TC1" ETU minimum spacing measured on receipt
// (§4.2, §6), and the inter-byte delay used while streaming case 3/4 data
// to the card (§4.4).
func (e *Endpoint) IncomingGuard() time.Duration {
	return e.Round(ETU(1 + e.guardETU()))
}

// Deadline turns a maximum ETU count into a wall-clock deadline; 0 means
// wait indefinitely, matching the "0 means wait indefinitely" rule in §4.1.
func (e *Endpoint) Deadline(maxETU int) (d time.Duration, indefinite bool) {
	if maxETU <= 0 {
		return 0, true
	}
	return e.Round(ETU(maxETU)), false
}

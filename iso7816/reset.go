package iso7816

import (
	"time"

	"github.com/usbarmory/defender/link"
	"github.com/usbarmory/defender/timing"
)

// CardControl is the handful of electrical signals (§4.3 "Cold reset") the
// reset sequence drives directly, outside the byte-framing link.Transport:
// VCC, the I/O line's drive-vs-release state, the card clock, and RST.
type CardControl interface {
	VCCLow()
	VCCHigh()
	IOLow()
	ReleaseIO()
	CLKLow()
	ReleaseCLK()
	StartClock()
	RSTLow()
	RSTHigh()
}

// vccSettle is the minimum wait after VCC is applied before I/O and CLK are
// released (§4.3 "wait ≥50 µs").
const vccSettle = 50 * time.Microsecond

// atrFixedBudget is the fixed 40 ms part of the ATR answer deadline
// "≈ 40 ms + 42 000 card-clock cycles" (§4.3). 42000 cycles of the nominal
// 372-cycle ETU is ~113 ETU; Reset adds that part on top of this one.
const atrFixedBudget = 40 * time.Millisecond

// Reset performs a cold or warm reset (§4.3) and returns the parsed ATR. A
// cold reset that gets no answer retries once as a warm reset before
// surfacing ErrCardActivationFailed, exactly as specified — this is the one
// place in the module where recursion (not iteration) is the documented
// behaviour, and it is bounded to a single retry by the warm flag.
func Reset(ep *timing.Endpoint, t link.Transport, c CardControl, warm bool) (*ATR, error) {
	if !warm {
		c.VCCLow()
	}
	c.IOLow()
	c.CLKLow()
	c.RSTLow()
	c.VCCHigh()
	time.Sleep(vccSettle)
	c.ReleaseIO()
	c.ReleaseCLK()
	c.StartClock()
	time.Sleep(ep.Round(timing.ETU(112)))
	c.RSTHigh()

	atr, err := ReadATR(ep, t, atrFixedBudget+ep.Round(timing.ETU(113)))
	if err != nil {
		if !warm {
			return Reset(ep, t, c, true)
		}
		return nil, ErrCardActivationFailed
	}
	return atr, nil
}

// ReadATR reads and parses an ATR directly off t, without driving any
// electrical reset sequence itself. Reset calls this once RST has been
// raised; callers standing in for a card that has no electrical signals of
// its own (a host supplying bytes over USB, §4.5 "M5 USB-emulated card")
// call it directly instead.
func ReadATR(ep *timing.Endpoint, t link.Transport, tsTimeout time.Duration) (*ATR, error) {
	ts, outcome := link.RecvByteNoParity(ep, t, tsTimeout)
	if outcome != timing.OK {
		return nil, outcomeError(outcome)
	}
	src := &streamSource{ts: ts, haveTS: true, ep: ep, t: t}
	return parseFrom(src)
}

// streamSource adapts a live link.Transport to byteSource, for parsing an
// ATR as it arrives rather than from an already-complete slice. The first
// byte (TS) was already read without parity (its convention is what
// establishes parity in the first place, §4.3); everything after it goes
// through the normal retry/NACK path.
type streamSource struct {
	ts     byte
	haveTS bool
	ep     *timing.Endpoint
	t      link.Transport
}

func (s *streamSource) next(label string) (byte, error) {
	if s.haveTS {
		s.haveTS = false
		return s.ts, nil
	}
	b, outcome := link.RecvByteWithRetry(s.ep, s.t, 0)
	if outcome != timing.OK {
		return 0, badATR(label)
	}
	return b, nil
}

// RepublishBody sends T0, this ATR's selected interface bytes (in original
// order), and its historical bytes to t, each followed by 2 ETU of guard
// time (§4.3 "Dual-ATR republication"). TS is deliberately not sent here:
// the bridge sends TS to the terminal before the card has even been
// activated, using its own configured convention, and only calls
// RepublishBody once the card's real ATR is in hand — see
// bridge.RepublishATR, which drives both halves of the sequence.
func (a *ATR) RepublishBody(ep *timing.Endpoint, t link.Transport) error {
	for _, b := range a.Bytes()[1:] {
		if outcome := link.SendByteWithRetry(ep, t, b); outcome != timing.OK {
			return outcomeError(outcome)
		}
		time.Sleep(ep.Round(timing.ETU(2)))
	}
	return nil
}

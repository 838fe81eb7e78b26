package bridge

import (
	"github.com/usbarmory/defender/iso7816"
	"github.com/usbarmory/defender/link"
	"github.com/usbarmory/defender/timing"
)

// RepublishATR drives the full dual-ATR sequence (§4.3 "Dual-ATR
// republication"): the bridge presents an ATR to the terminal before it has
// even received the card's, so TS has to go out first, computed from the
// bridge's own configured convention, with the card reset (and the rest of
// its ATR) only following once TS is already on the wire.
func (s *Session) RepublishATR() (*iso7816.ATR, error) {
	ts := byte(0x3B)
	if s.e.TerminalEndpoint.Convention == timing.Inverse {
		ts = 0x3F
	}
	if outcome := link.SendByteWithRetry(s.e.TerminalEndpoint, s.e.TerminalTransport, ts); outcome != timing.OK {
		return nil, iso7816.OutcomeError(outcome)
	}
	s.e.Log.TerminalByte(true, ts)

	atr, err := iso7816.Reset(s.e.CardEndpoint, s.e.CardTransport, s.e.CardControl, false)
	if err != nil {
		return nil, err
	}
	s.e.Log.ATRBytes(atr.Bytes())

	if err := atr.RepublishBody(s.e.TerminalEndpoint, s.e.TerminalTransport); err != nil {
		return nil, err
	}
	return atr, nil
}

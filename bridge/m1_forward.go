package bridge

import (
	"github.com/usbarmory/defender/iso7816"
	"github.com/usbarmory/defender/link"
	"github.com/usbarmory/defender/timing"
)

// runForwardLog implements M1 (§4.5 "M1 Forward-and-log"): republish the
// ATR, then relay command/response pairs byte-for-byte until the terminal
// side times out, loses its clock, or drops RST — all three end the
// session silently, which is how a terminal signals it is done.
func (s *Session) runForwardLog() error {
	if _, err := s.RepublishATR(); err != nil {
		return err
	}

	for {
		cmd, err := s.receiveTerminalCommand()
		if err != nil {
			return err
		}

		resp, err := s.forwardToCard(cmd)
		if err != nil {
			return err
		}

		if err := s.sendTerminalResponse(resp); err != nil {
			return err
		}
	}
}

// receiveTerminalCommand reads one command header (and, for case 3/4, its
// data) from the terminal wire, playing the card's role of the §4.4
// procedure-byte dance from the other side: it is itself the thing issuing
// procedure bytes to the terminal, which iso7816 does not model (that
// package only drives the terminal role), so the header/data read here is
// the bridge's own minimal card-side protocol participation.
func (s *Session) receiveTerminalCommand() (iso7816.CommandAPDU, error) {
	s.pokeWatchdog()

	ep, t := s.e.TerminalEndpoint, s.e.TerminalTransport

	hdr := make([]byte, 5)
	for i := range hdr {
		b, outcome := link.RecvByteWithRetry(ep, t, 0)
		if outcome != timing.OK {
			return iso7816.CommandAPDU{}, iso7816.OutcomeError(outcome)
		}
		hdr[i] = b
		s.e.Log.TerminalByte(false, b)
	}

	h := iso7816.Header{CLA: hdr[0], INS: hdr[1], P1: hdr[2], P2: hdr[3], P3: hdr[4]}
	cmd := iso7816.CommandAPDU{Header: h}

	switch iso7816.CaseOf(h) {
	case iso7816.Case3, iso7816.Case4:
		if err := s.sendProcedureByte(h.INS); err != nil {
			return iso7816.CommandAPDU{}, err
		}
		data := make([]byte, h.P3)
		for i := range data {
			b, outcome := link.RecvByteWithRetry(ep, t, 0)
			if outcome != timing.OK {
				return iso7816.CommandAPDU{}, iso7816.OutcomeError(outcome)
			}
			data[i] = b
			s.e.Log.TerminalByte(false, b)
		}
		cmd.Data = data
	}

	return cmd, nil
}

// sendProcedureByte sends a single procedure byte (the command's own INS,
// §4.4 "send command to card" from the terminal's point of view) to the
// terminal, authorising it to stream the command data.
func (s *Session) sendProcedureByte(ins byte) error {
	if outcome := link.SendByteWithRetry(s.e.TerminalEndpoint, s.e.TerminalTransport, ins); outcome != timing.OK {
		return iso7816.OutcomeError(outcome)
	}
	s.e.Log.TerminalByte(true, ins)
	return nil
}

// forwardToCard sends cmd to the card and returns its (possibly chained)
// response, exactly as a terminal would see it.
func (s *Session) forwardToCard(cmd iso7816.CommandAPDU) (iso7816.ResponseAPDU, error) {
	resp, err := iso7816.TerminalSendT0Command(s.e.CardEndpoint, s.e.CardTransport, cmd)
	if err == nil {
		s.e.Log.CardByte(false, resp.SW1)
		s.e.Log.CardByte(false, resp.SW2)
	}
	return resp, err
}

// sendTerminalResponse writes resp's data (if any) followed by SW1SW2 to
// the terminal wire.
func (s *Session) sendTerminalResponse(resp iso7816.ResponseAPDU) error {
	ep, t := s.e.TerminalEndpoint, s.e.TerminalTransport
	for _, b := range resp.Data {
		if outcome := link.SendByteWithRetry(ep, t, b); outcome != timing.OK {
			return iso7816.OutcomeError(outcome)
		}
		s.e.Log.TerminalByte(true, b)
	}
	for _, b := range []byte{resp.SW1, resp.SW2} {
		if outcome := link.SendByteWithRetry(ep, t, b); outcome != timing.OK {
			return iso7816.OutcomeError(outcome)
		}
		s.e.Log.TerminalByte(true, b)
	}
	return nil
}

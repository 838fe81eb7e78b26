package bridge

import (
	"fmt"
	"time"

	"github.com/usbarmory/defender/iso7816"
	"github.com/usbarmory/defender/ui"
)

// runFilterGenerateAC implements M2 (§4.5 "M2 Filter-GenerateAC"): forward
// and log like M1, but watch READ RECORD responses for a CDOL1 object to
// learn the Amount Authorised offset, then intercept the first GENERATE AC
// and ask the user to approve or reject it before forwarding.
func (s *Session) runFilterGenerateAC() error {
	if _, err := s.RepublishATR(); err != nil {
		return err
	}

	approved := false

	for {
		cmd, err := s.receiveTerminalCommand()
		if err != nil {
			return err
		}

		if !approved && cmd.Header.CLA&0xF0 == 0x80 && cmd.Header.INS == 0xAE && s.haveOffset {
			ok, err := s.approveGenerateAC(cmd)
			if err != nil {
				return err
			}
			approved = true
			if !ok {
				return fmt.Errorf("bridge: GENERATE AC rejected by user")
			}
		}

		resp, err := s.forwardToCard(cmd)
		if err != nil {
			return err
		}

		if !s.haveOffset && cmd.Header.INS == 0xB2 {
			s.learnCDOL1(resp)
		}

		if err := s.sendTerminalResponse(resp); err != nil {
			return err
		}
	}
}

// learnCDOL1 inspects a READ RECORD response already obtained by
// forwardToCard for a CDOL1 object, caching the Amount Authorised offset it
// names for the remainder of the session.
func (s *Session) learnCDOL1(resp iso7816.ResponseAPDU) {
	cdol1, ok := iso7816.FindCDOL1(resp.Data)
	if !ok {
		return
	}
	if offset, ok := iso7816.CDOL1AmountOffset(cdol1); ok {
		s.cdol1Offset = offset
		s.haveOffset = true
	}
}

// approveGenerateAC presents the amount at the cached CDOL1 offset to the
// user (§4.5 "its data bytes at the cached offset are presented to the
// user for approval"), sending a 0x60 heartbeat to the terminal every
// 100ms while waiting (§5 "Blocking caveat").
func (s *Session) approveGenerateAC(cmd iso7816.CommandAPDU) (bool, error) {
	amount := amountField(cmd.Data, s.cdol1Offset-1) // CDOL1AmountOffset is 1-based
	if s.e.Display != nil && s.e.Display.Available() {
		s.e.Display.Show(fmt.Sprintf("Amt: %s", formatBCDAmount(amount)))
	}

	stop := make(chan struct{})
	defer close(stop)
	go heartbeat(s.e.TerminalEndpoint, s.e.TerminalTransport, s.e.Watchdog, stop)

	const pollInterval = 10 * time.Millisecond
	for {
		for _, b := range s.e.Buttons.ButtonState() {
			switch b {
			case buttonApprove:
				return true, nil
			case buttonReject:
				return false, nil
			}
		}
		time.Sleep(pollInterval)
	}
}

// amountField extracts the 6 BCD bytes at offset within data, clamping to
// data's bounds (a malformed CDOL1 offset must never panic the bridge).
func amountField(data []byte, offset int) []byte {
	const amountLen = 6
	if offset < 0 || offset >= len(data) {
		return nil
	}
	end := offset + amountLen
	if end > len(data) {
		end = len(data)
	}
	return data[offset:end]
}

// formatBCDAmount renders packed BCD amount bytes as digit pairs, one per
// byte, joined by commas: 00 00 00 00 12 34 renders as "00,00,00,00,12,34".
func formatBCDAmount(bcd []byte) string {
	out := make([]byte, 0, len(bcd)*3)
	for i, b := range bcd {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '0'+(b>>4), '0'+(b&0x0F))
	}
	return string(out)
}

// buttonApprove/buttonReject are the two buttons meaningful to GENERATE AC
// approval; which physical buttons they are is a deployment choice, not a
// property of the ui package itself.
const (
	buttonApprove = ui.ButtonA
	buttonReject  = ui.ButtonB
)

package bridge

// dummyPINNibble is the value substituteDummyPIN writes into both halves of
// every byte of a replaced PIN block (0x24<<4 | 0x24, i.e. 0x64 per byte).
// The replacement has the same length as the real block and never carries
// the real PIN; no byte of the original, including its control/length byte
// and filler nibbles, is kept (§4.5 "M3 Dummy-PIN").
var dummyPINNibble byte = 0x24

// substituteDummyPIN returns a same-length replacement for a VERIFY
// command's plaintext PIN data, preserving the length byte implicitly (the
// caller keeps the original P3/data length, only the content changes).
func substituteDummyPIN(data []byte) []byte {
	out := make([]byte, len(data))
	for i := range out {
		out[i] = dummyPINNibble<<4 | dummyPINNibble
	}
	return out
}

// runDummyPIN implements M3 (§4.5 "M3 Dummy-PIN"): forward like M1, but
// intercept a plaintext VERIFY (CLA 0x00, INS 0x20, P2 0x80) with non-empty
// data and substitute a dummy PIN block before forwarding. The real PIN
// never reaches the card.
func (s *Session) runDummyPIN() error {
	if _, err := s.RepublishATR(); err != nil {
		return err
	}

	for {
		cmd, err := s.receiveTerminalCommand()
		if err != nil {
			return err
		}

		if cmd.Header.CLA == 0x00 && cmd.Header.INS == 0x20 && cmd.Header.P2 == 0x80 && len(cmd.Data) > 0 {
			cmd.Data = substituteDummyPIN(cmd.Data)
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

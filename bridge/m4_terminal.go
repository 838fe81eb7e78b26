package bridge

import (
	"fmt"

	"github.com/usbarmory/defender/iso7816"
)

// TerminalConfig parameterises M4's fixed transaction sequence (§4.5 "M4
// Terminal-only"): the allowed application identifiers, the GENERATE AC
// amount, and whether to attempt INTERNAL AUTHENTICATE and VERIFY, which
// are both optional steps in that sequence.
type TerminalConfig struct {
	AllowedAIDs         [][]byte
	GenerateACAmount    []byte // 6-byte BCD, as a GENERATE AC CDOL1 amount field
	AttemptInternalAuth bool
	AttemptVerify       bool
	PIN                 []byte
}

// runTerminalOnly implements M4: the core drives the card alone, no
// terminal wire exists. Cold reset, SELECT by AID allowlist, GET
// PROCESSING OPTIONS, AFL record reads, optional INTERNAL AUTHENTICATE,
// GET DATA for the PIN try counter, optional VERIFY, and finally GENERATE
// AC with the configured amount — each step a transaction through §4.4.
func (s *Session) runTerminalOnly() error {
	cfg := s.terminalConfig
	if cfg == nil {
		return fmt.Errorf("bridge: M4 requires a TerminalConfig")
	}

	atr, err := iso7816.Reset(s.e.CardEndpoint, s.e.CardTransport, s.e.CardControl, false)
	if err != nil {
		return err
	}
	s.e.Log.ATRBytes(atr.Bytes())

	aid, fci, err := s.selectApplication(cfg.AllowedAIDs)
	if err != nil {
		return err
	}
	if err := s.e.Persisted.SetLastSelectedAID(aid); err != nil {
		s.e.Log.MemoryError()
	}
	_ = fci

	gpoResp, err := s.getProcessingOptions()
	if err != nil {
		return err
	}

	if err := s.readAFLRecords(gpoResp.Data); err != nil {
		return err
	}

	if cfg.AttemptInternalAuth {
		if _, err := s.sendCard(iso7816.Header{CLA: 0x00, INS: 0x88, P3: 0x00}, nil); err != nil {
			return err
		}
	}

	if _, err := s.sendCard(iso7816.Header{CLA: 0x80, INS: 0xCA, P1: 0x00, P2: 0x9F, P3: 0x17}, nil); err != nil {
		return err
	}

	if cfg.AttemptVerify && len(cfg.PIN) > 0 {
		if _, err := s.sendCard(iso7816.Header{CLA: 0x00, INS: 0x20, P2: 0x80, P3: byte(len(cfg.PIN))}, cfg.PIN); err != nil {
			return err
		}
	}

	genAC := iso7816.Header{CLA: 0x80, INS: 0xAE, P1: 0x80, P3: byte(len(cfg.GenerateACAmount))}
	resp, err := s.sendCard(genAC, cfg.GenerateACAmount)
	if err != nil {
		return err
	}
	if _, err := s.e.Persisted.IncrementTransactionCounter(); err != nil {
		s.e.Log.MemoryError()
	}
	s.e.Log.CardByte(false, resp.SW1)
	s.e.Log.CardByte(false, resp.SW2)
	return nil
}

// sendCard is the M4 convenience wrapper around TerminalSendT0Command: M4
// has no terminal-side participant, so every command it issues is already
// in the terminal role the transaction layer expects.
func (s *Session) sendCard(h iso7816.Header, data []byte) (iso7816.ResponseAPDU, error) {
	s.pokeWatchdog()
	cmd := iso7816.CommandAPDU{Header: h, Data: data}
	return iso7816.TerminalSendT0Command(s.e.CardEndpoint, s.e.CardTransport, cmd)
}

// selectApplication tries each allowed AID in order (a real terminal would
// instead walk a PSE directory; M4's scope is narrower, a fixed allowlist)
// and returns the first one the card accepts.
func (s *Session) selectApplication(aids [][]byte) (aid []byte, fci iso7816.ResponseAPDU, err error) {
	for _, candidate := range aids {
		h := iso7816.Header{CLA: 0x00, INS: 0xA4, P1: 0x04, P3: byte(len(candidate))}
		resp, serr := s.sendCard(h, candidate)
		if serr == nil && resp.SW() == 0x9000 {
			return candidate, resp, nil
		}
	}
	return nil, iso7816.ResponseAPDU{}, fmt.Errorf("bridge: no allowed AID accepted by card")
}

// getProcessingOptions issues GET PROCESSING OPTIONS with an empty PDOL
// (M4 does not build a dynamic PDOL; this is a narrower terminal than a
// full EMV kernel, matching §1's scope boundary).
func (s *Session) getProcessingOptions() (iso7816.ResponseAPDU, error) {
	h := iso7816.Header{CLA: 0x80, INS: 0xA8, P3: 0x02}
	return s.sendCard(h, []byte{0x83, 0x00})
}

// readAFLRecords parses a GPO response's Application File Locator (tag
// 0x94, or embedded in template 0x77) and issues a READ RECORD for each
// entry it names.
func (s *Session) readAFLRecords(gpoData []byte) error {
	afl, ok := findAFL(gpoData)
	if !ok {
		return nil
	}
	for i := 0; i+3 < len(afl); i += 4 {
		sfi := afl[i] >> 3
		first := afl[i+1]
		last := afl[i+2]
		for rec := first; rec <= last; rec++ {
			p2 := sfi<<3 | 0x04
			h := iso7816.Header{CLA: 0x00, INS: 0xB2, P1: rec, P2: p2, P3: 0x00}
			if _, err := s.sendCard(h, nil); err != nil {
				return err
			}
			if rec == 0xFF { // avoid overflow wraparound on a pathological AFL entry
				break
			}
		}
	}
	return nil
}

// findAFL locates the Application File Locator's raw bytes, either as a
// bare tag 0x94 primitive or nested inside a 0x77 response template.
func findAFL(data []byte) ([]byte, bool) {
	for _, o := range iso7816.ScanTLV(data) {
		if o.Tag == 0x94 {
			return o.Value, true
		}
		if o.Tag == 0x77 {
			return findAFL(o.Value)
		}
	}
	return nil, false
}

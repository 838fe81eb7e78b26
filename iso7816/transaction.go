package iso7816

import (
	"time"

	"github.com/usbarmory/defender/link"
	"github.com/usbarmory/defender/timing"
)

// outcomeError turns a non-OK timing.Outcome into an error, and nil
// otherwise. The procedure-byte dance treats every non-OK outcome the same
// way: abort the transaction and let the caller (the bridge mode's session
// loop) decide what a timeout or reset means.
func outcomeError(o timing.Outcome) error {
	if o == timing.OK {
		return nil
	}
	return &outcomeErr{o}
}

type outcomeErr struct{ o timing.Outcome }

func (e *outcomeErr) Error() string { return "iso7816: " + e.o.String() }

// Outcome unwraps the timing.Outcome carried by an error returned from this
// package's transaction functions, if any.
func Outcome(err error) (timing.Outcome, bool) {
	oe, ok := err.(*outcomeErr)
	if !ok {
		return timing.OK, false
	}
	return oe.o, true
}

// sixETU is the minimum wait after a command header before the card's first
// procedure byte may be sampled (§4.4 "wait ≥6 card-ETU").
const sixETU = 6

// SendCommandToCard sends the 5-byte header and, for case 3/4 commands,
// drives the procedure-byte exchange that streams the command data (§4.4
// "Send command to card").
func SendCommandToCard(ep *timing.Endpoint, t link.Transport, cmd CommandAPDU) error {
	h := cmd.Header
	header := []byte{h.CLA, h.INS, h.P1, h.P2, h.P3}
	for _, b := range header {
		if outcome := link.SendByteWithRetry(ep, t, b); outcome != timing.OK {
			return outcomeError(outcome)
		}
	}

	c := CaseOf(h)
	if c != Case3 && c != Case4 {
		return nil
	}

	time.Sleep(ep.Round(timing.ETU(sixETU)))

	idx := 0
	for {
		b, outcome := link.RecvByteWithRetry(ep, t, 0)
		if outcome != timing.OK {
			return outcomeError(outcome)
		}

		switch {
		case b == 0x60:
			continue

		case b == h.INS:
			if err := sendData(ep, t, cmd.Data[idx:]); err != nil {
				return err
			}
			return nil

		case b == ^h.INS:
			if idx < len(cmd.Data) {
				if outcome := link.SendByteWithRetry(ep, t, cmd.Data[idx]); outcome != timing.OK {
					return outcomeError(outcome)
				}
				idx++
			}
			continue

		default:
			link.RecvByteWithRetry(ep, t, 0) // SW2, discarded: the transaction failed
			return ErrUnexpectedProcedureByte
		}
	}
}

// sendData streams command data bytes back-to-back with the §4.4 "1 + TC1
// ETU inter-byte guard" between consecutive bytes.
func sendData(ep *timing.Endpoint, t link.Transport, data []byte) error {
	for i, b := range data {
		if outcome := link.SendByteWithRetry(ep, t, b); outcome != timing.OK {
			return outcomeError(outcome)
		}
		if i < len(data)-1 {
			time.Sleep(ep.IncomingGuard())
		}
	}
	return nil
}

// ReceiveResponseFromCard reads a T=0 response (§4.4 "Receive response from
// card"), given the INS and P3 of the command it answers.
func ReceiveResponseFromCard(ep *timing.Endpoint, t link.Transport, ins byte, p3 byte) (ResponseAPDU, error) {
	for {
		b, outcome := link.RecvByteWithRetry(ep, t, 0)
		if outcome != timing.OK {
			return ResponseAPDU{}, outcomeError(outcome)
		}

		switch {
		case b == 0x60:
			continue

		case b == ins:
			data, err := recvN(ep, t, int(p3))
			if err != nil {
				return ResponseAPDU{}, err
			}
			sw1, sw2, err := recvSW(ep, t)
			if err != nil {
				return ResponseAPDU{}, err
			}
			return ResponseAPDU{Data: data, SW1: sw1, SW2: sw2}, nil

		case b == ^ins:
			data, err := recvN(ep, t, 1)
			if err != nil {
				return ResponseAPDU{}, err
			}
			sw1, sw2, err := recvSW(ep, t)
			if err != nil {
				return ResponseAPDU{}, err
			}
			return ResponseAPDU{Data: data, SW1: sw1, SW2: sw2}, nil

		default:
			sw2, outcome := link.RecvByteWithRetry(ep, t, 0)
			if outcome != timing.OK {
				return ResponseAPDU{}, outcomeError(outcome)
			}
			return ResponseAPDU{SW1: b, SW2: sw2}, nil
		}
	}
}

func recvN(ep *timing.Endpoint, t link.Transport, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		b, outcome := link.RecvByteWithRetry(ep, t, 0)
		if outcome != timing.OK {
			return nil, outcomeError(outcome)
		}
		out[i] = b
	}
	return out, nil
}

func recvSW(ep *timing.Endpoint, t link.Transport) (sw1, sw2 byte, err error) {
	sw1, outcome := link.RecvByteWithRetry(ep, t, 0)
	if outcome != timing.OK {
		return 0, 0, outcomeError(outcome)
	}
	sw2, outcome = link.RecvByteWithRetry(ep, t, 0)
	if outcome != timing.OK {
		return 0, 0, outcomeError(outcome)
	}
	return sw1, sw2, nil
}

// getResponse builds a GET RESPONSE command for the given Le (§4.4
// chaining).
func getResponse(le byte) CommandAPDU {
	return CommandAPDU{Header: Header{CLA: 0x00, INS: 0xC0, P3: le}}
}

// TerminalSendT0Command drives a complete terminal-side transaction:
// sending cmd, receiving its response, and following the §4.4
// "Terminal-emulation chaining" rules (61xx GET RESPONSE chaining, 6Cxx
// length retry, one-shot 62/63 warning chaining) until a final status word
// is reached. All intermediate response data is merged into one logical
// APDU (§4.4 "All intermediate responses are merged"); only the final
// (SW1, SW2) is retained. This loop is iterative, not recursive, by design
// (an unbounded 61xx chain must not grow the call stack).
func TerminalSendT0Command(ep *timing.Endpoint, t link.Transport, cmd CommandAPDU) (ResponseAPDU, error) {
	if err := SendCommandToCard(ep, t, cmd); err != nil {
		return ResponseAPDU{}, err
	}

	resp, err := ReceiveResponseFromCard(ep, t, cmd.Header.INS, cmd.Header.P3)
	if err != nil {
		return ResponseAPDU{}, err
	}

	merged := append([]byte(nil), resp.Data...)
	current := cmd
	warningChained := false

	for {
		switch {
		case resp.SW1 == 0x61:
			gr := getResponse(resp.SW2)
			if err := SendCommandToCard(ep, t, gr); err != nil {
				return ResponseAPDU{}, err
			}
			next, err := ReceiveResponseFromCard(ep, t, gr.Header.INS, gr.Header.P3)
			if err != nil {
				return ResponseAPDU{}, err
			}
			merged = append(merged, next.Data...)
			resp = next

		case resp.SW1 == 0x6C:
			current.Header.P3 = resp.SW2
			if err := SendCommandToCard(ep, t, current); err != nil {
				return ResponseAPDU{}, err
			}
			next, err := ReceiveResponseFromCard(ep, t, current.Header.INS, current.Header.P3)
			if err != nil {
				return ResponseAPDU{}, err
			}
			merged = append([]byte(nil), next.Data...)
			resp = next

		case (resp.SW1 == 0x62 || resp.SW1 == 0x63) && !warningChained:
			warningChained = true
			expectsData := CaseOf(cmd.Header) == Case2 || CaseOf(cmd.Header) == Case4
			if expectsData && len(resp.Data) == 0 {
				gr := getResponse(cmd.Header.P3)
				if err := SendCommandToCard(ep, t, gr); err != nil {
					return ResponseAPDU{}, err
				}
				next, err := ReceiveResponseFromCard(ep, t, gr.Header.INS, gr.Header.P3)
				if err != nil {
					return ResponseAPDU{}, err
				}
				merged = append(merged, next.Data...)
				resp = next
			}
			return ResponseAPDU{Data: merged, SW1: resp.SW1, SW2: resp.SW2}, nil

		default:
			return ResponseAPDU{Data: merged, SW1: resp.SW1, SW2: resp.SW2}, nil
		}
	}
}

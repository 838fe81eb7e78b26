package link

import (
	"time"

	"github.com/usbarmory/defender/timing"
)

// stopBitsFor returns the guard-time ETU count a Transport should hold the
// line idle for after a transmitted character: 2 stop-bit ETUs plus TC1
// (§4.2, §6 "Guard time between consecutive outgoing bytes is 2 + TC1 ETU").
func stopBitsFor(ep *timing.Endpoint) int {
	tc1 := int(ep.TC1)
	if ep.TC1 == 0xFF {
		tc1 = 0
	}
	return 2 + tc1
}

// SendByteNoParity transmits one character without engaging the
// retransmission protocol: the line is not sampled for a NACK and the byte
// is never resent. The bridge's 0x60 heartbeat is its only user.
func SendByteNoParity(ep *timing.Endpoint, t Transport, b byte) error {
	return t.TxByte(encode(b, ep.Convention), stopBitsFor(ep))
}

// RecvByteNoParity waits for one character without NACKing a parity
// failure; used to read TS, where no convention is established yet.
func RecvByteNoParity(ep *timing.Endpoint, t Transport, maxWait time.Duration) (byte, timing.Outcome) {
	if t.Cancelled() {
		return 0, timing.ResetLow
	}

	b, outcome := t.RxByte(maxWait)
	if outcome != timing.OK && outcome != timing.BadFrame {
		return 0, outcome
	}

	return decode(b, ep.Convention), timing.OK
}

// SendByteWithRetry transmits one character, samples the line one ETU
// later for a receiver NACK, and retransmits with a 2-ETU pre-delay up to
// MaxRetries times before surfacing BadFrame (§4.2 "Parity and
// retransmission"). The caller observes a single logical character
// regardless of how many retransmissions occurred (§8 invariant).
func SendByteWithRetry(ep *timing.Endpoint, t Transport, b byte) timing.Outcome {
	wire := encode(b, ep.Convention)
	stopBits := stopBitsFor(ep)

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if t.Cancelled() {
			return timing.ResetLow
		}

		if err := t.TxByte(wire, stopBits); err != nil {
			return timing.BadFrame
		}

		time.Sleep(ep.Round(timing.ETU(1)))

		if !t.SensedLow() {
			return timing.OK
		}

		if attempt < MaxRetries {
			time.Sleep(ep.Round(timing.ETU(2)))
		}
	}

	return timing.BadFrame
}

// RecvByteWithRetry waits for one character. When the Transport reports a
// parity failure it NACKs the character by pulling the line low for one ETU
// and waits for the sender's retransmission; this loop bounds how many
// retransmitted attempts it will wait for (§4.2 "Parity and
// retransmission").
func RecvByteWithRetry(ep *timing.Endpoint, t Transport, maxWait time.Duration) (byte, timing.Outcome) {
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if t.Cancelled() {
			return 0, timing.ResetLow
		}

		b, outcome := t.RxByte(maxWait)

		switch outcome {
		case timing.OK:
			return decode(b, ep.Convention), timing.OK
		case timing.BadFrame:
			t.PullLow(ep.Round(timing.ETU(1)))
			continue
		default:
			return 0, outcome
		}
	}

	return 0, timing.BadFrame
}

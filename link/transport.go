// Package link implements the ISO/IEC 7816-3 T=0 asynchronous character
// link layer (spec.md C2): one character at a time, with parity and NACK
// retransmission up to MaxRetries times, over either wire (card or terminal
// side).
//
// The hardware itself is abstracted behind the Transport interface so the
// same framing and retry logic runs against the real i.MX6UL UART+GPIO
// pair (hw, tamago build) or a host/loopback stand-in (hostsim), exactly
// the way the teacher splits imx6.Native hardware access from a portable
// code path.
package link

import (
	"time"

	"github.com/usbarmory/defender/timing"
)

// Transport is the hardware-facing half of one ISO 7816 wire. A real
// implementation frames the byte itself (1 start bit, 8 data bits, 1 even
// parity bit, configurable stop-bit count) using UART hardware parity
// generation/checking; this package only decides what bytes to send, in
// which bit order, and how long to wait between and after them.
type Transport interface {
	// TxByte frames and transmits one byte (post convention bit-mangling),
	// using stopBits stop-bit ETUs as the hardware's trailing guard time.
	TxByte(b byte, stopBits int) error

	// RxByte waits up to maxWait (0 = forever) for one framed byte. outcome
	// is BadFrame if the hardware parity check failed; the returned byte is
	// still the best-effort sampled value so a NACK can be sent for it.
	RxByte(maxWait time.Duration) (b byte, outcome timing.Outcome)

	// PullLow drives the line low for d, used by a receiver to NACK a bad
	// parity bit, starting 10.5 ETU after the start bit per §4.2.
	PullLow(d time.Duration)

	// SensedLow reports whether the line was observed low during the
	// sampling window following the most recent TxByte; used by a sender
	// to detect a receiver's NACK.
	SensedLow() bool

	// Cancelled reports whether the cooperative cancellation flag (set by
	// the RST-falling-edge ISR, §5) has been raised. Every blocking
	// primitive in this package consults it at its suspension point.
	Cancelled() bool

	// ClockPresent reports whether this side's clock is currently running
	// (always true for the card side, which the Defender itself drives;
	// measured for the terminal side, C1).
	ClockPresent() bool
}

// MaxRetries is the number of retransmissions attempted after an initial
// parity NACK before the link layer surfaces BadFrame (§4.2: "up to four
// retransmissions ... a fifth failure surfaces as ParityError").
const MaxRetries = 4

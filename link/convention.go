package link

import (
	"github.com/usbarmory/defender/bits"
	"github.com/usbarmory/defender/timing"
)

// encode precomputes the on-wire form of a logical byte for the given
// convention (§4.2 "Bit ordering for inverse convention"): Direct convention
// sends the byte unchanged (LSB first is the UART's native bit order);
// Inverse convention bit-reverses it so that what goes out MSB-first over
// an LSB-first UART lands in the same electrical order as a true inverse
// sender, and the line driver additionally inverts signal sense (handled by
// the Transport, not here — that part is pure electrical polarity and
// carries no data-dependent logic).
func encode(b byte, c timing.Convention) byte {
	if c == timing.Inverse {
		return bits.Reverse8(b)
	}
	return b
}

// decode reverses encode, recovering the logical byte value from what the
// Transport sampled off the wire.
func decode(b byte, c timing.Convention) byte {
	if c == timing.Inverse {
		return bits.Reverse8(b)
	}
	return b
}

// Package evtlog implements the append-only session logger (C6, §4.6):
// single-writer, fixed small-payload event records, flushed to persisted
// non-volatile storage at session boundaries (§6 "Persisted log layout").
package evtlog

import "github.com/usbarmory/defender/timing"

// Event is an append-only log record category. The low two bits of the
// byte actually written carry payload length minus one (§4.6 "writes
// event | (len-1)"); the constants below are always a multiple of 4 so
// Log can safely OR the length in.
type Event byte

const (
	EvtByteFromCard     Event = 4 * iota // byte received from the card
	EvtByteToCard                        // byte sent to the card
	EvtByteFromTerminal                  // byte received from the terminal
	EvtByteToTerminal                    // byte sent to the terminal
	EvtByteFromHost                      // byte received from the USB host
	EvtByteToHost                        // byte sent to the USB host
	EvtATRByte                           // one byte of a parsed ATR
	EvtResetTransition                   // RST line edge, one side
	EvtClockAbsent                       // f_t measured as 0
	EvtTimeout                           // a wait primitive returned TimedOut
	EvtParityError                       // BadFrame after exhausting retries
	EvtMemoryError                       // log store write failure
	EvtTimeMarker                        // 4-byte little-endian millisecond counter
)

// Logger is the RAM-resident ring of event records the foreground appends
// to; Flush (layout.go) is what moves it to non-volatile storage. There is
// no locking: §5 "Shared resources" makes the log buffer single-writer,
// foreground-only, by construction.
type Logger struct {
	buf []byte
	cap int
}

// New allocates a Logger backed by a fixed-capacity ring; once full,
// further records are silently discarded (§4.6 "if the store fills,
// remaining bytes are silently discarded").
func New(capacity int) *Logger {
	return &Logger{buf: make([]byte, 0, capacity), cap: capacity}
}

// Log appends one record: event ORed with (len(payload)-1), followed by
// payload. payload must be 1-4 bytes; callers use the typed helpers below
// rather than calling this directly.
func (l *Logger) Log(event Event, payload ...byte) {
	n := len(payload)
	if n < 1 {
		n = 1
	}
	if n > 4 {
		n = 4
	}
	if len(l.buf)+1+n > l.cap {
		return
	}
	l.buf = append(l.buf, byte(event)|byte(n-1))
	l.buf = append(l.buf, payload[:n]...)
}

// Bytes returns the records accumulated since the last Reset, for Flush to
// persist.
func (l *Logger) Bytes() []byte { return l.buf }

// Reset clears the RAM buffer; called between independent sessions
// (§3 "Lifecycle": "The log buffer is process-scoped and reset between
// independent sessions").
func (l *Logger) Reset() { l.buf = l.buf[:0] }

func sideByte(s timing.Side) byte {
	if s == timing.Terminal {
		return 1
	}
	return 0
}

// CardByte logs one byte observed on the card wire.
func (l *Logger) CardByte(toCard bool, b byte) {
	if toCard {
		l.Log(EvtByteToCard, b)
	} else {
		l.Log(EvtByteFromCard, b)
	}
}

// TerminalByte logs one byte observed on the terminal wire.
func (l *Logger) TerminalByte(toTerminal bool, b byte) {
	if toTerminal {
		l.Log(EvtByteToTerminal, b)
	} else {
		l.Log(EvtByteFromTerminal, b)
	}
}

// HostByte logs one byte exchanged with the USB host control channel.
func (l *Logger) HostByte(toHost bool, b byte) {
	if toHost {
		l.Log(EvtByteToHost, b)
	} else {
		l.Log(EvtByteFromHost, b)
	}
}

// ATRBytes logs each byte of a parsed ATR in order.
func (l *Logger) ATRBytes(atr []byte) {
	for _, b := range atr {
		l.Log(EvtATRByte, b)
	}
}

// ResetTransition logs an RST line edge on the given side.
func (l *Logger) ResetTransition(side timing.Side, high bool) {
	var level byte
	if high {
		level = 1
	}
	l.Log(EvtResetTransition, sideByte(side), level)
}

// ClockAbsent logs a measured f=0 on the given side.
func (l *Logger) ClockAbsent(side timing.Side) {
	l.Log(EvtClockAbsent, sideByte(side))
}

// Timeout logs a TimedOut outcome on the given side.
func (l *Logger) Timeout(side timing.Side) {
	l.Log(EvtTimeout, sideByte(side))
}

// ParityError logs a retry-exhausted BadFrame on the given side.
func (l *Logger) ParityError(side timing.Side) {
	l.Log(EvtParityError, sideByte(side))
}

// MemoryError logs a failure writing to the non-volatile log store.
func (l *Logger) MemoryError() {
	l.Log(EvtMemoryError, 0)
}

// TimeMarker logs a millisecond counter snapshot, little-endian (§4.6).
func (l *Logger) TimeMarker(millis uint32) {
	l.Log(EvtTimeMarker,
		byte(millis),
		byte(millis>>8),
		byte(millis>>16),
		byte(millis>>24),
	)
}

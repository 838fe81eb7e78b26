// Package iso7816 implements the ATR engine (C3) and T=0 transaction layer
// (C4): parsing and validating the Answer-To-Reset, encoding/decoding
// command and response APDUs, and driving procedure-byte exchanges
// including GET RESPONSE chaining.
//
// It is pure Go with no hardware dependency; the link package supplies the
// byte-at-a-time transport this package drives.
package iso7816

import (
	"fmt"

	"github.com/usbarmory/defender/timing"
)

// BadATRError is the §7 item 7 "BadATR::(TS|T0|TA2|TB2|TC2|TA3|TB3|TC3|TCK)"
// error family. Byte names the specific interface byte that failed
// validation (e.g. "TS", "TD1", "TCK"); the taxonomy is open-ended across
// the four interface-byte groups, so this is a label rather than a fixed
// enum.
type BadATRError struct {
	Byte string
}

func (e *BadATRError) Error() string {
	return fmt.Sprintf("iso7816: bad ATR (%s)", e.Byte)
}

func badATR(byteName string) error { return &BadATRError{Byte: byteName} }

// Sentinel errors covering the remainder of the §7 error taxonomy that this
// package itself can surface (the link-layer outcomes TimedOut/ResetLow/
// NoClock/BadFrame are timing.Outcome values; this package returns them
// wrapped as errors, which Outcome unwraps).
var (
	// ErrUnexpectedProcedureByte is §7 item 8: the card's reply to command
	// data was none of INS, ~INS or 0x60.
	ErrUnexpectedProcedureByte = fmt.Errorf("iso7816: unexpected procedure byte")

	// ErrCardAbsent and ErrCardActivationFailed are §7 item 9.
	ErrCardAbsent           = fmt.Errorf("iso7816: card absent")
	ErrCardActivationFailed = fmt.Errorf("iso7816: card activation failed")
)

// OutcomeError wraps a non-OK timing.Outcome as an error of the same type
// Outcome() unwraps, for callers outside this package (the bridge) that
// need to surface a link-layer outcome through an error-returning API.
// Returns nil for timing.OK.
func OutcomeError(o timing.Outcome) error { return outcomeError(o) }

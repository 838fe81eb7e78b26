// Package bridge implements the dual-endpoint policy engine (C5, §4.5):
// the state machine that drives the card and terminal link layers
// together under one of five operating modes, selected at session start
// and never changed mid-session.
package bridge

import (
	"fmt"

	"github.com/usbarmory/defender/evtlog"
	"github.com/usbarmory/defender/iso7816"
	"github.com/usbarmory/defender/link"
	"github.com/usbarmory/defender/timing"
	"github.com/usbarmory/defender/ui"
)

// Mode selects one of the five fixed operating modes (§4.5).
type Mode int

const (
	ModeForwardLog    Mode = iota // M1
	ModeFilterGenAC               // M2
	ModeDummyPIN                  // M3
	ModeTerminalOnly              // M4
	ModeUSBCard                   // M5
)

func (m Mode) String() string {
	switch m {
	case ModeForwardLog:
		return "forward-and-log"
	case ModeFilterGenAC:
		return "filter-generateac"
	case ModeDummyPIN:
		return "dummy-pin"
	case ModeTerminalOnly:
		return "terminal-only"
	case ModeUSBCard:
		return "usb-emulated-card"
	default:
		return "unknown"
	}
}

// Outcome is one of the three session outcomes the propagation policy (§7
// "Propagation policy") maps every error to.
type Outcome int

const (
	Completed Outcome = iota
	TerminalEnded
	Faulted
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TerminalEnded:
		return "terminal ended"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// classify maps a link/transaction-layer error to a session Outcome (§7).
func classify(err error) Outcome {
	if err == nil {
		return Completed
	}
	outcome, ok := iso7816.Outcome(err)
	if ok {
		switch outcome {
		case timing.TimedOut, timing.NoClock, timing.ResetLow:
			return TerminalEnded
		}
	}
	return Faulted
}

// Endpoints bundles the per-side wiring a Session needs: the link.Transport
// and timing.Endpoint pair for the card wire, the same pair for the
// terminal wire, the CardControl used to reset the card, the event logger,
// and the persisted log store flushed at session end.
type Endpoints struct {
	CardTransport     link.Transport
	CardEndpoint      *timing.Endpoint
	CardControl       iso7816.CardControl
	TerminalTransport link.Transport
	TerminalEndpoint  *timing.Endpoint

	Log       *evtlog.Logger
	Persisted *evtlog.Persisted
	Display   ui.Display
	Buttons   ui.Buttons

	// Watchdog is poked once per APDU round trip and its limiter decides
	// whether that poke strokes the hardware (§4.5 "Watchdog"); nil
	// on a board with no hardware watchdog wired (hostsim), in which case
	// pokeWatchdog is a no-op.
	Watchdog *Watchdog
}

// Session runs one bridge session in a single fixed Mode.
type Session struct {
	e    *Endpoints
	mode Mode

	// cdol1Offset caches the byte offset of the Amount Authorised field
	// within a GENERATE AC command's data, discovered by M2 from a CDOL1
	// object and retained for the remainder of the session.
	cdol1Offset int
	haveOffset  bool

	// terminalConfig parameterises M4; nil for every other mode.
	terminalConfig *TerminalConfig
}

// NewSession builds a Session that will run mode once Run is called.
func NewSession(e *Endpoints, mode Mode) *Session {
	return &Session{e: e, mode: mode}
}

// WithTerminalConfig attaches the M4 parameters to a Session built with
// ModeTerminalOnly; it is a no-op for every other mode.
func (s *Session) WithTerminalConfig(cfg *TerminalConfig) *Session {
	s.terminalConfig = cfg
	return s
}

// pokeWatchdog strokes the hardware watchdog if one is wired, bounding how
// long any per-APDU round trip (M1/M2/M3/M5's shared receiveTerminalCommand,
// M4's sendCard) can run before the next stroke (§4.5 "Watchdog").
func (s *Session) pokeWatchdog() {
	if s.e.Watchdog != nil {
		s.e.Watchdog.Poke()
	}
}

// Run drives the session to completion and flushes the event log,
// regardless of outcome (§4.5 "log flush", §7 "No error ever silently
// corrupts").
func (s *Session) Run() (Outcome, error) {
	var err error
	switch s.mode {
	case ModeForwardLog:
		err = s.runForwardLog()
	case ModeFilterGenAC:
		err = s.runFilterGenerateAC()
	case ModeDummyPIN:
		err = s.runDummyPIN()
	case ModeTerminalOnly:
		err = s.runTerminalOnly()
	case ModeUSBCard:
		return Completed, fmt.Errorf("bridge: mode %s must be started with RunUSBCard, not Run", s.mode)
	default:
		err = fmt.Errorf("bridge: unknown mode %d", s.mode)
	}

	outcome := classify(err)
	if _, ferr := s.e.Persisted.Flush(s.e.Log.Bytes()); ferr != nil {
		s.e.Log.MemoryError()
	}
	s.e.Log.Reset()
	return outcome, err
}

package bridge

import (
	"fmt"
	"time"

	"github.com/usbarmory/defender/evtlog"
	"github.com/usbarmory/defender/iso7816"
	"github.com/usbarmory/defender/link"
	"github.com/usbarmory/defender/timing"
)

// HostLink is the USB CDC side of M5 (§4.5 "M5 USB-emulated card"): the
// bridge forwards every byte it would otherwise have sent to a real card,
// hex-encoded as one line, and the host plays the card by supplying bytes
// back through hostchannel's AT+UDATA command.
type HostLink interface {
	// SendHex writes data, hex-encoded, as one line to the host.
	SendHex(data []byte) error
}

// USBCard is the M5 session state hostchannel's AT+UDATA/AT+CTWAIT/AT+CCEND
// commands drive, running concurrently with the Session's own runUSBCard
// loop on the terminal wire.
type USBCard struct {
	host HostLink
	rx   chan byte
	end  chan struct{}

	// term/log are set by RunUSBCard once the terminal ATR has been sent,
	// so Wait (called concurrently from the hostchannel dispatch goroutine)
	// can emit a 0x60 heartbeat byte directly.
	termEndpoint  *timing.Endpoint
	termTransport link.Transport
	log           *evtlog.Logger
}

// NewUSBCard wires a USBCard to host; Supply/Wait/End (called from the
// hostchannel dispatch goroutine) and the Session's runUSBCard loop
// (running on its own goroutine) communicate only through channels.
func NewUSBCard(host HostLink) *USBCard {
	return &USBCard{host: host, rx: make(chan byte, 256), end: make(chan struct{})}
}

// Supply feeds host-provided bytes (already hex-decoded by hostchannel) to
// the terminal-facing loop, in order.
func (c *USBCard) Supply(data []byte) {
	for _, b := range data {
		c.rx <- b
	}
}

// End signals the terminal-facing loop to stop.
func (c *USBCard) End() { close(c.end) }

// Wait emits one 0x60 procedure byte to the terminal immediately (§4.5
// "AT+CTWAIT from the host causes the bridge to emit 0x60 procedure bytes
// while waiting"): hostchannel calls this once per AT+CTWAIT line, so a
// host that needs a longer pause simply sends the command repeatedly.
func (c *USBCard) Wait() error {
	if c.termEndpoint == nil {
		return fmt.Errorf("bridge: USBCard.Wait called before the session reached the terminal phase")
	}
	if outcome := link.SendByteWithRetry(c.termEndpoint, c.termTransport, 0x60); outcome != timing.OK {
		return iso7816.OutcomeError(outcome)
	}
	if c.log != nil {
		c.log.TerminalByte(true, 0x60)
	}
	return nil
}

// hostCardTransport adapts a USBCard to link.Transport, so the same
// iso7816 terminal-emulation code that drives a real card in M1/M4 can
// drive a host-supplied virtual one here: bytes this side "transmits" are
// buffered and flushed as one hex line to the host the next time a
// response is awaited (matching the scenario's "forwards them to host as
// one hex line", rather than one line per byte); bytes this side
// "receives" come from USBCard.rx, fed by AT+UDATA.
type hostCardTransport struct {
	card   *USBCard
	outBuf []byte
}

func (t *hostCardTransport) TxByte(b byte, stopBits int) error {
	t.outBuf = append(t.outBuf, b)
	return nil
}

func (t *hostCardTransport) RxByte(maxWait time.Duration) (byte, timing.Outcome) {
	if len(t.outBuf) > 0 {
		_ = t.card.host.SendHex(t.outBuf)
		t.outBuf = t.outBuf[:0]
	}

	var after <-chan time.Time
	if maxWait > 0 {
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		after = timer.C
	}

	select {
	case b := <-t.card.rx:
		return b, timing.OK
	case <-t.card.end:
		return 0, timing.ResetLow
	case <-after:
		return 0, timing.TimedOut
	}
}

func (t *hostCardTransport) PullLow(d time.Duration) {}
func (t *hostCardTransport) SensedLow() bool          { return false }
func (t *hostCardTransport) Cancelled() bool {
	select {
	case <-t.card.end:
		return true
	default:
		return false
	}
}
func (t *hostCardTransport) ClockPresent() bool { return true }

var _ link.Transport = (*hostCardTransport)(nil)

// RunUSBCard runs mode M5 to completion and flushes the event log, mirroring
// Run's propagation/flush policy (§7) for the one mode Run itself refuses
// to start.
func (s *Session) RunUSBCard(card *USBCard) (Outcome, error) {
	err := s.runUSBCard(card)
	outcome := classify(err)
	if _, ferr := s.e.Persisted.Flush(s.e.Log.Bytes()); ferr != nil {
		s.e.Log.MemoryError()
	}
	s.e.Log.Reset()
	return outcome, err
}

// runUSBCard implements M5: the core drives the terminal alone, relaying
// its commands to the host as hex and the host's replies back, exactly
// like M1's per-APDU loop but with the card-side Transport backed by
// USBCard rather than real silicon. The ATR itself is the first thing
// supplied over AT+UDATA, byte by byte, in place of a real cold reset.
func (s *Session) runUSBCard(card *USBCard) error {
	cardTransport := &hostCardTransport{card: card}
	cardEndpoint := &timing.Endpoint{
		Side:       timing.Card,
		Convention: timing.Direct,
		Clock:      s.e.CardEndpoint.Clock,
	}

	atr, err := iso7816.ReadATR(cardEndpoint, cardTransport, 0)
	if err != nil {
		return err
	}
	cardEndpoint.Convention = atr.Convention
	s.e.Log.ATRBytes(atr.Bytes())

	if outcome := link.SendByteWithRetry(s.e.TerminalEndpoint, s.e.TerminalTransport, atr.TS); outcome != timing.OK {
		return iso7816.OutcomeError(outcome)
	}
	s.e.Log.TerminalByte(true, atr.TS)
	if err := atr.RepublishBody(s.e.TerminalEndpoint, s.e.TerminalTransport); err != nil {
		return err
	}

	card.termEndpoint = s.e.TerminalEndpoint
	card.termTransport = s.e.TerminalTransport
	card.log = s.e.Log

	origCard, origEndpoint := s.e.CardTransport, s.e.CardEndpoint
	s.e.CardTransport, s.e.CardEndpoint = cardTransport, cardEndpoint
	defer func() { s.e.CardTransport, s.e.CardEndpoint = origCard, origEndpoint }()

	for {
		cmd, err := s.receiveTerminalCommand()
		if err != nil {
			return err
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

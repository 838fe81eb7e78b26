package bridge

import (
	"fmt"

	"github.com/usbarmory/defender/evtlog"
	"github.com/usbarmory/defender/hostchannel"
	"github.com/usbarmory/defender/iso7816"
)

// Controller adapts a fixed Endpoints wiring to hostchannel.Handler (§6),
// so the USB control channel can select one of the five session modes,
// drive M5's virtual card, and administer the persisted log, without any
// mode-specific logic living outside this package. Grounded on the
// teacher's example/web_server.go, the one place in the pack that wires a
// single struct's methods directly to an external request dispatcher.
type Controller struct {
	e    *Endpoints
	host HostLink

	card       *USBCard
	pendingCfg *TerminalConfig

	// bootloader is the board-specific reboot-to-bootloader entry point
	// (AT+CGBM); cmd/defender sets it, cmd/defendersim leaves it nil.
	bootloader func() error
}

// NewController wires a Controller to run sessions over e; host is the USB
// CDC link M5 hex-encodes its card-side bytes onto.
func NewController(e *Endpoints, host HostLink, bootloader func() error) *Controller {
	return &Controller{e: e, host: host, card: NewUSBCard(host), bootloader: bootloader}
}

// Reset performs a standalone cold reset (AT+CRST), outside of any of the
// five relay/filter modes, persisting the warm-reset flag and logging the
// resulting ATR. Used by a host that only wants to confirm a card is
// present, not run a full session.
func (c *Controller) Reset() error {
	if err := c.e.Persisted.SetWarmResetFlag(false); err != nil {
		c.e.Log.MemoryError()
	}
	atr, err := iso7816.Reset(c.e.CardEndpoint, c.e.CardTransport, c.e.CardControl, false)
	if err != nil {
		return err
	}
	c.e.Log.ATRBytes(atr.Bytes())
	return nil
}

// RunTerminal runs mode M4 (AT+CTERM) to completion using the
// TerminalConfig last assembled via VirtualTerminalInit/VirtualTerminalAPDU.
func (c *Controller) RunTerminal() error {
	if c.pendingCfg == nil || len(c.pendingCfg.AllowedAIDs) == 0 {
		return fmt.Errorf("bridge: AT+CTERM requires AT+CCINIT and at least one AT+CCAPDU AID first")
	}
	_, err := NewSession(c.e, ModeTerminalOnly).WithTerminalConfig(c.pendingCfg).Run()
	return err
}

// RunUSBCard starts mode M5 (AT+CTUSB) in the background: the session
// blocks on the terminal wire until AT+UDATA/AT+CTWAIT/AT+CCEND supply it
// bytes, so it cannot run synchronously within the command dispatch loop
// that also carries those very commands.
func (c *Controller) RunUSBCard() error {
	s := NewSession(c.e, ModeUSBCard)
	card := NewUSBCard(c.host) // fresh end/rx channels each session
	c.card = card
	go func() {
		if _, err := s.RunUSBCard(card); err != nil {
			c.e.Log.MemoryError() // session ended abnormally; already flushed by RunUSBCard
		}
	}()
	return nil
}

// RunForwardLog runs mode M1 (AT+CLET) to completion.
func (c *Controller) RunForwardLog() error {
	_, err := NewSession(c.e, ModeForwardLog).Run()
	return err
}

// RunDummyPIN runs mode M3 (AT+CDPIN) to completion.
func (c *Controller) RunDummyPIN() error {
	_, err := NewSession(c.e, ModeDummyPIN).Run()
	return err
}

// GetLog renders the persisted log as Intel HEX (AT+CGEE).
func (c *Controller) GetLog() (string, error) {
	data, err := c.e.Persisted.ReadLog()
	if err != nil {
		return "", err
	}
	return evtlog.EncodeIntelHex(data, 0), nil
}

// EraseLog discards the persisted log (AT+CEEE).
func (c *Controller) EraseLog() error {
	return c.e.Persisted.Erase()
}

// Bootloader invokes the board-specific reboot-to-bootloader hook (AT+CGBM).
func (c *Controller) Bootloader() error {
	if c.bootloader == nil {
		return fmt.Errorf("bridge: AT+CGBM not wired to a bootloader entry point")
	}
	return c.bootloader()
}

// VirtualTerminalInit starts assembling a fresh TerminalConfig for the next
// AT+CTERM (AT+CCINIT).
func (c *Controller) VirtualTerminalInit() error {
	c.pendingCfg = &TerminalConfig{}
	return nil
}

// VirtualTerminalAPDU appends one allowed AID to the TerminalConfig being
// assembled (AT+CCAPDU's hex argument).
func (c *Controller) VirtualTerminalAPDU(data []byte) error {
	if c.pendingCfg == nil {
		return fmt.Errorf("bridge: AT+CCAPDU before AT+CCINIT")
	}
	c.pendingCfg.AllowedAIDs = append(c.pendingCfg.AllowedAIDs, append([]byte(nil), data...))
	return nil
}

// SupplyData feeds host-supplied card bytes into the running M5 session
// (AT+UDATA).
func (c *Controller) SupplyData(data []byte) error {
	c.card.Supply(data)
	return nil
}

// Wait emits one heartbeat procedure byte to the terminal (AT+CTWAIT).
func (c *Controller) Wait() error {
	return c.card.Wait()
}

// End signals the running M5 session's virtual card to stop (AT+CCEND).
func (c *Controller) End() error {
	c.card.End()
	return nil
}

var _ hostchannel.Handler = (*Controller)(nil)

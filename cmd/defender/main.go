// Command defender is the bare-metal entry point running on the Defender's
// i.MX6UL-class board: the hw package's go:linkname runtime.hwinit has
// already brought up both ISO 7816 UARTs, their GPIO control lines, and the
// free-running timer by the time main runs, exactly as the teacher's
// board/f-secure/usbarmory/mark-two/usbarmory.go does for the console UART.
//
//go:build tamago && arm

package main

import (
	"fmt"
	"io"

	"github.com/usbarmory/defender/bridge"
	"github.com/usbarmory/defender/evtlog"
	"github.com/usbarmory/defender/hostchannel"
	"github.com/usbarmory/defender/hw"
	"github.com/usbarmory/defender/timing"
	"github.com/usbarmory/defender/ui"
)

// USBControlChannel is the USB CDC control endpoint's byte stream. Setting
// it up is explicitly out of scope (§1 Non-goals: "USB CDC endpoint
// plumbing"); a board revision's USB gadget wiring sets this before main
// runs. PanelDisplay and PanelButtons are the same kind of external
// collaborator, for the same reason (§6 "Display + buttons (external
// collaborator)"): a board revision without the optional character display
// leaves PanelDisplay nil, which Session already degrades for (only M2's
// approval prompt needs PanelButtons, and only once a board ships one).
var (
	USBControlChannel io.ReadWriter
	PanelDisplay      ui.Display
	PanelButtons      ui.Buttons
)

func main() {
	clock := timing.FixedClock(timing.CardETU(3571200))

	e := &bridge.Endpoints{
		CardTransport:     hw.CardUART,
		CardEndpoint:      &timing.Endpoint{Side: timing.Card, Convention: timing.Direct, Clock: clock},
		CardControl:       hw.Card,
		TerminalTransport: hw.TerminalUART,
		TerminalEndpoint:  &timing.Endpoint{Side: timing.Terminal, Convention: timing.Direct, Clock: clock},
		Log:               evtlog.New(4096),
		Persisted:         evtlog.NewPersisted(hw.Store{}),
		Display:           PanelDisplay,
		Buttons:           PanelButtons,
		Watchdog:          bridge.NewWatchdog(hw.StrokeWatchdog, bridge.WatchdogPeriod),
	}

	host := &hostLink{w: USBControlChannel}
	ctrl := bridge.NewController(e, host, rebootToBootloader)
	ch := hostchannel.NewChannel(USBControlChannel, USBControlChannel, ctrl)

	for {
		if err := ch.Run(); err != nil {
			e.Log.MemoryError()
		}
	}
}

// hostLink adapts USBControlChannel to bridge.HostLink for M5, hex-encoding
// each line exactly as cmd/defendersim's development-host counterpart does.
type hostLink struct{ w io.Writer }

func (h *hostLink) SendHex(data []byte) error {
	_, err := fmt.Fprintf(h.w, "AT+UDATA=%x\r\n", data)
	return err
}

// rebootToBootloader is the AT+CGBM hook: on real hardware this would set
// the SNVS/SRTC persistent scratch register the boot ROM checks and issue
// a watchdog-triggered reset. Left unimplemented here: no SPEC_FULL
// component other than this one call site needs it, and
// board/f-secure/usbarmory/mark-two (the board support the register layout
// would be grounded on) was trimmed down to the four ISO 7816 reset signals
// this board actually uses.
func rebootToBootloader() error {
	panic("defender: reboot to bootloader not implemented on this board revision")
}

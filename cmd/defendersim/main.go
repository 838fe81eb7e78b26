// Command defendersim runs the Defender bridge logic against host-side
// stand-ins (hostsim) instead of real silicon: serial devices or an
// in-process loopback pair for the card/terminal wires, and a flat file
// for the persisted log. It exists purely for development and manual
// exercising of the bridge/iso7816/hostchannel stack from a workstation,
// mirroring how the teacher's example/ tree ran the same core logic the
// bare-metal build runs, against host networking instead of USB CDC.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"

	"github.com/usbarmory/defender/bridge"
	"github.com/usbarmory/defender/evtlog"
	"github.com/usbarmory/defender/hostchannel"
	"github.com/usbarmory/defender/hostsim"
	"github.com/usbarmory/defender/link"
	"github.com/usbarmory/defender/timing"
)

func main() {
	var (
		cardDev     = flag.String("card", "", "serial device for the card wire (empty: in-process loopback)")
		terminalDev = flag.String("terminal", "", "serial device for the terminal wire (empty: in-process loopback)")
		baud        = flag.Int("baud", 9600, "serial baud rate for -card/-terminal")
		logFile     = flag.String("log", "defender.log", "persisted event log file")
		controlAddr = flag.String("control", "127.0.0.1:7816", "host control channel listen address")
		debugAddr   = flag.String("debug", "127.0.0.1:6060", "debug charts listen address, empty disables it")
	)
	flag.Parse()

	if *debugAddr != "" {
		go serveDebugCharts(*debugAddr)
	}

	store, err := hostsim.OpenFileStore(*logFile, 0x1000)
	if err != nil {
		log.Fatalf("defendersim: log store: %v", err)
	}
	defer store.Close()

	cardTransport, terminalTransport, err := openWires(*cardDev, *terminalDev, *baud)
	if err != nil {
		log.Fatalf("defendersim: %v", err)
	}

	clock := timing.FixedClock(timing.CardETU(3571200)) // nominal 3.5712MHz card clock, 372 cycles/ETU

	e := &bridge.Endpoints{
		CardTransport:     cardTransport,
		CardEndpoint:      &timing.Endpoint{Side: timing.Card, Convention: timing.Direct, Clock: clock},
		CardControl:       noopCardControl{}, // no real reset lines over a host TTY/loopback
		TerminalTransport: terminalTransport,
		TerminalEndpoint:  &timing.Endpoint{Side: timing.Terminal, Convention: timing.Direct, Clock: clock},
		Log:               evtlog.New(4096),
		Persisted:         evtlog.NewPersisted(store),
	}

	ln, err := net.Listen("tcp", *controlAddr)
	if err != nil {
		log.Fatalf("defendersim: control listener: %v", err)
	}
	log.Printf("defendersim: host control channel on %s", *controlAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Fatalf("defendersim: accept: %v", err)
		}
		go serveControlConn(conn, e)
	}
}

// serveControlConn runs one host control channel session (§6) over conn,
// exactly as the USB CDC control endpoint would on real hardware.
func serveControlConn(conn net.Conn, e *bridge.Endpoints) {
	defer conn.Close()
	ctrl := bridge.NewController(e, &hexLineHost{w: conn}, nil)
	ch := hostchannel.NewChannel(conn, conn, ctrl)
	if err := ch.Run(); err != nil {
		log.Printf("defendersim: control channel: %v", err)
	}
}

// hexLineHost adapts a net.Conn to bridge.HostLink, hex-encoding each line
// M5 forwards, matching the real USB CDC control channel's AT+UDATA framing.
type hexLineHost struct {
	w net.Conn
}

func (h *hexLineHost) SendHex(data []byte) error {
	_, err := fmt.Fprintf(h.w, "AT+UDATA=%x\r\n", data)
	return err
}

// openWires returns the card/terminal link.Transport pair: real serial
// devices if both flags are set, an in-process loopback pair wired to each
// other if both are empty, and an error if only one is set. The loopback
// pair exercises the bridge with no hardware at all (driving one end from a
// separate terminal-emulator process while the other plays the card, or
// vice versa, is left to -card/-terminal; leaving both unset is only useful
// for smoke-testing that the control channel itself comes up).
func openWires(cardDev, terminalDev string, baud int) (card, terminal link.Transport, err error) {
	if cardDev == "" && terminalDev == "" {
		a, b := hostsim.NewLoopbackPair()
		return a, b, nil
	}
	if cardDev == "" || terminalDev == "" {
		return nil, nil, fmt.Errorf("defendersim: -card and -terminal must both be set, or both left empty")
	}
	card, err = hostsim.OpenSerialPort(cardDev, baud)
	if err != nil {
		return nil, nil, err
	}
	terminal, err = hostsim.OpenSerialPort(terminalDev, baud)
	if err != nil {
		return nil, nil, err
	}
	return card, terminal, nil
}

// noopCardControl stands in for iso7816.CardControl when the card side is a
// host TTY or loopback with no real VCC/RST/CLK lines to drive.
type noopCardControl struct{}

func (noopCardControl) VCCLow()     {}
func (noopCardControl) VCCHigh()    {}
func (noopCardControl) IOLow()      {}
func (noopCardControl) ReleaseIO()  {}
func (noopCardControl) CLKLow()     {}
func (noopCardControl) ReleaseCLK() {}
func (noopCardControl) StartClock() {}
func (noopCardControl) RSTLow()     {}
func (noopCardControl) RSTHigh()    {}

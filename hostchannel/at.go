// Package hostchannel implements the host control channel (§6 "Host
// control channel"): a line-oriented ASCII command protocol carried over
// the USB CDC control endpoint, used to select a session mode, feed an
// emulated card's bytes in M5, and administer the persisted log.
package hostchannel

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Command is one parsed AT line: a name (always upper-cased, "AT+" kept)
// and, for the "=value" forms, the raw value text.
type Command struct {
	Name string
	Arg  string
	hasArg bool
}

// Recognised command names (§6 table).
const (
	CmdReset       = "AT+CRST"
	CmdTerminal    = "AT+CTERM"
	CmdUSBCard     = "AT+CTUSB"
	CmdForwardLog  = "AT+CLET"
	CmdDummyPIN    = "AT+CDPIN"
	CmdGetLog      = "AT+CGEE"
	CmdEraseLog    = "AT+CEEE"
	CmdBootloader  = "AT+CGBM"
	CmdVTInit      = "AT+CCINIT"
	CmdVTAPDU      = "AT+CCAPDU"
	CmdUData       = "AT+UDATA"
	CmdWait        = "AT+CTWAIT"
	CmdEnd         = "AT+CCEND"
)

// responses, §6: "AT OK\r\n on success, AT BAD\r\n on parse or protocol
// failure, AT TRESET\r\n when the terminal issued an unexpected reset in
// M5."
const (
	RespOK     = "AT OK\r\n"
	RespBad    = "AT BAD\r\n"
	RespTReset = "AT TRESET\r\n"
)

// ErrParse is returned by ParseLine for anything not matching the command
// grammar; the channel loop turns it into RespBad rather than propagating.
var ErrParse = fmt.Errorf("hostchannel: malformed command line")

// ParseLine parses one command line (CR/LF/CRLF already stripped by the
// caller's scanner). "AT+NAME" and "AT+NAME=hexvalue" are the only two
// shapes the table defines.
func ParseLine(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(strings.ToUpper(line), "AT+") {
		return Command{}, ErrParse
	}
	if eq := strings.IndexByte(line, '='); eq >= 0 {
		return Command{Name: strings.ToUpper(line[:eq]), Arg: line[eq+1:], hasArg: true}, nil
	}
	return Command{Name: strings.ToUpper(line)}, nil
}

// HexArg decodes the command's "=<hex>" argument.
func (c Command) HexArg() ([]byte, error) {
	if !c.hasArg {
		return nil, fmt.Errorf("hostchannel: %s takes no argument", c.Name)
	}
	return hex.DecodeString(c.Arg)
}

// Handler is implemented by the bridge: one method per command family. A
// Handler method's error causes the channel to emit RespBad; ErrTerminalReset
// causes RespTReset instead.
type Handler interface {
	Reset() error
	RunTerminal() error
	RunUSBCard() error
	RunForwardLog() error
	RunDummyPIN() error
	GetLog() (string, error) // returns the Intel HEX payload to emit before AT OK
	EraseLog() error
	Bootloader() error
	VirtualTerminalInit() error
	VirtualTerminalAPDU(cmd []byte) error
	SupplyData(data []byte) error
	Wait() error
	End() error
}

// ErrTerminalReset, returned by a Handler method, is mapped to RespTReset
// instead of RespBad.
var ErrTerminalReset = fmt.Errorf("hostchannel: unexpected terminal reset")

// Channel runs the line-oriented command loop against a Handler, reading
// from r and writing responses (and AT+CGEE's Intel HEX payload) to w.
type Channel struct {
	r *bufio.Scanner
	w io.Writer
	h Handler
}

// NewChannel wraps r/w with the CR/LF/CRLF-tolerant line splitter the host
// control channel requires.
func NewChannel(r io.Reader, w io.Writer, h Handler) *Channel {
	sc := bufio.NewScanner(r)
	sc.Split(scanCRLFLines)
	return &Channel{r: sc, w: w, h: h}
}

// Run processes lines until r is exhausted, the scanner fails or a response
// cannot be written; a handler error is answered with a response and does
// not stop the loop (session termination is the caller's responsibility
// once Run returns).
func (c *Channel) Run() error {
	for c.r.Scan() {
		line := c.r.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := c.dispatchLine(line); err != nil {
			return err
		}
	}
	return c.r.Err()
}

func (c *Channel) dispatchLine(line string) error {
	cmd, err := ParseLine(line)
	if err != nil {
		return c.respond(RespBad)
	}

	var herr error
	switch cmd.Name {
	case CmdReset:
		herr = c.h.Reset()
	case CmdTerminal:
		herr = c.h.RunTerminal()
	case CmdUSBCard:
		herr = c.h.RunUSBCard()
	case CmdForwardLog:
		herr = c.h.RunForwardLog()
	case CmdDummyPIN:
		herr = c.h.RunDummyPIN()
	case CmdGetLog:
		var payload string
		payload, herr = c.h.GetLog()
		if herr == nil {
			if _, werr := io.WriteString(c.w, payload); werr != nil {
				return werr
			}
		}
	case CmdEraseLog:
		herr = c.h.EraseLog()
	case CmdBootloader:
		herr = c.h.Bootloader()
	case CmdVTInit:
		herr = c.h.VirtualTerminalInit()
	case CmdVTAPDU:
		var data []byte
		if data, herr = cmd.HexArg(); herr == nil {
			herr = c.h.VirtualTerminalAPDU(data)
		}
	case CmdUData:
		var data []byte
		if data, herr = cmd.HexArg(); herr == nil {
			herr = c.h.SupplyData(data)
		}
	case CmdWait:
		herr = c.h.Wait()
	case CmdEnd:
		herr = c.h.End()
	default:
		herr = ErrParse
	}

	switch herr {
	case nil:
		return c.respond(RespOK)
	case ErrTerminalReset:
		return c.respond(RespTReset)
	default:
		return c.respond(RespBad)
	}
}

func (c *Channel) respond(s string) error {
	_, err := io.WriteString(c.w, s)
	return err
}

// scanCRLFLines is a bufio.SplitFunc that accepts lines terminated by CR,
// LF, or CRLF, unlike bufio.ScanLines which only recognises the latter two.
func scanCRLFLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' {
			return i + 1, trimCR(data[:i]), nil
		}
		if b == '\r' {
			if i+1 < len(data) && data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			if i+1 == len(data) && !atEOF {
				return 0, nil, nil // need more data to know if \n follows
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func trimCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

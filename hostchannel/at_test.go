package hostchannel

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLineBasic(t *testing.T) {
	cmd, err := ParseLine("AT+CRST\r\n")
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if cmd.Name != CmdReset || cmd.hasArg {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseLineWithArg(t *testing.T) {
	cmd, err := ParseLine("at+udata=3b00\n")
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if cmd.Name != CmdUData {
		t.Fatalf("name = %q", cmd.Name)
	}
	data, err := cmd.HexArg()
	if err != nil {
		t.Fatalf("HexArg: %v", err)
	}
	if !bytes.Equal(data, []byte{0x3b, 0x00}) {
		t.Fatalf("data = % x", data)
	}
}

func TestParseLineRejectsGarbage(t *testing.T) {
	if _, err := ParseLine("hello"); err == nil {
		t.Fatal("expected error")
	}
}

type stubHandler struct {
	log      string
	resetErr error
}

func (s *stubHandler) Reset() error                        { return s.resetErr }
func (s *stubHandler) RunTerminal() error                  { return nil }
func (s *stubHandler) RunUSBCard() error                   { return nil }
func (s *stubHandler) RunForwardLog() error                { return nil }
func (s *stubHandler) RunDummyPIN() error                  { return nil }
func (s *stubHandler) GetLog() (string, error)              { return s.log, nil }
func (s *stubHandler) EraseLog() error                     { return nil }
func (s *stubHandler) Bootloader() error                   { return nil }
func (s *stubHandler) VirtualTerminalInit() error           { return nil }
func (s *stubHandler) VirtualTerminalAPDU(cmd []byte) error { return nil }
func (s *stubHandler) SupplyData(data []byte) error         { return nil }
func (s *stubHandler) Wait() error                          { return ErrTerminalReset }
func (s *stubHandler) End() error                           { return nil }

var _ Handler = (*stubHandler)(nil)

func TestChannelRunDispatchesAndResponds(t *testing.T) {
	in := strings.NewReader("AT+CRST\r\nAT+CTWAIT\r\nnonsense\r\n")
	var out bytes.Buffer
	h := &stubHandler{log: ":00000001FF\r\n"}
	ch := NewChannel(in, &out, h)
	if err := ch.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := RespOK + RespTReset + RespBad
	if out.String() != want {
		t.Fatalf("got %q want %q", out.String(), want)
	}
}

func TestChannelRunGetLogEmitsPayloadThenOK(t *testing.T) {
	in := strings.NewReader("AT+CGEE\r\n")
	var out bytes.Buffer
	h := &stubHandler{log: ":00000001FF\r\n"}
	ch := NewChannel(in, &out, h)
	if err := ch.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := ":00000001FF\r\n" + RespOK
	if out.String() != want {
		t.Fatalf("got %q want %q", out.String(), want)
	}
}

func TestChannelRunResetErrorYieldsBad(t *testing.T) {
	in := strings.NewReader("AT+CRST\r\n")
	var out bytes.Buffer
	h := &stubHandler{resetErr: errBoom}
	ch := NewChannel(in, &out, h)
	if err := ch.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != RespBad {
		t.Fatalf("got %q", out.String())
	}
}

func TestScanCRLFLinesAcceptsAllThreeEndings(t *testing.T) {
	in := strings.NewReader("AT+CRST\rAT+CCEND\nAT+CGBM\r\n")
	var out bytes.Buffer
	h := &stubHandler{}
	ch := NewChannel(in, &out, h)
	if err := ch.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != RespOK+RespOK+RespOK {
		t.Fatalf("got %q", out.String())
	}
}

var errBoom = &stubError{"boom"}

type stubError struct{ s string }

func (e *stubError) Error() string { return e.s }

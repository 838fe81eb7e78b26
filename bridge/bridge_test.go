package bridge

import (
	"bytes"
	"testing"
	"time"

	"github.com/usbarmory/defender/evtlog"
	"github.com/usbarmory/defender/iso7816"
	"github.com/usbarmory/defender/link"
	"github.com/usbarmory/defender/timing"
)

func TestModeString(t *testing.T) {
	if ModeForwardLog.String() != "forward-and-log" {
		t.Fatalf("got %q", ModeForwardLog.String())
	}
	if Mode(99).String() != "unknown" {
		t.Fatalf("got %q", Mode(99).String())
	}
}

func TestClassifyMapsTerminalOutcomesSeparatelyFromFaults(t *testing.T) {
	cases := []struct {
		err  error
		want Outcome
	}{
		{nil, Completed},
		{iso7816.OutcomeError(timing.TimedOut), TerminalEnded},
		{iso7816.OutcomeError(timing.NoClock), TerminalEnded},
		{iso7816.OutcomeError(timing.ResetLow), TerminalEnded},
		{iso7816.OutcomeError(timing.BadFrame), Faulted},
		{iso7816.ErrUnexpectedProcedureByte, Faulted},
	}
	for _, c := range cases {
		if got := classify(c.err); got != c.want {
			t.Errorf("classify(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestSubstituteDummyPINPreservesLength(t *testing.T) {
	real := []byte{0x24, 0x12, 0x34, 0x56, 0xFF, 0xFF, 0xFF, 0xFF}
	dummy := substituteDummyPIN(real)
	if len(dummy) != len(real) {
		t.Fatalf("length changed: %d vs %d", len(dummy), len(real))
	}
	if bytes.Equal(dummy, real) {
		t.Fatal("dummy PIN equals real PIN")
	}
}

func TestAmountFieldClampsToBounds(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03}
	if got := amountField(data, 10); got != nil {
		t.Fatalf("expected nil for out-of-range offset, got % x", got)
	}
	got := amountField(data, 1)
	if !bytes.Equal(got, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("got % x", got)
	}
}

func TestFormatBCDAmountScenario5(t *testing.T) {
	bcd := []byte{0x00, 0x00, 0x00, 0x00, 0x12, 0x34}
	want := "00,00,00,00,12,34"
	if got := formatBCDAmount(bcd); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestCDOL1OffsetCachedFromReadRecordResponse(t *testing.T) {
	s := &Session{e: &Endpoints{Log: evtlog.New(256)}}
	// CDOL1 = tag 9F02 len 6 ++ tag 9F03 len 6, at TLV tag 0x8C.
	cdol1 := []byte{0x9F, 0x02, 0x06, 0x9F, 0x03, 0x06}
	resp := iso7816.ResponseAPDU{Data: append([]byte{0x8C, byte(len(cdol1))}, cdol1...)}
	s.learnCDOL1(resp)
	if !s.haveOffset {
		t.Fatal("expected offset to be learned")
	}
	if s.cdol1Offset != 1 {
		t.Fatalf("offset = %d, want 1", s.cdol1Offset)
	}
}

// --- end-to-end M1 forward-and-log test, using synchronous queue-backed
// fakes for both wires (grounded on the same pattern iso7816's
// fakeCardTransport tests use: a pre-loaded byte queue, no real concurrency
// needed since the bridge never issues overlapping reads on one wire).

type queueTransport struct {
	rx    []byte
	idx   int
	tx    []byte
	after func()
}

func (q *queueTransport) TxByte(b byte, stopBits int) error {
	q.tx = append(q.tx, b)
	return nil
}

func (q *queueTransport) RxByte(maxWait time.Duration) (byte, timing.Outcome) {
	if q.idx >= len(q.rx) {
		if q.after != nil {
			q.after()
		}
		return 0, timing.TimedOut
	}
	b := q.rx[q.idx]
	q.idx++
	return b, timing.OK
}

func (q *queueTransport) PullLow(d time.Duration) {}
func (q *queueTransport) SensedLow() bool          { return false }
func (q *queueTransport) Cancelled() bool          { return false }
func (q *queueTransport) ClockPresent() bool       { return true }

var _ link.Transport = (*queueTransport)(nil)

type noopControl struct{}

func (noopControl) VCCLow()     {}
func (noopControl) VCCHigh()    {}
func (noopControl) IOLow()      {}
func (noopControl) ReleaseIO()  {}
func (noopControl) CLKLow()     {}
func (noopControl) ReleaseCLK() {}
func (noopControl) StartClock() {}
func (noopControl) RSTLow()     {}
func (noopControl) RSTHigh()    {}

var _ iso7816.CardControl = noopControl{}

type memStore struct{ buf [0x1000]byte }

func (m *memStore) ReadAt(offset int, buf []byte) error {
	copy(buf, m.buf[offset:])
	return nil
}

func (m *memStore) WriteAt(offset int, data []byte) error {
	copy(m.buf[offset:], data)
	return nil
}

func fastEndpoint(side timing.Side) *timing.Endpoint {
	return &timing.Endpoint{Side: side, Convention: timing.Direct, Clock: timing.FixedClock(time.Microsecond)}
}

func TestRunForwardLogOneTransactionThenTerminalEnds(t *testing.T) {
	// Card wire: minimal ATR (3B 00 00), then an immediate SW=9000 reply
	// with no data (case 0 command, so no procedure-byte phase).
	card := &queueTransport{rx: []byte{0x3B, 0x00, 0x00, 0x90, 0x00}}
	// Terminal wire: one 5-byte case-0 header, then nothing (TimedOut ends
	// the session, §4.5 "Repeat until TimedOut ... on the terminal side").
	term := &queueTransport{rx: []byte{0x00, 0x00, 0x00, 0x00, 0x00}}

	e := &Endpoints{
		CardTransport:     card,
		CardEndpoint:      fastEndpoint(timing.Card),
		CardControl:       noopControl{},
		TerminalTransport: term,
		TerminalEndpoint:  fastEndpoint(timing.Terminal),
		Log:               evtlog.New(1024),
		Persisted:         evtlog.NewPersisted(&memStore{}),
	}

	s := NewSession(e, ModeForwardLog)
	outcome, err := s.Run()
	if outcome != TerminalEnded {
		t.Fatalf("outcome = %v, err = %v", outcome, err)
	}

	wantCardTx := []byte{0x00, 0x00, 0x00, 0x00, 0x00} // the forwarded header
	if !bytes.Equal(card.tx, wantCardTx) {
		t.Fatalf("card.tx = % x, want % x", card.tx, wantCardTx)
	}
	wantTermTx := []byte{0x3B, 0x00, 0x00, 0x90, 0x00} // TS, RepublishBody(T0,TB1), then SW
	if !bytes.Equal(term.tx, wantTermTx) {
		t.Fatalf("term.tx = % x, want % x", term.tx, wantTermTx)
	}
}

func TestRunDummyPINSubstitutesVerifyData(t *testing.T) {
	card := &queueTransport{rx: []byte{0x3B, 0x00, 0x00}}
	card.rx = append(card.rx, 0x20, 0x90, 0x00) // procedure byte echoing INS, then SW
	term := &queueTransport{rx: []byte{0x00, 0x20, 0x00, 0x80, 0x08, 0x24, 0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE}}

	e := &Endpoints{
		CardTransport:     card,
		CardEndpoint:      fastEndpoint(timing.Card),
		CardControl:       noopControl{},
		TerminalTransport: term,
		TerminalEndpoint:  fastEndpoint(timing.Terminal),
		Log:               evtlog.New(1024),
		Persisted:         evtlog.NewPersisted(&memStore{}),
	}

	s := NewSession(e, ModeDummyPIN)
	outcome, _ := s.Run()
	if outcome != TerminalEnded {
		t.Fatalf("outcome = %v", outcome)
	}

	sentPIN := card.tx[5:13] // after the 5-byte header
	if bytes.Equal(sentPIN, []byte{0x24, 0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE}) {
		t.Fatal("real PIN reached the card unchanged")
	}
	if len(sentPIN) != 8 {
		t.Fatalf("PIN block length changed: got %d bytes", len(sentPIN))
	}
}

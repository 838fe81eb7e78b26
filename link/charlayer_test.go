package link

import (
	"testing"
	"time"

	"github.com/usbarmory/defender/timing"
)

// fakeTransport is a deterministic, time-free stand-in for Transport used
// to exercise the retry/NACK state machine without real sleeps.
type fakeTransport struct {
	txLog       []byte
	nackAfterTx int // number of TxByte calls for which SensedLow() returns true
	txCount     int

	rxQueue []rxEvent
	rxIdx   int

	cancelled bool
	clock     bool
}

type rxEvent struct {
	b       byte
	outcome timing.Outcome
}

func (f *fakeTransport) TxByte(b byte, stopBits int) error {
	f.txLog = append(f.txLog, b)
	f.txCount++
	return nil
}

func (f *fakeTransport) RxByte(maxWait time.Duration) (byte, timing.Outcome) {
	if f.rxIdx >= len(f.rxQueue) {
		return 0, timing.TimedOut
	}
	e := f.rxQueue[f.rxIdx]
	f.rxIdx++
	return e.b, e.outcome
}

func (f *fakeTransport) PullLow(d time.Duration) {}

func (f *fakeTransport) SensedLow() bool {
	return f.txCount <= f.nackAfterTx
}

func (f *fakeTransport) Cancelled() bool    { return f.cancelled }
func (f *fakeTransport) ClockPresent() bool { return f.clock }

func testEndpoint() *timing.Endpoint {
	return &timing.Endpoint{
		Side:       timing.Card,
		Convention: timing.Direct,
		TC1:        0,
		Clock:      timing.FixedClock(time.Microsecond),
	}
}

func TestSendByteWithRetrySucceedsFirstTry(t *testing.T) {
	ft := &fakeTransport{}
	ep := testEndpoint()

	outcome := SendByteWithRetry(ep, ft, 0xA4)

	if outcome != timing.OK {
		t.Fatalf("outcome = %v, want OK", outcome)
	}
	if len(ft.txLog) != 1 || ft.txLog[0] != 0xA4 {
		t.Fatalf("expected exactly one transmitted 0xA4, got %v", ft.txLog)
	}
}

func TestSendByteWithRetryRecoversAfterNacks(t *testing.T) {
	ft := &fakeTransport{nackAfterTx: 3} // first 3 transmissions NACKed, 4th succeeds
	ep := testEndpoint()

	outcome := SendByteWithRetry(ep, ft, 0x5A)

	if outcome != timing.OK {
		t.Fatalf("outcome = %v, want OK", outcome)
	}
	if len(ft.txLog) != 4 {
		t.Fatalf("expected 4 transmissions (1 + 3 retries), got %d", len(ft.txLog))
	}
	for _, b := range ft.txLog {
		if b != 0x5A {
			t.Fatalf("every retransmission must carry the same character, got %#x", b)
		}
	}
}

func TestSendByteWithRetryExhausted(t *testing.T) {
	ft := &fakeTransport{nackAfterTx: 10} // always NACKed
	ep := testEndpoint()

	outcome := SendByteWithRetry(ep, ft, 0x01)

	if outcome != timing.BadFrame {
		t.Fatalf("outcome = %v, want BadFrame", outcome)
	}
	if len(ft.txLog) != MaxRetries+1 {
		t.Fatalf("expected %d transmissions, got %d", MaxRetries+1, len(ft.txLog))
	}
}

func TestSendByteWithRetryCancellation(t *testing.T) {
	ft := &fakeTransport{cancelled: true}
	ep := testEndpoint()

	outcome := SendByteWithRetry(ep, ft, 0x01)

	if outcome != timing.ResetLow {
		t.Fatalf("outcome = %v, want ResetLow", outcome)
	}
	if len(ft.txLog) != 0 {
		t.Fatalf("cancelled transport must not transmit, got %v", ft.txLog)
	}
}

func TestRecvByteWithRetryImmediateSuccess(t *testing.T) {
	ft := &fakeTransport{rxQueue: []rxEvent{{b: 0x3B, outcome: timing.OK}}}
	ep := testEndpoint()

	b, outcome := RecvByteWithRetry(ep, ft, 0)

	if outcome != timing.OK || b != 0x3B {
		t.Fatalf("got (%#x, %v), want (0x3B, OK)", b, outcome)
	}
}

func TestRecvByteWithRetrySkipsBadFrames(t *testing.T) {
	ft := &fakeTransport{rxQueue: []rxEvent{
		{outcome: timing.BadFrame},
		{outcome: timing.BadFrame},
		{b: 0x90, outcome: timing.OK},
	}}
	ep := testEndpoint()

	b, outcome := RecvByteWithRetry(ep, ft, 0)

	if outcome != timing.OK || b != 0x90 {
		t.Fatalf("got (%#x, %v), want (0x90, OK)", b, outcome)
	}
}

func TestRecvByteWithRetryExhausted(t *testing.T) {
	events := make([]rxEvent, MaxRetries+1)
	for i := range events {
		events[i] = rxEvent{outcome: timing.BadFrame}
	}
	ft := &fakeTransport{rxQueue: events}
	ep := testEndpoint()

	_, outcome := RecvByteWithRetry(ep, ft, 0)

	if outcome != timing.BadFrame {
		t.Fatalf("outcome = %v, want BadFrame", outcome)
	}
}

func TestRecvByteWithRetryPropagatesTimedOut(t *testing.T) {
	ft := &fakeTransport{}
	ep := testEndpoint()

	_, outcome := RecvByteWithRetry(ep, ft, time.Microsecond)

	if outcome != timing.TimedOut {
		t.Fatalf("outcome = %v, want TimedOut", outcome)
	}
}

func TestInverseConventionRoundTrip(t *testing.T) {
	ep := &timing.Endpoint{Convention: timing.Inverse, Clock: timing.FixedClock(time.Microsecond)}
	ft := &fakeTransport{}

	SendByteWithRetry(ep, ft, 0x3F)

	if len(ft.txLog) != 1 {
		t.Fatalf("expected one transmission, got %d", len(ft.txLog))
	}

	// 0x3F bit-reversed is 0xFC; the wire sees the reversed form.
	if ft.txLog[0] != 0xFC {
		t.Fatalf("wire byte = %#x, want 0xFC (bit-reversed 0x3F)", ft.txLog[0])
	}

	ft.rxQueue = []rxEvent{{b: 0xFC, outcome: timing.OK}}
	b, outcome := RecvByteWithRetry(ep, ft, 0)
	if outcome != timing.OK || b != 0x3F {
		t.Fatalf("got (%#x, %v), want (0x3F, OK) after inverse decode", b, outcome)
	}
}

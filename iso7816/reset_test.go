package iso7816

import (
	"testing"
	"time"

	"github.com/usbarmory/defender/link"
	"github.com/usbarmory/defender/timing"
)

type fakeControl struct {
	log []string
}

func (f *fakeControl) VCCLow()     { f.log = append(f.log, "VCCLow") }
func (f *fakeControl) VCCHigh()    { f.log = append(f.log, "VCCHigh") }
func (f *fakeControl) IOLow()      { f.log = append(f.log, "IOLow") }
func (f *fakeControl) ReleaseIO()  { f.log = append(f.log, "ReleaseIO") }
func (f *fakeControl) CLKLow()     { f.log = append(f.log, "CLKLow") }
func (f *fakeControl) ReleaseCLK() { f.log = append(f.log, "ReleaseCLK") }
func (f *fakeControl) StartClock() { f.log = append(f.log, "StartClock") }
func (f *fakeControl) RSTLow()     { f.log = append(f.log, "RSTLow") }
func (f *fakeControl) RSTHigh()    { f.log = append(f.log, "RSTHigh") }

func TestResetColdReadsATR(t *testing.T) {
	ft := &fakeCardTransport{rxQ: []byte{0x3B, 0x00, 0x00}}
	fc := &fakeControl{}
	ep := cardEndpoint()

	atr, err := Reset(ep, ft, fc, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atr.Convention != timing.Direct {
		t.Fatalf("convention = %v, want Direct", atr.Convention)
	}
	if fc.log[0] != "VCCLow" {
		t.Fatalf("cold reset must start by dropping VCC, got %v", fc.log)
	}
	if fc.log[len(fc.log)-1] != "RSTHigh" {
		t.Fatalf("reset sequence must end by driving RST high, got %v", fc.log)
	}
}

func TestResetWarmSkipsVCCLow(t *testing.T) {
	ft := &fakeCardTransport{rxQ: []byte{0x3B, 0x00, 0x00}}
	fc := &fakeControl{}
	ep := cardEndpoint()

	if _, err := Reset(ep, ft, fc, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.log[0] == "VCCLow" {
		t.Fatalf("warm reset must not drop VCC, got %v", fc.log)
	}
}

func TestResetColdFallsBackToWarmOnNoAnswer(t *testing.T) {
	fc := &fakeControl{}
	ep := cardEndpoint()
	ft := &timeoutTransport{}

	_, err := Reset(ep, ft, fc, false)
	if err != ErrCardActivationFailed {
		t.Fatalf("err = %v, want ErrCardActivationFailed", err)
	}
	// VCCLow should appear exactly once: only the initial cold attempt
	// drops VCC, the retried warm attempt must not.
	count := 0
	for _, e := range fc.log {
		if e == "VCCLow" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("VCCLow asserted %d times, want 1 (cold once, warm retry never)", count)
	}
}

type timeoutTransport struct{}

func (timeoutTransport) TxByte(b byte, stopBits int) error { return nil }
func (timeoutTransport) RxByte(maxWait time.Duration) (byte, timing.Outcome) {
	return 0, timing.TimedOut
}
func (timeoutTransport) PullLow(d time.Duration) {}
func (timeoutTransport) SensedLow() bool         { return false }
func (timeoutTransport) Cancelled() bool         { return false }
func (timeoutTransport) ClockPresent() bool      { return true }

var _ link.Transport = timeoutTransport{}

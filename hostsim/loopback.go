package hostsim

import (
	"sync"
	"time"

	"github.com/usbarmory/defender/link"
	"github.com/usbarmory/defender/timing"
)

// NewLoopbackPair wires two Transports together in memory, the way a host
// test wires a fake terminal directly to a fake card without any real wire
// in between: bytes written to one end's TxByte become readable from the
// other end's RxByte.
func NewLoopbackPair() (a, b *loopbackEnd) {
	chAB := make(chan byte, 1)
	chBA := make(chan byte, 1)

	lowA := &sync.Mutex{}
	lowB := &sync.Mutex{}

	endA := &loopbackEnd{tx: chAB, rx: chBA, peerLow: lowB, ownLow: lowA}
	endB := &loopbackEnd{tx: chBA, rx: chAB, peerLow: lowA, ownLow: lowB}
	return endA, endB
}

// loopbackEnd is one side of a LoopbackPair.
type loopbackEnd struct {
	tx, rx    chan byte
	peerLow   *sync.Mutex // held locked by the peer while it is pulling this end's line low
	ownLow    *sync.Mutex
	cancelled bool
}

func (e *loopbackEnd) TxByte(b byte, stopBits int) error {
	e.tx <- b
	return nil
}

func (e *loopbackEnd) RxByte(maxWait time.Duration) (byte, timing.Outcome) {
	if maxWait <= 0 {
		b := <-e.rx
		return b, timing.OK
	}
	select {
	case b := <-e.rx:
		return b, timing.OK
	case <-time.After(maxWait):
		return 0, timing.TimedOut
	}
}

// PullLow holds this end's line-low mutex for d, observable by the peer via
// its SensedLow.
func (e *loopbackEnd) PullLow(d time.Duration) {
	e.ownLow.Lock()
	defer e.ownLow.Unlock()
	time.Sleep(d)
}

// SensedLow reports whether the peer currently holds its line low (a
// best-effort, non-blocking check: TryLock succeeding means it is NOT held).
func (e *loopbackEnd) SensedLow() bool {
	if e.peerLow.TryLock() {
		e.peerLow.Unlock()
		return false
	}
	return true
}

func (e *loopbackEnd) Cancelled() bool    { return e.cancelled }
func (e *loopbackEnd) ClockPresent() bool { return true }

// Cancel raises the cooperative cancellation flag for this end.
func (e *loopbackEnd) Cancel() { e.cancelled = true }

var _ link.Transport = (*loopbackEnd)(nil)

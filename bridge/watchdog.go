package bridge

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/usbarmory/defender/link"
	"github.com/usbarmory/defender/timing"
)

// WatchdogPeriod is the expected maximum idle a long-running wait may run
// for before the hardware watchdog must be stroked again (§4.5 "Watchdog",
// "≈ 4 s").
const WatchdogPeriod = 4 * time.Second

// heartbeatPeriod is the maximum gap between 0x60 procedure bytes sent to
// the terminal during a user-interface wait, so its work-waiting-time
// contract is not violated (§5 "Blocking caveat", "≤ 100 ms").
const heartbeatPeriod = 100 * time.Millisecond

// Watchdog strokes a hardware watchdog timer at a rate bounded below
// WatchdogPeriod, using golang.org/x/time/rate the way a leaky-bucket
// limiter paces any periodic hardware poke: Poke is a no-op, not a
// blocking call, if invoked more often than necessary.
type Watchdog struct {
	limiter *rate.Limiter
	stroke  func()
}

// NewWatchdog wraps stroke (the hardware-specific watchdog-kick function)
// with a rate limiter allowing at most one stroke per period/2, so jitter
// in the caller's poll loop never lets two periods elapse unstroked.
func NewWatchdog(stroke func(), period time.Duration) *Watchdog {
	return &Watchdog{
		limiter: rate.NewLimiter(rate.Every(period/2), 1),
		stroke:  stroke,
	}
}

// Poke strokes the watchdog if the rate limiter allows it; cheap enough to
// call from every iteration of a polling loop.
func (w *Watchdog) Poke() {
	if w.limiter.Allow() {
		w.stroke()
	}
}

// heartbeat sends 0x60 procedure bytes to the terminal every heartbeatPeriod
// until stop is closed, poking the watchdog on each tick (the limiter lets
// at most one stroke through per half watchdog period).
// Spawned by any mode that blocks on a user decision (§4.5 M2, §5 "Blocking
// caveat").
func heartbeat(ep *timing.Endpoint, t link.Transport, wd *Watchdog, stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if wd != nil {
				wd.Poke()
			}
			link.SendByteNoParity(ep, t, 0x60)
		}
	}
}

// NXP i.MX6UL General Purpose Timer driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package hw

import (
	"time"

	"github.com/usbarmory/defender/timing"
)

// GPT1 register block (p3333, Chapter 55, IMX6ULLRM), used here purely as a
// free-running counter: CLK_SRC selects ipg_clk (66MHz on this board), the
// timer is never stopped, and GPT_CNT is read directly rather than driven
// through an interrupt, matching the teacher's own preference (arm/timer.go,
// imx6/timer.go) for reading a monotonic counter register directly instead
// of servicing a periodic tick.
const (
	gpt1Base uint32 = 0x02098000

	gptCR  = gpt1Base + 0x00
	gptPR  = gpt1Base + 0x04
	gptCNT = gpt1Base + 0x24

	gptCR_EN      = 0
	gptCR_CLKSRC  = 6
	gptCR_FRR     = 9
	gptCR_SWR     = 15

	ipgClockHz = 66000000
)

var initialized bool

// InitFreeRunningCounter configures GPT1 as a free-running, non-resetting
// counter clocked by ipg_clk, the MMIO equivalent of the teacher's
// initGenericTimers (imx6/timer.go) for a SoC timer block this project does
// not need CP15 system-register access to read.
func InitFreeRunningCounter() {
	Set(gptCR, gptCR_SWR)
	Wait(gptCR, gptCR_SWR, 0b1, 0)

	Write(gptPR, 0)
	SetN(gptCR, gptCR_CLKSRC, 0b111, 0b001) // ipg_clk
	Set(gptCR, gptCR_FRR)                   // free-running, do not reset on compare
	Set(gptCR, gptCR_EN)

	initialized = true
}

// ticks returns the raw GPT1 counter value.
func ticks() uint32 {
	return Read(gptCNT)
}

// Now returns a monotonic nanosecond timestamp derived from the free-running
// counter, analogous to the teacher's nanotime1 (arm/timer.go) but exported
// for use outside the runtime package, since this project has no need to
// override runtime.nanotime1 itself.
func Now() time.Duration {
	return time.Duration(int64(ticks()) * int64(time.Second) / ipgClockHz)
}

// BusyWait blocks for d by polling the free-running counter, used for the
// sub-millisecond ETU waits time.Sleep's scheduler-driven granularity cannot
// reliably hit on bare metal (§4.1, §4.2 guard-time arithmetic).
func BusyWait(d time.Duration) {
	if !initialized {
		InitFreeRunningCounter()
	}
	deadline := Now() + d
	for Now() < deadline {
	}
}

// Clock adapts the free-running counter to timing.Clock for one ISO 7816
// side, at a measured or nominal card/terminal clock frequency.
type Clock struct {
	hz int
}

// NewClock returns a Clock for a side running at hz Hertz (§4.1 "1 / ETU =
// f_c / 372" at the default divider).
func NewClock(hz int) *Clock { return &Clock{hz: hz} }

func (c *Clock) ETUDuration() time.Duration {
	return timing.CardETU(c.hz)
}

var _ timing.Clock = (*Clock)(nil)

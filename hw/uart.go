// NXP i.MX6UL UART driver, configured for ISO/IEC 7816-3 T=0 character
// framing (1 start + 8 data LSB-first + 1 even parity + 2 stop bits)
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

	"github.com/usbarmory/defender/link"
	"github.com/usbarmory/defender/timing"
)

// Register offsets (p3866, Chapter 64, IMX6ULLRM), grounded verbatim on the
// teacher's imx6/uart.go layout.
const (
	uURXD = 0x0000
	uUTXD = 0x0040
	uUCR1 = 0x0080
	uUCR2 = 0x0084
	uUCR3 = 0x0088
	uUCR4 = 0x008c
	uUFCR = 0x0090
	uUBIR = 0x00a4
	uUBMR = 0x00a8
	uUTS  = 0x00b4

	urxdRxData = 0
	urxdPrerr  = 10

	ucr1Uarten = 0

	ucr2Srst  = 0
	ucr2Rxen  = 1
	ucr2Txen  = 2
	ucr2Ws    = 5
	ucr2Stpb  = 6
	ucr2Proe  = 7
	ucr2Pren  = 8
	ucr2Irts  = 14

	ucr3Invt = 1

	ufcrRfdiv = 7

	utsTxEmpty = 6
	utsRxEmpty = 5
)

// UART drives one ISO 7816 wire (card side or terminal side) over an i.MX6UL
// UART peripheral plus a companion GPIO pin used to force the line low
// outside of normal transmission (the NACK pull-down, §4.2, and a cold/warm
// reset's I-O-low phase, §4.3 — both outside what the UART's own TX/RX
// framing can drive).
type UART struct {
	base uint32
	io   *Pin // drives/senses the line directly, bypassing the UART, for NACK/reset
	clk  *Pin // clock-detect comparator input for this side
	rst  *Pin // externally driven RST-detect input, nil on the card side

	cancelled bool
}

// NewUART wires a UART peripheral at base to the GPIO pins used for direct
// line control, clock detection, and (terminal side only) external RST
// sensing, and configures it per ISO 7816 framing. rst is nil on the card
// side: the Defender drives the card's own RST line itself, via
// CardControl, rather than sensing one driven by something else.
func NewUART(base uint32, io, clk, rst *Pin, baud int, invert bool) *UART {
	u := &UART{base: base, io: io, clk: clk, rst: rst}
	if rst != nil {
		rst.In()
	}
	u.setup(baud, invert)
	return u
}

func (u *UART) reg(offset uint32) uint32 { return u.base + offset }

// setup configures 8 data bits, even parity, 2 stop bits, at baud — the
// character shape an ISO 7816 T=0 byte needs, generalized from the teacher's
// fixed 8N1 console setup (imx6/uart.go's Setup) by additionally enabling
// UCR2_PREN/UCR2_PROE (even parity) and UCR2_STPB (2 stop bits), and setting
// UCR3_INVT when this side uses Inverse convention (§4.2): the i.MX6 UART's
// own invert-transmission bit is what makes bit-banging Inverse convention
// unnecessary.
func (u *UART) setup(baud int, invert bool) {
	Write(u.reg(uUCR1), 0)
	Write(u.reg(uUCR2), 0)
	Wait(u.reg(uUCR2), ucr2Srst, 0b1, 1)

	ucr3 := uint32(0)
	if invert {
		ucr3 |= 1 << ucr3Invt
	}
	Write(u.reg(uUCR3), ucr3)

	SetN(u.reg(uUFCR), ufcrRfdiv, 0b111, 0b100)
	Write(u.reg(uUBIR), 0xf)
	Write(u.reg(uUBMR), uint32(ipgClockHz/(2*baud)))

	ucr2 := uint32(1<<ucr2Ws | 1<<ucr2Irts | 1<<ucr2Rxen | 1<<ucr2Txen |
		1<<ucr2Pren | 1<<ucr2Proe | 1<<ucr2Stpb | 1<<ucr2Srst)
	Write(u.reg(uUCR2), ucr2)
	Write(u.reg(uUCR1), 1<<ucr1Uarten)
}

func (u *UART) txEmpty() bool { return Get(u.reg(uUTS), utsTxEmpty, 0b1) == 1 }
func (u *UART) rxEmpty() bool { return Get(u.reg(uUTS), utsRxEmpty, 0b1) == 1 }

// TxByte writes one character and busy-waits for the FIFO to drain. The
// stopBits argument is not applied: the guard time after the character is
// the UART's own 2-stop-bit framing, and no extra TC1 idle time is added.
func (u *UART) TxByte(b byte, stopBits int) error {
	Write(u.reg(uUTXD), uint32(b))
	for !u.txEmpty() {
	}
	return nil
}

// RxByte polls the RX FIFO until a character arrives or maxWait elapses (0
// means wait indefinitely, matching §4.1's "0 means wait indefinitely"
// rule), returning BadFrame on a parity error rather than discarding it
// silently, so the character layer's NACK logic can act on it.
func (u *UART) RxByte(maxWait time.Duration) (byte, timing.Outcome) {
	var deadline time.Duration
	var bounded bool
	if maxWait > 0 {
		deadline = Now() + maxWait
		bounded = true
	}

	for u.rxEmpty() {
		if bounded && Now() >= deadline {
			return 0, timing.TimedOut
		}
	}

	v := Read(u.reg(uURXD))
	if Get(v, urxdPrerr, 0b1) == 1 {
		return 0, timing.BadFrame
	}
	return byte(Get(v, urxdRxData, 0xff)), timing.OK
}

// PullLow drives the line low directly for d, the receiver's NACK signal
// (§4.2) or a reset phase (§4.3); the UART's own TX path cannot hold the
// line low outside a framed character, hence the companion GPIO.
func (u *UART) PullLow(d time.Duration) {
	u.io.Out()
	u.io.Low()
	BusyWait(d)
	u.io.In()
}

// SensedLow reports whether the line is currently held low by the other
// side, sampled through the same companion GPIO configured as input.
func (u *UART) SensedLow() bool {
	return !u.io.Value()
}

// Cancelled reports whether the externally driven RST line has fallen low
// (reset asserted, the same active level CardControl.RSTLow drives for the
// card side's own RST), latching true once seen so a single sampled edge is
// never missed between polls. There is no GIC/assembly support in this
// build to register a genuine falling-edge ISR (CPU.EnableInterrupts needs
// an irq.s this pack doesn't carry — the same gap hw/timer.go's doc comment
// notes for the ARM generic timer), so the terminal-RST flag the session's
// wait boundary needs is produced by sampling the line on every Cancelled
// call instead of from an interrupt handler; link.charlayer's retry loops
// already call Cancelled at each wait boundary, so this observes a falling
// edge within one ETU of it happening. The card side has no RST-detect pin
// (rst is nil) and always reports false.
func (u *UART) Cancelled() bool {
	if u.rst == nil {
		return false
	}
	if !u.rst.Value() {
		u.cancelled = true
	}
	return u.cancelled
}

// ClockPresent reports whether this side's card/terminal clock is present,
// queried from the companion GPIO wired to the clock-detect comparator.
func (u *UART) ClockPresent() bool {
	return u.clk.Value()
}

var _ link.Transport = (*UART)(nil)

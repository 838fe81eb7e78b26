// Defender board support
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

// Package hw provides hardware initialization, automatically on import, for
// the Defender's fixed i.MX6UL-class board: two ISO 7816 UARTs (card side,
// terminal side), their GPIO control lines, and a free-running timer.
// Generalizes board/f-secure/usbarmory/mark-two/usbarmory.go's
// go:linkname runtime.hwinit pattern from "one SoC, one console UART" to
// "one SoC, two ISO 7816 wires."
package hw

import (
	_ "unsafe"
)

// UART base addresses (p3866, Chapter 64, IMX6ULLRM): the card wire uses
// UART3, the terminal wire UART4, leaving UART1/UART2 free for a debug
// console, matching the teacher's own habit of reserving one UART for
// console output (board/f-secure/usbarmory/mark-two/usbarmory.go's
// imx6.UART2.Init()).
const (
	uart3Base uint32 = 0x021ec000
	uart4Base uint32 = 0x021f0000
)

// GPIO1 data/direction register pair (p1689, Chapter 28, IMX6ULLRM), used
// for every control-line Pin this board needs.
const (
	gpio1DR   uint32 = 0x0209c000
	gpio1GDIR uint32 = 0x0209c004
)

// Pin assignments, one GPIO1 line per signal.
const (
	pinCardVCC = iota
	pinCardIO
	pinCardCLKEnable
	pinCardRST
	pinCardClockDetect
	pinTerminalIO
	pinTerminalClockDetect
	pinTerminalRST
)

var (
	// CardUART is the card-facing link.Transport.
	CardUART *UART
	// TerminalUART is the terminal-facing link.Transport.
	TerminalUART *UART
	// Card drives the card's VCC/I-O/CLK/RST reset sequencing.
	Card *CardControl
)

func mustPin(num int) *Pin {
	p, err := NewPin(num, gpio1DR, gpio1GDIR)
	if err != nil {
		panic(err)
	}
	return p
}

// watchdogTimeoutMS is comfortably above bridge.WatchdogPeriod (NewWatchdog's
// limiter allows one stroke per half of that period): a single missed poll never
// trips it, but a bridge genuinely wedged for multiple periods still resets.
const watchdogTimeoutMS = 16000

// Init performs early board bring-up: the free-running counter (needed by
// every ETU wait before anything else runs), then the hardware watchdog,
// both UARTs, and the card reset control lines.
//
//go:linkname Init runtime.hwinit
func Init() {
	InitFreeRunningCounter()
	EnableWatchdog(watchdogTimeoutMS)

	cardVCC := mustPin(pinCardVCC)
	cardIO := mustPin(pinCardIO)
	cardCLK := mustPin(pinCardCLKEnable)
	cardRST := mustPin(pinCardRST)
	cardClockDetect := mustPin(pinCardClockDetect)
	terminalIO := mustPin(pinTerminalIO)
	terminalClockDetect := mustPin(pinTerminalClockDetect)
	terminalRST := mustPin(pinTerminalRST)

	const defaultBaud = 9600 // 372 cycles/ETU at the nominal 3.5712MHz card clock

	CardUART = NewUART(uart3Base, cardIO, cardClockDetect, nil, defaultBaud, false)
	TerminalUART = NewUART(uart4Base, terminalIO, terminalClockDetect, terminalRST, defaultBaud, false)
	Card = NewCardControl(cardVCC, cardIO, cardCLK, cardRST)
}

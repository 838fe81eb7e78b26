// NXP i.MX6UL Watchdog Timer driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package hw

// WDOG1 register block (p4077, Chapter 59, IMX6ULLRM), generalized from the
// teacher's soc/nxp/wdog/wdog.go driver down to the one module (WDOG1) and
// one timeout this board uses: the bridge's own periodic stroke, not a
// TrustZone watchdog or interrupt-driven timeout.
const (
	wdog1Base uint32 = 0x020bc000

	wdogWCR = wdog1Base + 0x00
	wdogWSR = wdog1Base + 0x02

	wcrWT  = 8
	wcrWDE = 2
)

// WDOG service sequence (p4081, 59.5.2 "Servicing"): writing these two
// values in order to WSR resets the timeout counter without changing WCR.
const (
	wdogServiceSeq1 = 0x5555
	wdogServiceSeq2 = 0xaaaa
)

// EnableWatchdog arms WDOG1 with a timeout of timeoutMS milliseconds (500ms
// resolution, 128000ms maximum, per WCR_WT's field width) and enables it;
// once enabled a watchdog timeout cannot be disabled again, only serviced or
// allowed to expire (§4.5 "Watchdog").
func EnableWatchdog(timeoutMS int) {
	SetN(wdogWCR, wcrWT, 0xff, uint32(timeoutMS/500-1))
	Set(wdogWCR, wcrWDE)
}

// StrokeWatchdog services WDOG1, preventing its timeout from expiring. This
// is the stroke function bridge.NewWatchdog wraps in a rate limiter.
func StrokeWatchdog() {
	Write(wdogWSR, wdogServiceSeq1)
	Write(wdogWSR, wdogServiceSeq2)
}

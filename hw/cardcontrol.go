// NXP i.MX6UL GPIO-driven ISO 7816 reset sequencing
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package hw

import "github.com/usbarmory/defender/iso7816"

// CardControl drives the card side's electrical signals (§4.3 "Cold
// reset") through four dedicated GPIO pins, independent of the UART used
// for byte framing: VCC, the I-O line's direct drive/release state, CLK
// enable, and RST. Generalizes the teacher's board/f-secure/usbarmory/
// mark-two/usbarmory.go pattern of one struct per board owning a fixed set
// of named Pin fields, here scoped to the four reset-sequence signals
// instead of the whole board.
type CardControl struct {
	vcc *Pin
	io  *Pin
	clk *Pin
	rst *Pin
}

// NewCardControl wires the four GPIO pins that drive a cold/warm reset.
func NewCardControl(vcc, io, clk, rst *Pin) *CardControl {
	return &CardControl{vcc: vcc, io: io, clk: clk, rst: rst}
}

func (c *CardControl) VCCLow()  { c.vcc.Out(); c.vcc.Low() }
func (c *CardControl) VCCHigh() { c.vcc.Out(); c.vcc.High() }

func (c *CardControl) IOLow()     { c.io.Out(); c.io.Low() }
func (c *CardControl) ReleaseIO() { c.io.In() }

func (c *CardControl) CLKLow()     { c.clk.Out(); c.clk.Low() }
func (c *CardControl) ReleaseCLK() { c.clk.In() }
func (c *CardControl) StartClock() { c.clk.Out(); c.clk.High() }

func (c *CardControl) RSTLow()  { c.rst.Out(); c.rst.Low() }
func (c *CardControl) RSTHigh() { c.rst.Out(); c.rst.High() }

var _ iso7816.CardControl = (*CardControl)(nil)

// NXP i.MX6UL GPIO driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package hw

import "fmt"

// GPIO constants (p1689, Chapter 28, IMX6ULLRM).
const (
	gpioStart = 0x0209c000
	gpioEnd   = 0x020affff
)

// Pin drives a single GPIO-muxed signal: one of the card or terminal side's
// VCC, RST, CLK or I/O control lines.
type Pin struct {
	num  int
	data uint32
	dir  uint32
}

// NewPin wires a GPIO number to its data/direction register pair.
func NewPin(num int, data, dir uint32) (*Pin, error) {
	if num > 31 {
		return nil, fmt.Errorf("hw: invalid GPIO number %d", num)
	}

	for _, r := range []uint32{data, dir} {
		if r < gpioStart || r > gpioEnd {
			return nil, fmt.Errorf("hw: invalid GPIO register %#x", r)
		}
	}

	return &Pin{num: num, data: data, dir: dir}, nil
}

// Out configures the pin as output.
func (p *Pin) Out() {
	Set(p.dir, p.num)
}

// In configures the pin as input.
func (p *Pin) In() {
	Clear(p.dir, p.num)
}

// High drives the pin high.
func (p *Pin) High() {
	Set(p.data, p.num)
}

// Low drives the pin low.
func (p *Pin) Low() {
	Clear(p.data, p.num)
}

// Value reads the pin's current level, valid whether configured In or Out.
func (p *Pin) Value() bool {
	return Get(p.data, p.num, 0b1) == 1
}

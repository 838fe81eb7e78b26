// NXP i.MX6UL register access
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

// Package hw provides the register-level drivers for the two ISO 7816
// character wires (card side and terminal side) and their supporting GPIO
// and timer peripherals on the i.MX6UL SoC used by the Defender board.
//
// The teacher tree (tamago) carried two historical, mutually inconsistent
// register-access conventions (one keyed by *uint32, one by uint32 address).
// This package keeps only the uint32-address convention, matching the
// notes in spec.md §9 ("the newer variants ... are the canonical
// semantics").
package hw

import (
	"sync"
	"unsafe"
)

var regMutex sync.Mutex

// Read returns the 32-bit value at addr.
func Read(addr uint32) uint32 {
	reg := (*uint32)(unsafe.Pointer(uintptr(addr)))

	regMutex.Lock()
	defer regMutex.Unlock()

	return *reg
}

// Write stores val at addr.
func Write(addr uint32, val uint32) {
	reg := (*uint32)(unsafe.Pointer(uintptr(addr)))

	regMutex.Lock()
	defer regMutex.Unlock()

	*reg = val
}

// Get returns the value at addr, shifted by pos and masked.
func Get(addr uint32, pos int, mask int) uint32 {
	return uint32((int(Read(addr)) >> pos) & mask)
}

// Set sets an individual bit at addr.
func Set(addr uint32, pos int) {
	regMutex.Lock()
	reg := (*uint32)(unsafe.Pointer(uintptr(addr)))
	*reg |= (1 << pos)
	regMutex.Unlock()
}

// Clear clears an individual bit at addr.
func Clear(addr uint32, pos int) {
	regMutex.Lock()
	reg := (*uint32)(unsafe.Pointer(uintptr(addr)))
	*reg &= ^(uint32(1) << pos)
	regMutex.Unlock()
}

// SetN sets a masked value at a bit position within addr.
func SetN(addr uint32, pos int, mask int, val uint32) {
	regMutex.Lock()
	reg := (*uint32)(unsafe.Pointer(uintptr(addr)))
	*reg = (*reg & (^(uint32(mask) << pos))) | (val << pos)
	regMutex.Unlock()
}

// Wait blocks until the register bits at pos/mask equal val. Used only for
// short hardware handshakes (FIFO flags); anything bounded by ISO 7816
// timing must use the timing package's ETU waits instead, never a bare
// register spin, so that a dead wire surfaces TimedOut rather than hanging
// the foreground loop.
func Wait(addr uint32, pos int, mask int, val uint32) {
	for Get(addr, pos, mask) != val {
	}
}

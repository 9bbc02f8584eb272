// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// Package chipinfo keeps the small known-RAM-range table the RTT CLI
// uses to build a default RTT scan region for PollLoop (§SUPPLEMENTED
// FEATURES 7). This is not a chip database: no flash algorithms, no
// register maps, just enough to bound a RAM scan.
package chipinfo

// RAMRange names the scannable RAM window for a chip family.
type RAMRange struct {
	Start uint32
	Size  uint32
}

// DefaultRAMStart is used when the chip name is unknown; most Cortex-M
// parts map SRAM at this address.
const DefaultRAMStart = 0x20000000

var knownChips = map[string]RAMRange{
	"STM32F030F4": {0x20000000, 0x1000},
	"STM32F030K6": {0x20000000, 0x1000},
	"STM32F030C6": {0x20000000, 0x1000},
	"STM32F030C8": {0x20000000, 0x2000},
	"STM32F030R8": {0x20000000, 0x2000},
	"STM32F030CC": {0x20000000, 0x8000},
	"STM32F030RC": {0x20000000, 0x8000},
	"STM32F070F6": {0x20000000, 0x2000},
	"STM32F070C6": {0x20000000, 0x2000},
	"STM32F070CB": {0x20000000, 0x4000},
	"STM32F070RB": {0x20000000, 0x4000},
	"STM32F103C8": {0x20000000, 0x5000},
	"STM32F103RB": {0x20000000, 0x5000},
	"STM32F103RC": {0x20000000, 0xc000},
	"STM32F401CC": {0x20000000, 0x10000},
	"STM32F401RE": {0x20000000, 0x18000},
	"STM32F407VE": {0x20000000, 0x20000},
	"STM32F411RE": {0x20000000, 0x20000},
}

// Lookup returns the known RAM range for name and true, or a zero range
// and false when the chip is not in the table.
func Lookup(name string) (RAMRange, bool) {
	r, ok := knownChips[name]
	return r, ok
}

// ScanRegion returns the RAM range to hand PollLoop's RTT attach step,
// falling back to a generic Cortex-M SRAM window when name is unknown.
func ScanRegion(name string) RAMRange {
	if r, ok := Lookup(name); ok {
		return r
	}
	return RAMRange{Start: DefaultRAMStart, Size: 64 * 1024}
}

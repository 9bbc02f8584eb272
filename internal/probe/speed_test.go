// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package probe

import "testing"

func TestMatchSpeedExact(t *testing.T) {
	s, matched := matchSpeed(swdSpeedTable, 1800)
	if !matched || s.khz != 1800 {
		t.Fatalf("matchSpeed(1800) = %+v, matched=%v", s, matched)
	}
}

func TestMatchSpeedNearestBelow(t *testing.T) {
	s, matched := matchSpeed(swdSpeedTable, 1000)
	if !matched || s.khz != 950 {
		t.Fatalf("matchSpeed(1000) = %+v, want nearest-below 950", s)
	}
}

func TestMatchSpeedBelowSlowestFallsBackToSlowest(t *testing.T) {
	s, matched := matchSpeed(swdSpeedTable, 1)
	if matched {
		t.Fatalf("matchSpeed(1) unexpectedly matched: %+v", s)
	}
	if s.khz != 5 {
		t.Fatalf("matchSpeed(1) fallback = %+v, want slowest entry (5 kHz)", s)
	}
}

func TestMatchSpeedJtagTable(t *testing.T) {
	s, matched := matchSpeed(jtagSpeedTable, 1125)
	if !matched || s.khz != 1125 {
		t.Fatalf("matchSpeed(jtag, 1125) = %+v, matched=%v", s, matched)
	}
}

func TestMaxBlockSizeBoundary(t *testing.T) {
	d := &Driver{maxMemPacket: 1 << 10}
	if got := d.MaxBlockSize(0x20000000); got != 1<<10 {
		t.Fatalf("MaxBlockSize(aligned) = %d, want %d", got, 1<<10)
	}
	// One byte into the block: only (1024-1) bytes remain before the boundary.
	if got := d.MaxBlockSize(0x20000001); got != (1<<10)-1 {
		t.Fatalf("MaxBlockSize(unaligned) = %d, want %d", got, (1<<10)-1)
	}
}

func TestEightBitCeilingByHwVersion(t *testing.T) {
	d := &Driver{version: DeriveCapabilities(2, 30)}
	if got := d.EightBitCeiling(); got != 64 {
		t.Fatalf("EightBitCeiling(hw2) = %d, want 64", got)
	}

	d3 := &Driver{version: DeriveCapabilities(3, 6)}
	if got := d3.EightBitCeiling(); got != 255 {
		t.Fatalf("EightBitCeiling(hw3,jtag6) = %d, want 255 (capped below the documented 512)", got)
	}
}

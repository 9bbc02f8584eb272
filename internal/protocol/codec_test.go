// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package protocol

import "testing"

func TestParseVersionDefaultPid(t *testing.T) {
	reply := make([]byte, 6)
	word := uint16(2)<<12 | uint16(26)<<6 | uint16(0)
	reply[0], reply[1] = byte(word>>8), byte(word)
	PutUint16LE(reply[2:4], 0x0483)
	PutUint16LE(reply[4:6], StLinkV2Pid)

	parsed := ParseVersion(reply)
	if parsed.HwVersion != 2 || parsed.JtagVersion != 26 {
		t.Fatalf("ParseVersion = %+v, want hw=2 jtag=26", parsed)
	}
}

func TestParseVersionExt(t *testing.T) {
	reply := make([]byte, 12)
	reply[0], reply[1], reply[2], reply[3], reply[4] = 3, 0, 6, 0, 0
	PutUint16LE(reply[8:10], 0x0483)
	PutUint16LE(reply[10:12], StLinkV3SPid)

	parsed := ParseVersionExt(reply)
	if parsed.HwVersion != 3 || parsed.JtagVersion != 6 {
		t.Fatalf("ParseVersionExt = %+v, want hw=3 jtag=6", parsed)
	}
}

func TestParseVoltage(t *testing.T) {
	reply := make([]byte, 8)
	PutUint32LE(reply[0:4], 1)
	PutUint32LE(reply[4:8], 2)

	v, err := ParseVoltage(reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 4.8 {
		t.Fatalf("ParseVoltage = %v, want 4.8", v)
	}
}

func TestParseVoltageDivByZero(t *testing.T) {
	reply := make([]byte, 8)
	if _, err := ParseVoltage(reply); err == nil {
		t.Fatal("expected error for a0=0")
	}
}

func TestMemoryCommand(t *testing.T) {
	cmd := MemoryCommand(DebugReadMem32Bit, 0x20000000, 8, 0)
	want := [9]byte{JtagCommand, DebugReadMem32Bit, 0x00, 0x00, 0x00, 0x20, 0x08, 0x00, 0x00}
	if cmd != want {
		t.Fatalf("MemoryCommand = % x, want % x", cmd, want)
	}
}

func TestDecodeStatusWaitCodes(t *testing.T) {
	if err := DecodeStatus("op", SwdDpWait); err == nil {
		t.Fatal("expected SwdDpWait to produce an error")
	}
	if err := DecodeStatus("op", SwdApWait); err == nil {
		t.Fatal("expected SwdApWait to produce an error")
	}
	if err := DecodeStatus("op", StatusJtagOk); err != nil {
		t.Fatalf("unexpected error for StatusJtagOk: %v", err)
	}
}

func TestToUint16LEAndBE(t *testing.T) {
	buf := []byte{0x34, 0x12}
	if got := ToUint16(buf, LittleEndian); got != 0x1234 {
		t.Fatalf("ToUint16 LE = %x, want 1234", got)
	}
	if got := ToUint16(buf, BigEndian); got != 0x3412 {
		t.Fatalf("ToUint16 BE = %x, want 3412", got)
	}
}

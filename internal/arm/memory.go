// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package arm

import (
	"github.com/stlinkcore/gostlink/internal/protocol"
)

// MemoryInterfaceView is a transient borrow of an Adapter plus a current
// MemoryAp (§3): it chunks caller buffers against the driver's
// per-transfer ceilings and batches 64-bit accesses as two 32-bit words,
// since ST-Link has no native 64-bit transfer (§6 MemoryInterface).
type MemoryInterfaceView struct {
	adapter *Adapter
	ap      ApAddress
}

func (v *MemoryInterfaceView) SupportsNative64BitAccess() bool { return false }
func (v *MemoryInterfaceView) Supports8BitTransfers() bool     { return true }

// Flush is a no-op: every write already goes out synchronously (§6).
func (v *MemoryInterfaceView) Flush() error { return nil }

func (v *MemoryInterfaceView) apsel() uint8 { return v.ap.Apsel }

// Read32 chunks by min(read ceiling, TAR auto-increment block) (§4.3.6).
func (v *MemoryInterfaceView) Read32(addr uint32, data []byte) error {
	return v.chunked(addr, data, protocol.MaxReadWrite32, v.adapter.driver.ReadMem32)
}

func (v *MemoryInterfaceView) Write32(addr uint32, data []byte) error {
	return v.chunked(addr, data, protocol.MaxWriteMem32V3, v.adapter.driver.WriteMem32)
}

func (v *MemoryInterfaceView) Read16(addr uint32, data []byte) error {
	return v.chunked(addr, data, protocol.MaxReadWrite32, v.adapter.driver.ReadMem16)
}

func (v *MemoryInterfaceView) Write16(addr uint32, data []byte) error {
	return v.chunked(addr, data, protocol.MaxWriteMem32V3, v.adapter.driver.WriteMem16)
}

// Read8 chunks by the hw-dependent 8-bit ceiling (64 or 255 bytes).
func (v *MemoryInterfaceView) Read8(addr uint32, data []byte) error {
	ceiling := v.adapter.driver.EightBitCeiling()
	return v.chunked(addr, data, ceiling, v.adapter.driver.ReadMem8)
}

// Write8 splits an unaligned range into a head of single bytes up to the
// next 4-byte boundary, an aligned body moved as 32-bit words, and a
// tail of single bytes - the same head/body/tail idiom the teacher's
// ReadMem/WriteMem recursion implements for misaligned transfers
// (§4.3.6).
func (v *MemoryInterfaceView) Write8(addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	misalign := addr % 4
	if misalign == 0 || len(data) < int(4-misalign) {
		ceiling := v.adapter.driver.EightBitCeiling()
		return v.chunked(addr, data, ceiling, v.adapter.driver.WriteMem8)
	}

	headLen := int(4 - misalign)
	if err := v.adapter.driver.WriteMem8(addr, data[:headLen], v.apsel()); err != nil {
		return err
	}

	rest := data[headLen:]
	bodyLen := (len(rest) / 4) * 4
	if bodyLen > 0 {
		if err := v.Write32(addr+uint32(headLen), rest[:bodyLen]); err != nil {
			return err
		}
	}

	tail := rest[bodyLen:]
	if len(tail) > 0 {
		if err := v.adapter.driver.WriteMem8(addr+uint32(headLen+bodyLen), tail, v.apsel()); err != nil {
			return err
		}
	}

	return nil
}

// Read64/Write64 batch two 32-bit accesses per word; ST-Link has no
// native 64-bit transfer (§4.3.6, §6 supports_native_64bit_access=false).
func (v *MemoryInterfaceView) Read64(addr uint32, data []byte) error {
	return v.Read32(addr, data)
}

func (v *MemoryInterfaceView) Write64(addr uint32, data []byte) error {
	return v.Write32(addr, data)
}

type transferFn func(addr uint32, chunk []byte, apsel uint8) error

func (v *MemoryInterfaceView) chunked(addr uint32, data []byte, ceiling uint32, fn transferFn) error {
	if len(data) == 0 {
		return nil
	}

	pos := 0
	for pos < len(data) {
		block := v.adapter.driver.MaxBlockSize(addr)
		if block > ceiling {
			block = ceiling
		}
		remaining := uint32(len(data) - pos)
		if block > remaining {
			block = remaining
		}

		if err := fn(addr, data[pos:pos+int(block)], v.apsel()); err != nil {
			return err
		}

		addr += block
		pos += int(block)
	}

	return nil
}

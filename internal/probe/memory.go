// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package probe

import (
	log "github.com/sirupsen/logrus"

	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

// maxMemPacket is the TAR auto-increment block size (§SUPPLEMENTED
// FEATURES 3); it starts at 1KiB and ProbeCPUID raises it to 4KiB when
// it identifies a Cortex-M3/M4 core.
const defaultMaxMemPacket = 1 << 10
const cortexM34MaxMemPacket = 1 << 12

func (d *Driver) init32bitPacketSize() {
	if d.maxMemPacket == 0 {
		d.maxMemPacket = defaultMaxMemPacket
	}
}

// ProbeCPUID reads the Cortex core ID register (after AP0 has been
// opened) to decide between the 1KiB and 4KiB TAR auto-increment window
// (§SUPPLEMENTED FEATURES 3).
func (d *Driver) ProbeCPUID() error {
	d.init32bitPacketSize()

	data := make([]byte, 4)
	if err := d.ReadMem32(protocol.CpuIDBaseRegister, data, 0); err != nil {
		return err
	}

	cpuid := protocol.ToUint32(data, protocol.LittleEndian)
	partno := (cpuid >> 4) & 0xf

	if partno == 3 || partno == 4 {
		log.Debug("cortex M3/M4 detected, using 4KiB TAR auto-increment window")
		d.maxMemPacket = cortexM34MaxMemPacket
	}
	return nil
}

// MaxBlockSize returns the largest chunk that can be transferred
// starting at addr without crossing a TAR auto-increment boundary
// (teacher's maxBlockSize helper, §SUPPLEMENTED FEATURES 3).
func (d *Driver) MaxBlockSize(addr uint32) uint32 {
	d.init32bitPacketSize()

	block := d.maxMemPacket - ((d.maxMemPacket - 1) & addr)
	if block == 0 {
		block = 4
	}
	return block
}

// EightBitCeiling returns the hw-version-dependent 8-bit transfer
// ceiling (§4.3.6 table; the 512B write ceiling is capped at 255B on
// hw>=3 by the §9 open question).
func (d *Driver) EightBitCeiling() uint32 {
	if d.version.Has(protocol.FlagHasRw8Bytes512) {
		return protocol.V3MaxReadWrite8
	}
	return protocol.MaxReadWrite8
}

func checkAlignment(op string, addr uint32, length int, width uint32) error {
	if addr%width != 0 || uint32(length)%width != 0 {
		return errs.UnalignedAddress(op, addr).WithLength(uint32(length))
	}
	return nil
}

func (d *Driver) getLastRWStatus(op string) error {
	cmd := []byte{protocol.CmdDebug, protocol.DebugApiV2GetLastRWStatus2}
	reply := make([]byte, 12)

	if err := d.transport.Write(cmd, nil, reply); err != nil {
		return errs.Wrap(errs.KindUsbIO, op, err)
	}
	return protocol.DecodeStatus(op, reply[0])
}

// ReadMem32 implements §4.3.6 for W=32: empty reads short-circuit,
// alignment is checked before any USB traffic (§8 property 6), and the
// whole select_ap+transfer+status sequence runs under the wait-retry
// policy.
func (d *Driver) ReadMem32(addr uint32, data []byte, apsel uint8) error {
	if len(data) == 0 {
		return nil
	}
	if err := checkAlignment("read_mem_32bit", addr, len(data), uint32(protocol.Width32)); err != nil {
		return err
	}

	return retryOnWait(func() error {
		if err := d.SelectAP(apsel); err != nil {
			return err
		}

		cmd := protocol.MemoryCommand(protocol.DebugReadMem32Bit, addr, uint16(len(data)), apsel)
		if err := d.transport.Write(cmd[:], nil, data); err != nil {
			return errs.Wrap(errs.KindUsbIO, "read_mem_32bit", err).WithAddr(addr).WithLength(uint32(len(data))).WithAp(apsel)
		}

		return d.getLastRWStatus("read_mem_32bit")
	})
}

func (d *Driver) WriteMem32(addr uint32, data []byte, apsel uint8) error {
	if len(data) == 0 {
		return nil
	}
	if err := checkAlignment("write_mem_32bit", addr, len(data), uint32(protocol.Width32)); err != nil {
		return err
	}

	return retryOnWait(func() error {
		if err := d.SelectAP(apsel); err != nil {
			return err
		}

		cmd := protocol.MemoryCommand(protocol.DebugWriteMem32Bit, addr, uint16(len(data)), apsel)
		if err := d.transport.Write(cmd[:], data, nil); err != nil {
			return errs.Wrap(errs.KindUsbIO, "write_mem_32bit", err).WithAddr(addr).WithLength(uint32(len(data))).WithAp(apsel)
		}

		return d.getLastRWStatus("write_mem_32bit")
	})
}

// ReadMem16 falls back to 8-bit transfers on firmware predating J26
// (§SUPPLEMENTED FEATURES 1, FlagHasMem16Bit).
func (d *Driver) ReadMem16(addr uint32, data []byte, apsel uint8) error {
	if len(data) == 0 {
		return nil
	}
	if !d.version.Has(protocol.FlagHasMem16Bit) {
		return d.ReadMem8(addr, data, apsel)
	}
	if err := checkAlignment("read_mem_16bit", addr, len(data), uint32(protocol.Width16)); err != nil {
		return err
	}

	return retryOnWait(func() error {
		if err := d.SelectAP(apsel); err != nil {
			return err
		}

		cmd := protocol.MemoryCommand(protocol.DebugApiV2ReadMem16Bit, addr, uint16(len(data)), apsel)
		if err := d.transport.Write(cmd[:], nil, data); err != nil {
			return errs.Wrap(errs.KindUsbIO, "read_mem_16bit", err).WithAddr(addr).WithLength(uint32(len(data))).WithAp(apsel)
		}

		return d.getLastRWStatus("read_mem_16bit")
	})
}

func (d *Driver) WriteMem16(addr uint32, data []byte, apsel uint8) error {
	if len(data) == 0 {
		return nil
	}
	if !d.version.Has(protocol.FlagHasMem16Bit) {
		return d.WriteMem8(addr, data, apsel)
	}
	if err := checkAlignment("write_mem_16bit", addr, len(data), uint32(protocol.Width16)); err != nil {
		return err
	}

	return retryOnWait(func() error {
		if err := d.SelectAP(apsel); err != nil {
			return err
		}

		cmd := protocol.MemoryCommand(protocol.DebugApiV2WriteMem16Bit, addr, uint16(len(data)), apsel)
		if err := d.transport.Write(cmd[:], data, nil); err != nil {
			return errs.Wrap(errs.KindUsbIO, "write_mem_16bit", err).WithAddr(addr).WithLength(uint32(len(data))).WithAp(apsel)
		}

		return d.getLastRWStatus("write_mem_16bit")
	})
}

// ReadMem8 has no alignment constraint. A length-1 read still allocates
// a 2-byte receive buffer to avoid a USB overflow on the device side,
// truncating the result back to 1 byte on return (§4.3.6).
func (d *Driver) ReadMem8(addr uint32, data []byte, apsel uint8) error {
	if len(data) == 0 {
		return nil
	}

	recvLen := len(data)
	recvBuf := data
	if recvLen == 1 {
		recvBuf = make([]byte, 2)
	}

	err := retryOnWait(func() error {
		if err := d.SelectAP(apsel); err != nil {
			return err
		}

		cmd := protocol.MemoryCommand(protocol.DebugReadMem8Bit, addr, uint16(recvLen), apsel)
		if err := d.transport.Write(cmd[:], nil, recvBuf); err != nil {
			return errs.Wrap(errs.KindUsbIO, "read_mem_8bit", err).WithAddr(addr).WithLength(uint32(recvLen)).WithAp(apsel)
		}

		return d.getLastRWStatus("read_mem_8bit")
	})
	if err != nil {
		return err
	}

	if recvLen == 1 {
		data[0] = recvBuf[0]
	}
	return nil
}

func (d *Driver) WriteMem8(addr uint32, data []byte, apsel uint8) error {
	if len(data) == 0 {
		return nil
	}

	return retryOnWait(func() error {
		if err := d.SelectAP(apsel); err != nil {
			return err
		}

		cmd := protocol.MemoryCommand(protocol.DebugWriteMem8Bit, addr, uint16(len(data)), apsel)
		if err := d.transport.Write(cmd[:], data, nil); err != nil {
			return errs.Wrap(errs.KindUsbIO, "write_mem_8bit", err).WithAddr(addr).WithLength(uint32(len(data))).WithAp(apsel)
		}

		return d.getLastRWStatus("write_mem_8bit")
	})
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package probe

import (
	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

// ReadRegister implements §4.3.5: command [JTAG_COMMAND,
// JTAG_READ_DAP_REG, port_le(2), addr, 0]; the 4-byte value sits at
// offset 4 of the 8-byte reply. Port DpPort (0xFFFF) addresses the DP;
// any other value is a v1 AP selector.
func (d *Driver) ReadRegister(port uint16, addr uint8) (uint32, error) {
	if !d.version.Has(protocol.FlagHasDapReg) {
		return 0, errs.CommandNotSupported("read_register")
	}

	cmd := make([]byte, 6)
	cmd[0] = protocol.CmdDebug
	cmd[1] = protocol.DebugApiV2ReadDapReg
	protocol.PutUint16LE(cmd[2:4], port)
	cmd[4] = addr
	cmd[5] = 0

	reply := make([]byte, 8)
	var value uint32

	err := retryOnWait(func() error {
		if err := d.transport.Write(cmd, nil, reply); err != nil {
			return errs.Wrap(errs.KindUsbIO, "read_register", err)
		}
		if err := protocol.DecodeStatus("read_register", reply[0]); err != nil {
			return err
		}
		value = protocol.ToUint32(reply[4:8], protocol.LittleEndian)
		return nil
	})

	return value, err
}

// WriteRegister implements §4.3.5: command [JTAG_COMMAND,
// JTAG_WRITE_DAP_REG, port_le(2), addr, 0, value_le(4)]; 2-byte status
// reply.
func (d *Driver) WriteRegister(port uint16, addr uint8, value uint32) error {
	if !d.version.Has(protocol.FlagHasDapReg) {
		return errs.CommandNotSupported("write_register")
	}

	cmd := make([]byte, 10)
	cmd[0] = protocol.CmdDebug
	cmd[1] = protocol.DebugApiV2WriteDapReg
	protocol.PutUint16LE(cmd[2:4], port)
	cmd[4] = addr
	cmd[5] = 0
	protocol.PutUint32LE(cmd[6:10], value)

	reply := make([]byte, 2)

	return retryOnWait(func() error {
		if err := d.transport.Write(cmd, nil, reply); err != nil {
			return errs.Wrap(errs.KindUsbIO, "write_register", err)
		}
		return protocol.DecodeStatus("write_register", reply[0])
	})
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package probe

import (
	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

// GetTargetVoltage implements the voltage parse of §4.2 / §8 property 8
// / scenario S2.
func (d *Driver) GetTargetVoltage() (float32, error) {
	if !d.version.Has(protocol.FlagHasTargetVolt) {
		return 0, errs.CommandNotSupported("get_target_voltage")
	}

	cmd := []byte{protocol.CmdGetTargetVoltage}
	reply := make([]byte, 8)

	if err := d.transport.Write(cmd, nil, reply); err != nil {
		return 0, errs.Wrap(errs.KindUsbIO, "get_target_voltage", err)
	}

	return protocol.ParseVoltage(reply)
}

// GetIDCode reads the core ID code; v1 uses the single-shot
// DebugReadCoreID, v2/v3 the richer DebugApiV2ReadIDCodes reply.
func (d *Driver) GetIDCode() (uint32, error) {
	var cmd []byte
	var reply []byte
	var offset int

	if d.version.JtagAPI == protocol.ApiV1 {
		cmd = []byte{protocol.CmdDebug, protocol.DebugReadCoreID}
		reply = make([]byte, 4)
		offset = 0
	} else {
		cmd = []byte{protocol.CmdDebug, protocol.DebugApiV2ReadIDCodes}
		reply = make([]byte, 12)
		offset = 4
	}

	if err := d.transport.Write(cmd, nil, reply); err != nil {
		return 0, errs.Wrap(errs.KindUsbIO, "get_idcode", err)
	}

	if d.version.JtagAPI != protocol.ApiV1 {
		if err := protocol.DecodeStatus("get_idcode", reply[0]); err != nil {
			return 0, err
		}
	}

	return protocol.ToUint32(reply[offset:offset+4], protocol.LittleEndian), nil
}

// Reset issues a device-level USB reset via the underlying transport.
func (d *Driver) Reset() error {
	return d.transport.Reset()
}

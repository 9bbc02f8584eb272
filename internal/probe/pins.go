// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package probe

import (
	"time"

	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

// NRSTPinMask is the only pin_select value SwjPins accepts (§4.3.9).
const NRSTPinMask = 0x01

// SwjPins implements §4.3.9: only the nRESET selection is supported.
// Drives nRESET from pinOut, sleeps pinWait on the host, and returns
// 0xFFFFFFFF (pin state unknown to this probe).
func (d *Driver) SwjPins(pinSelect uint32, pinOut uint32, pinWait time.Duration) (uint32, error) {
	if pinSelect != NRSTPinMask {
		return 0, errs.CommandNotSupported("swj_pins")
	}

	srst := byte(0)
	if pinOut&NRSTPinMask != 0 {
		srst = 1
	}

	if err := d.driveNrst(srst); err != nil {
		return 0, err
	}

	if pinWait > 0 {
		sleeper(pinWait)
	}

	return 0xFFFFFFFF, nil
}

func (d *Driver) driveNrst(srst byte) error {
	if d.version.HwVersion == 1 {
		return errs.CommandNotSupported("drive_nrst (st-link v1)")
	}

	cmd := []byte{protocol.CmdDebug, protocol.DebugApiV2DriveNrst, srst}
	reply := make([]byte, 2)

	return retryOnWait(func() error {
		if err := d.transport.Write(cmd, nil, reply); err != nil {
			return errs.Wrap(errs.KindUsbIO, "assert_srst", err)
		}
		return protocol.DecodeStatus("assert_srst", reply[0])
	})
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package probe

import (
	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

// EnterIdle queries the probe's current mode, then issues the correct
// *_EXIT for Jtag/Dfu/Swim and no-ops otherwise (§4.3.2).
func (d *Driver) EnterIdle() error {
	mode, err := d.currentMode()
	if err != nil {
		return errs.Wrap(errs.KindUsbIO, "enter_idle", err)
	}

	var cmd []byte

	switch mode {
	case protocol.ModeDebugJtag, protocol.ModeDebugSwd:
		cmd = []byte{protocol.CmdDebug, protocol.DebugExit}
	case protocol.ModeDebugSwim:
		cmd = []byte{protocol.CmdSwim, protocol.SwimExit}
	case protocol.ModeDfu:
		cmd = []byte{protocol.CmdDfu, protocol.DfuExit}
	default:
		return nil
	}

	if err := d.transport.Write(cmd, nil, nil); err != nil {
		return errs.Wrap(errs.KindUsbIO, "enter_idle", err)
	}

	d.mode = protocol.ModeUnknown
	return nil
}

// Attach enters idle, issues JTAG_ENTER2 with the requested wire
// protocol, then re-applies the cached speed so the first call after
// select_protocol actually programs the hardware (§4.3.2).
func (d *Driver) Attach(mode protocol.StLinkMode) error {
	if err := d.EnterIdle(); err != nil {
		return err
	}

	var subCmd byte
	switch mode {
	case protocol.ModeDebugJtag:
		subCmd = protocol.DebugEnterJtagNoReset
	case protocol.ModeDebugSwd:
		subCmd = protocol.DebugEnterSwdNoReset
	default:
		return errs.New(errs.KindUnknownMode, "attach")
	}

	enter := protocol.DebugApiV2Enter
	if d.version.JtagAPI == protocol.ApiV1 {
		enter = protocol.DebugApiV1Enter
	}

	cmd := []byte{protocol.CmdDebug, byte(enter), subCmd}
	reply := make([]byte, 2)

	if err := retryOnWait(func() error {
		if err := d.transport.Write(cmd, nil, reply); err != nil {
			return errs.Wrap(errs.KindUsbIO, "attach", err)
		}
		return protocol.DecodeStatus("attach", reply[0])
	}); err != nil {
		return err
	}

	d.mode = mode

	var khz uint32
	if mode == protocol.ModeDebugJtag {
		khz = d.jtagKHz
	} else {
		khz = d.swdKHz
	}
	if khz != 0 {
		if _, err := d.SetSpeed(mode, khz, false); err != nil {
			return err
		}
	}

	return nil
}

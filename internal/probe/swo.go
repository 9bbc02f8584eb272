// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package probe

import (
	"time"

	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

// SwoConfig describes the trace configuration a caller passes to
// StartTraceReception (§SUPPLEMENTED FEATURES 5). Only UART mode is
// implemented by this probe; Manchester is rejected.
type SwoConfig struct {
	Protocol    protocol.TpuiPinProtocolType
	BaudHz      uint32
}

// StartTraceReception implements §4.3.8: command with a 2-byte buffer
// size (fixed at TraceSize) and 4-byte baud, both little-endian.
func (d *Driver) StartTraceReception(cfg SwoConfig) error {
	if cfg.Protocol != protocol.TpuiPinProtocolAsyncUart {
		return errs.New(errs.KindManchesterNotSupported, "enable_swo")
	}
	if !d.version.Has(protocol.FlagHasTrace) {
		return errs.CommandNotSupported("enable_swo")
	}

	cmd := make([]byte, 8)
	cmd[0] = protocol.CmdDebug
	cmd[1] = protocol.DebugApiV2StartTraceRx
	protocol.PutUint16LE(cmd[2:4], protocol.TraceSize)
	protocol.PutUint32LE(cmd[4:8], cfg.BaudHz)

	reply := make([]byte, 2)
	if err := d.transport.Write(cmd, nil, reply); err != nil {
		return errs.Wrap(errs.KindUsbIO, "enable_swo", err)
	}
	if err := protocol.DecodeStatus("enable_swo", reply[0]); err != nil {
		return err
	}

	d.swoEnabled = true
	d.swoSourceHz = cfg.BaudHz
	return nil
}

// StopTraceReception clears swo_enabled (§4.3.8).
func (d *Driver) StopTraceReception() error {
	if !d.version.Has(protocol.FlagHasTrace) {
		return errs.CommandNotSupported("disable_swo")
	}

	cmd := []byte{protocol.CmdDebug, protocol.DebugApiV2StopTraceRx}
	reply := make([]byte, 2)

	if err := d.transport.Write(cmd, nil, reply); err != nil {
		return errs.Wrap(errs.KindUsbIO, "disable_swo", err)
	}
	if err := protocol.DecodeStatus("disable_swo", reply[0]); err != nil {
		return err
	}

	d.swoEnabled = false
	return nil
}

// availableTraceBytes polls STLINK_DEBUG_APIV2_GET_TRACE_NB; the result
// must be consulted before every read_swo_data call or the device
// returns nothing (§4.3.8).
func (d *Driver) availableTraceBytes() (uint16, error) {
	cmd := []byte{protocol.CmdDebug, protocol.DebugApiV2GetTraceNB}
	reply := make([]byte, 2)

	if err := d.transport.Write(cmd, nil, reply); err != nil {
		return 0, errs.Wrap(errs.KindUsbIO, "read_swo_data", err)
	}
	return protocol.ToUint16(reply, protocol.LittleEndian), nil
}

// ReadSwoData implements §4.3.8: poll available bytes, allocate exactly
// that many, then read from the dedicated SWO endpoint.
func (d *Driver) ReadSwoData(timeout time.Duration) ([]byte, error) {
	if !d.swoEnabled {
		return nil, errs.New(errs.KindCommandFailed, "read_swo_data")
	}

	available, err := d.availableTraceBytes()
	if err != nil {
		return nil, err
	}
	if available == 0 {
		return nil, nil
	}

	buf := make([]byte, available)
	n, err := d.transport.ReadSWO(buf, timeout)
	if err != nil {
		return nil, errs.Wrap(errs.KindUsbIO, "read_swo_data", err)
	}
	return buf[:n], nil
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see
//
// https://sourceforge.net/p/openocd/code

// Package probe implements ProbeDriver (§4.3): the stateful probe
// controller sitting between the wire codec and ArmDapAdapter. It owns
// mode transitions, version negotiation, speed selection, the AP
// open-set, DAP register I/O, memory I/O, SWO, and the wait-retry
// policy every fallible command goes through.
package probe

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

// usbTransport is the narrow surface Driver needs from transport.Transport.
// Tests substitute a mock that satisfies this interface directly, per the
// mocked-USB-transport testing strategy §8 calls for.
type usbTransport interface {
	Write(cmd []byte, writePayload []byte, readBuf []byte) error
	ReadSWO(buf []byte, timeout time.Duration) (int, error)
	Reset() error
	Close()
}

// Driver is the ProbeHandle of §3: it exclusively owns a usbTransport,
// the cached version/speed state, the swo-enabled flag and the set of
// opened APs (AP 0 once selected, any other AP after a successful
// JTAG_INIT_AP).
type Driver struct {
	transport usbTransport

	mode protocol.StLinkMode

	version Version

	swdKHz, jtagKHz uint32

	swoEnabled bool
	swoSourceHz uint32

	openedAPs map[uint8]bool

	maxMemPacket uint32
}

// New wraps an already-open transport. Init still needs to run before
// any DAP/memory operation is attempted.
func New(t usbTransport) *Driver {
	return &Driver{
		transport: t,
		openedAPs: make(map[uint8]bool),
	}
}

// Close best-effort disables SWO and returns the probe to idle, mirroring
// the RAII-style shutdown §9 calls for translated into an explicit,
// idempotent method. It does not close the underlying transport - that
// remains the caller's (SessionOrchestrator's) responsibility.
func (d *Driver) Close() {
	if d.swoEnabled {
		if err := d.StopTraceReception(); err != nil {
			log.Warnf("close: failed to disable swo: %v", err)
		}
	}
	if err := d.EnterIdle(); err != nil {
		log.Warnf("close: failed to enter idle: %v", err)
	}
}

// Mode reports the driver's last-known mode. Per §3 ProbeMode, this is
// read, never authoritative state trusted across calls - enter_idle
// always re-derives it from the device.
func (d *Driver) Mode() protocol.StLinkMode { return d.mode }

func (d *Driver) Version() Version { return d.version }

func (d *Driver) SwoEnabled() bool { return d.swoEnabled }

// Init performs §4.3.1: query mode (reset-and-retry once on a transport
// failure), read firmware version, and reject unsupported firmware.
func (d *Driver) Init() error {
	mode, err := d.currentMode()
	if err != nil {
		log.Debug("get_current_mode failed, attempting one device reset and retry")
		if resetErr := d.transport.Reset(); resetErr != nil {
			return errs.Wrap(errs.KindUsbIO, "init", err)
		}
		mode, err = d.currentMode()
		if err != nil {
			return errs.Wrap(errs.KindUsbIO, "init", err)
		}
	}
	d.mode = mode

	if err := d.readVersion(); err != nil {
		return err
	}

	if d.version.JtagVersion == 0 {
		return errs.New(errs.KindJTAGNotSupported, "init")
	}
	if d.version.HwVersion < 3 && d.version.JtagVersion < 26 {
		return errs.FirmwareOutdated("init", 26)
	}
	if d.version.HwVersion == 3 && d.version.JtagVersion < 3 {
		return errs.FirmwareOutdated("init", 3)
	}

	if d.version.V3FrequencyAPI() {
		if khz, err := d.currentComFreq(false); err == nil {
			d.swdKHz = khz
		}
		if khz, err := d.currentComFreq(true); err == nil {
			d.jtagKHz = khz
		}
	}

	return nil
}

func (d *Driver) currentMode() (protocol.StLinkMode, error) {
	reply := make([]byte, 2)
	cmd := []byte{protocol.CmdGetCurrentMode}

	if err := d.transport.Write(cmd, nil, reply); err != nil {
		return protocol.ModeUnknown, err
	}

	switch reply[0] {
	case 0x00:
		return protocol.ModeDfu, nil
	case 0x02:
		return protocol.ModeDebugSwd, nil
	case 0x03:
		return protocol.ModeDebugSwim, nil
	default:
		return protocol.ModeUnknown, nil
	}
}

func (d *Driver) readVersion() error {
	reply := make([]byte, 6)
	cmd := []byte{protocol.CmdGetVersion}

	if err := d.transport.Write(cmd, nil, reply); err != nil {
		return errs.Wrap(errs.KindUsbIO, "get_version", err)
	}

	parsed := protocol.ParseVersion(reply)

	if parsed.HwVersion == 3 && parsed.JtagVersion == 0 && parsed.MsdVersion == 0 {
		extReply := make([]byte, 12)
		extCmd := []byte{protocol.DebugApiV3GetVersionEx}

		if err := d.transport.Write(extCmd, nil, extReply); err != nil {
			return errs.Wrap(errs.KindUsbIO, "get_version_ext", err)
		}
		parsed = protocol.ParseVersionExt(extReply)
	}

	d.version = DeriveCapabilities(parsed.HwVersion, parsed.JtagVersion)
	d.version.MsdVersion = parsed.MsdVersion
	d.version.SwimVersion = parsed.SwimVersion

	log.Debugf("parsed st-link version [%s]", d.version.String())
	return nil
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package probe

import (
	log "github.com/sirupsen/logrus"

	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

// SelectAP implements §4.3.4 AP arbitration: apsel 0 is always permitted;
// any other apsel requires multi_ap_supported; a not-yet-opened apsel is
// initialised via JTAG_INIT_AP under the wait-retry policy and cached in
// opened_aps so a repeated select_ap is a no-op (§8 property 3).
func (d *Driver) SelectAP(apsel uint8) error {
	if apsel == 0 {
		d.openedAPs[0] = true
		return nil
	}

	if !d.version.MultiApSupported() {
		return errs.FirmwareOutdated("select_ap", 28).WithAp(apsel)
	}

	if d.openedAPs[apsel] {
		return nil
	}

	if int(apsel) > protocol.DebugAccessPortMax {
		return errs.New(errs.KindNotImplemented, "select_ap").WithAp(apsel)
	}

	cmd := []byte{protocol.CmdDebug, protocol.DebugApiV2InitAp, apsel}
	reply := make([]byte, 2)

	if err := retryOnWait(func() error {
		if err := d.transport.Write(cmd, nil, reply); err != nil {
			return errs.Wrap(errs.KindUsbIO, "select_ap", err).WithAp(apsel)
		}
		return protocol.DecodeStatus("select_ap", reply[0])
	}); err != nil {
		return err
	}

	log.Debugf("AP %d initialised", apsel)
	d.openedAPs[apsel] = true
	return nil
}

// CloseAP emits JTAG_CLOSE_AP_DBG. Optional and symmetric per §4.3.4;
// not required for correctness, so failures are logged, not surfaced.
func (d *Driver) CloseAP(apsel uint8) {
	if !d.version.Has(protocol.FlagFixCloseAp) {
		return
	}

	cmd := []byte{protocol.CmdDebug, protocol.DebugApiV2CloseApDbg, apsel}
	reply := make([]byte, 2)

	if err := d.transport.Write(cmd, nil, reply); err != nil {
		log.Debugf("close_ap(%d): %v", apsel, err)
		return
	}
	if err := protocol.DecodeStatus("close_ap", reply[0]); err != nil {
		log.Debugf("close_ap(%d): %v", apsel, err)
	}
	delete(d.openedAPs, apsel)
}

// IsAPOpen reports whether apsel is in opened_aps this session: AP 0
// once SelectAP(0) has run (no JTAG_INIT_AP is sent for it), any other
// apsel after a successful JTAG_INIT_AP.
func (d *Driver) IsAPOpen(apsel uint8) bool { return d.openedAPs[apsel] }

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// Package arm implements ArmDapAdapter (§4.4): a thin layer over
// probe.Driver that tracks connected-to-DP, DP-bank-selection capability
// and the discovered AP set, and translates ARM DAP register
// reads/writes into probe commands.
package arm

import (
	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/probe"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

// DpAddress names a debug port. Only Default is supported by this core
// (§3 ApAddress); any other value is rejected as multidrop.
type DpAddress int

const DefaultDP DpAddress = 0

// ApVersion distinguishes the v1 AP addressing ST-Link supports from v2,
// which this core rejects outright (§3).
type ApVersion int

const (
	ApV1 ApVersion = 1
	ApV2 ApVersion = 2
)

// ApAddress pairs a DpAddress with an AP version tag (§3).
type ApAddress struct {
	DP      DpAddress
	Version ApVersion
	Apsel   uint8 // meaningful only when Version == ApV1
}

func (a ApAddress) IsV2() bool { return a.Version == ApV2 }

// RegAddr is a DAP register address: an 8-bit offset plus the 4-bit bank
// selector some DP registers require (§4.4 BanksNotAllowedOnDPRegister).
type RegAddr struct {
	Bank   uint8
	Offset uint8
}

// Adapter is the SwdArmAdapter of §3: it owns a probe.Driver (the
// ProbeHandle) plus connected-to-DP state and the discovered AP set.
type Adapter struct {
	driver *probe.Driver

	connectedToDP bool
	accessPorts   []ApAddress
}

// New begins an SwdArmAdapter's lifecycle over an already-initialised
// driver (§3: lifecycle begins on try_into_arm_debug_interface).
func New(driver *probe.Driver) *Adapter {
	return &Adapter{driver: driver}
}

// Close ends the adapter's lifecycle, returning the ProbeHandle to the
// caller exactly as §3 specifies.
func (a *Adapter) Close() *probe.Driver {
	d := a.driver
	a.driver = nil
	return d
}

func (a *Adapter) Driver() *probe.Driver { return a.driver }

func (a *Adapter) ConnectedToDP() bool { return a.connectedToDP }

func (a *Adapter) AccessPorts() []ApAddress { return a.accessPorts }

// SelectDebugPort implements §4.4: rejects non-default DPs, and
// populates access_ports exactly once (idempotent thereafter per the §3
// invariant: connected_to_dp implies access_ports has been populated).
func (a *Adapter) SelectDebugPort(dp DpAddress) error {
	if dp != DefaultDP {
		return errs.New(errs.KindMultidropNotSupported, "select_debug_port")
	}

	if a.connectedToDP {
		return nil
	}

	ports, err := a.walkAccessPortSpace()
	if err != nil {
		return err
	}

	a.accessPorts = ports
	a.connectedToDP = true
	return nil
}

// walkAccessPortSpace probes AP 0 only - ST-Link has no enumeration
// command, so higher layers grow access_ports lazily as select_ap opens
// further APs during normal operation. AP 0 is always valid per §4.3.4.
func (a *Adapter) walkAccessPortSpace() ([]ApAddress, error) {
	if err := a.driver.SelectAP(0); err != nil {
		return nil, err
	}
	return []ApAddress{{DP: DefaultDP, Version: ApV1, Apsel: 0}}, nil
}

func (a *Adapter) ensureAP(ap ApAddress) {
	for _, existing := range a.accessPorts {
		if existing == ap {
			return
		}
	}
	a.accessPorts = append(a.accessPorts, ap)
}

// ReadRawDPRegister implements §4.4: ensures the DP is selected, rejects
// banked access when unsupported, and forwards to the driver with
// port = DpPort.
func (a *Adapter) ReadRawDPRegister(dp DpAddress, addr RegAddr) (uint32, error) {
	if err := a.SelectDebugPort(dp); err != nil {
		return 0, err
	}
	if addr.Bank != 0 && !a.driver.Version().DPBankSelectionSupported() {
		return 0, errs.New(errs.KindBanksNotAllowed, "read_raw_dp_register")
	}
	return a.driver.ReadRegister(protocol.DpPort, addr.Offset)
}

func (a *Adapter) WriteRawDPRegister(dp DpAddress, addr RegAddr, value uint32) error {
	if err := a.SelectDebugPort(dp); err != nil {
		return err
	}
	if addr.Bank != 0 && !a.driver.Version().DPBankSelectionSupported() {
		return errs.New(errs.KindBanksNotAllowed, "write_raw_dp_register")
	}
	return a.driver.WriteRegister(protocol.DpPort, addr.Offset, value)
}

// ReadRawAPRegister implements §4.4: v2 addresses are rejected, v1
// addresses ensure the DP is selected, select the AP, then forward with
// port = ap.Apsel.
func (a *Adapter) ReadRawAPRegister(ap ApAddress, addr RegAddr) (uint32, error) {
	if ap.IsV2() {
		return 0, errs.New(errs.KindNotImplemented, "read_raw_ap_register").WithName("ST-Link does not yet support APv2")
	}
	if err := a.SelectDebugPort(ap.DP); err != nil {
		return 0, err
	}
	if err := a.driver.SelectAP(ap.Apsel); err != nil {
		return 0, err
	}
	a.ensureAP(ap)
	return a.driver.ReadRegister(uint16(ap.Apsel), addr.Offset)
}

func (a *Adapter) WriteRawAPRegister(ap ApAddress, addr RegAddr, value uint32) error {
	if ap.IsV2() {
		return errs.New(errs.KindNotImplemented, "write_raw_ap_register").WithName("ST-Link does not yet support APv2")
	}
	if err := a.SelectDebugPort(ap.DP); err != nil {
		return err
	}
	if err := a.driver.SelectAP(ap.Apsel); err != nil {
		return err
	}
	a.ensureAP(ap)
	return a.driver.WriteRegister(uint16(ap.Apsel), addr.Offset, value)
}

// MemoryInterface returns a transient MemoryInterfaceView bound to ap,
// one per operation batch (§3).
func (a *Adapter) MemoryInterface(ap ApAddress) *MemoryInterfaceView {
	return &MemoryInterfaceView{adapter: a, ap: ap}
}

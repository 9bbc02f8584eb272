// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package session

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stlinkcore/gostlink/internal/arm"
	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/probe"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

// AttachMethod picks between a normal attach and the attach-under-reset
// sequence of §4.5.
type AttachMethod int

const (
	AttachNormal AttachMethod = iota
	AttachUnderReset
)

// TraceSink names where SWO/TPIU data should be routed; SessionOrchestrator
// only tracks which sink is configured, the actual read happens through
// the probe's SWO calls (§6).
type TraceSink int

const (
	TraceSinkNone TraceSink = iota
	TraceSinkSwo
)

// Target is the minimal target description SessionOrchestrator needs:
// the per-core layout plus an optional JTAG scan chain. Flash
// algorithms and chip databases are a documented Non-goal (§1).
type Target struct {
	Name      string
	Cores     []CoreType
	ScanChain []byte
}

func (o *Orchestrator) Driver() *probe.Driver { return o.driver }

func (o *Orchestrator) Target() Target { return o.target }

func (t Target) architecture() Architecture {
	if len(t.Cores) == 0 {
		return ArchUnknown
	}
	return t.Cores[0].Architecture
}

// Orchestrator is the SessionOrchestrator of §4.5: it holds the target
// description, the architecture interface, an ordered list of per-core
// combined state, and an optional trace sink.
type Orchestrator struct {
	target Target
	driver *probe.Driver
	dap    *arm.Adapter

	cores     []*CombinedCoreState
	traceSink TraceSink
}

// Open runs the full attach sequence of §4.5 against an already
// initialised probe.Driver (probe.Init must have already succeeded).
func Open(driver *probe.Driver, target Target, method AttachMethod) (*Orchestrator, error) {
	cores := make([]*CombinedCoreState, len(target.Cores))
	for i, ct := range target.Cores {
		cores[i] = &CombinedCoreState{ID: i, Type: ct}
	}

	if target.architecture() != ArchArm {
		return nil, errs.New(errs.KindNotImplemented, "attach").WithName("only ARM targets are supported by this core")
	}

	o := &Orchestrator{target: target, driver: driver, cores: cores}

	if err := o.attachArm(driver, method); err != nil {
		return nil, err
	}

	if err := o.ClearAllHwBreakpoints(); err != nil {
		return nil, err
	}

	return o, nil
}

// attachArm implements §4.5's attach-under-reset sequence (steps 1-7)
// and the normal-attach shortcut (skip 1, 5-bis, 6, 7).
func (o *Orchestrator) attachArm(driver *probe.Driver, method AttachMethod) error {
	underReset := method == AttachUnderReset

	if underReset {
		// Step 1: assert hardware reset. ST-Link has no custom
		// per-target reset sequence, so this always falls back to the
		// raw nRESET pin.
		log.Debug("asserting hardware reset")
		if _, err := driver.SwjPins(probe.NRSTPinMask, 0, 0); err != nil {
			return err
		}
	}

	// Step 2: scan chain, when the target names one and the wire
	// protocol in use is JTAG.
	if len(o.target.ScanChain) > 0 {
		log.Debug("scan chain configuration requested but this probe has no scan-chain command; ignoring")
	}

	if err := driver.Attach(protocol.ModeDebugSwd); err != nil {
		return err
	}

	// Low-voltage warning, matching probe-rs's attach()-time check and
	// the teacher's mode.go threshold (§SUPPLEMENTED FEATURES 6).
	if voltage, err := driver.GetTargetVoltage(); err == nil {
		if voltage < 1.5 {
			log.Warnf("target voltage %.2fV may be too low for reliable debugging", voltage)
		}
	}

	// Step 3: move into the ARM DAP adapter, select the default DP.
	dap := arm.New(driver)
	if err := dap.SelectDebugPort(arm.DefaultDP); err != nil {
		return err
	}
	o.dap = dap

	// Step 4: debug_device_unlock. ST-Link needs no target-specific
	// unlock sequence, so this always succeeds without a reattach; the
	// dance is kept so the ReAttachRequired path is exercised if a
	// future debug sequence hook needs it.
	if err := o.debugDeviceUnlock(); err != nil {
		if pe, ok := err.(*errs.ProbeError); ok && pe.Kind() == errs.KindReAttachRequired {
			if err := o.reattach(driver); err != nil {
				return err
			}
		} else {
			return err
		}
	}

	// Step 5: enable ARM debug on each core.
	for _, c := range o.cores {
		if err := o.enableArmDebug(c); err != nil {
			return err
		}
	}

	if underReset {
		// Step 5-bis: set reset-catch on each core.
		for _, c := range o.cores {
			if err := o.resetCatchSet(c); err != nil {
				return err
			}
		}

		// Step 6: deassert hardware reset; a timeout warns the nRESET
		// line may not be wired, but is not fatal.
		if _, err := driver.SwjPins(probe.NRSTPinMask, probe.NRSTPinMask, 0); err != nil {
			log.Warnf("timeout deasserting hardware reset: %v - nRESET may not be connected", err)
		}

		// Step 7: each core should halt on reset release because
		// reset-catch was set; wait, then clear the catch.
		for i := range o.cores {
			core, err := o.Core(i)
			if err != nil {
				return err
			}
			if err := core.WaitForHalted(100 * time.Millisecond); err != nil {
				return err
			}
			if err := o.resetCatchClear(o.cores[i]); err != nil {
				return err
			}
		}
	}

	return nil
}

// debugDeviceUnlock is the attach-sequence hook of §4.5 step 4. ST-Link
// targets never require a real unlock dance, so this is a no-op that
// exists as the hook point a richer debug sequence would override.
func (o *Orchestrator) debugDeviceUnlock() error { return nil }

// reattach performs the swap-with-dummy / close / detach / re-attach /
// select-previous-DP / swap-back dance §4.5 names for ReAttachRequired.
func (o *Orchestrator) reattach(driver *probe.Driver) error {
	log.Info("reattach required: cycling the ARM debug interface")

	prevDP := arm.DefaultDP

	dummy := arm.New(driver)
	o.dap.Close()
	o.dap = dummy

	if err := driver.Attach(protocol.ModeDebugSwd); err != nil {
		return err
	}

	fresh := arm.New(driver)
	if err := fresh.SelectDebugPort(prevDP); err != nil {
		return err
	}
	o.dap = fresh

	return nil
}

// enableArmDebug sets DHCSR.C_DEBUGEN so the core accepts further debug
// register access (ARMv7-M Debug Halting Control and Status Register).
func (o *Orchestrator) enableArmDebug(c *CombinedCoreState) error {
	core, err := o.coreView(c)
	if err != nil {
		return err
	}

	buf := make([]byte, 4)
	putLE32(buf, dhcsrDbgKey|dhcsrCDebugEn)
	return core.memory.Write32(dhcsrAddr, buf)
}

// resetCatchSet/Clear toggle DEMCR.VC_CORERESET, the ARMv7-M vector
// catch bit that halts the core immediately after reset release.
func (o *Orchestrator) resetCatchSet(c *CombinedCoreState) error {
	return o.setDemcrBit(c, demcrVcCoreReset, true)
}

func (o *Orchestrator) resetCatchClear(c *CombinedCoreState) error {
	return o.setDemcrBit(c, demcrVcCoreReset, false)
}

func (o *Orchestrator) setDemcrBit(c *CombinedCoreState, bit uint32, set bool) error {
	core, err := o.coreView(c)
	if err != nil {
		return err
	}

	buf := make([]byte, 4)
	if err := core.memory.Read32(demcrAddr, buf); err != nil {
		return err
	}
	value := getLE32(buf)
	if set {
		value |= bit
	} else {
		value &^= bit
	}
	putLE32(buf, value)
	return core.memory.Write32(demcrAddr, buf)
}

const (
	demcrAddr        = 0xE000EDFC
	demcrVcCoreReset = 1 << 0

	dhcsrDbgKey  = 0xA05F0000
	dhcsrCDebugEn = 1 << 0
)

func putLE32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

func getLE32(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package session

import (
	log "github.com/sirupsen/logrus"

	"github.com/stlinkcore/gostlink/internal/errs"
)

// ClearAllHwBreakpoints implements §4.5: runs inside a HaltedAccess
// scope so every comparator write lands on a halted core, clearing the
// Flash Patch and Breakpoint unit's comparator slots and disabling it.
func (o *Orchestrator) ClearAllHwBreakpoints() error {
	return o.HaltedAccess(func() error {
		for _, c := range o.cores {
			core, err := o.coreView(c)
			if err != nil {
				if pe, ok := err.(*errs.ProbeError); ok && pe.Kind() == errs.KindCoreDisabled {
					continue
				}
				return err
			}
			if err := clearFpb(core); err != nil {
				return err
			}
		}
		return nil
	})
}

// clearFpb zeroes every FPB comparator slot and disables the unit
// (FP_CTRL, ARMv7-M Flash Patch and Breakpoint register map).
func clearFpb(c *Core) error {
	buf := make([]byte, 4)
	zero := make([]byte, 4)

	if err := c.memory.Read32(fpCtrlAddr, buf); err != nil {
		return err
	}
	numCode := int((getLE32(buf)>>4)&0xf) | int((getLE32(buf)>>8)&0x70)

	for i := 0; i < numCode; i++ {
		addr := uint32(fpComp0Addr + 4*i)
		if err := c.memory.Write32(addr, zero); err != nil {
			return err
		}
	}

	putLE32(buf, fpCtrlKey)
	return c.memory.Write32(fpCtrlAddr, buf)
}

const (
	fpCtrlAddr  = 0xE0002000
	fpComp0Addr = 0xE0002008
	fpCtrlKey   = 1 << 1 // KEY bit, enables the write, ENABLE left clear
)

// Close implements §4.5's Drop semantics: best-effort clear all
// breakpoints, then stop debug on each core, logging rather than
// surfacing failures exactly as the probe's own Close does.
func (o *Orchestrator) Close() {
	if err := o.ClearAllHwBreakpoints(); err != nil {
		log.Warnf("session close: clear_all_hw_breakpoints: %v", err)
	}

	for _, c := range o.cores {
		core, err := o.coreView(c)
		if err != nil {
			continue
		}
		if err := o.debugCoreStop(core); err != nil {
			log.Warnf("session close: debug_core_stop(core %d): %v", c.ID, err)
		}
	}

	if o.dap != nil {
		o.dap.Close()
		o.dap = nil
	}
}

// debugCoreStop clears DHCSR.C_DEBUGEN, releasing the core from debug
// state.
func (o *Orchestrator) debugCoreStop(c *Core) error {
	buf := make([]byte, 4)
	putLE32(buf, dhcsrDbgKey)
	return c.memory.Write32(dhcsrAddr, buf)
}

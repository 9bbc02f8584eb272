// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package session

import (
	log "github.com/sirupsen/logrus"

	"github.com/stlinkcore/gostlink/internal/arm"
	"github.com/stlinkcore/gostlink/internal/errs"
)

// Core returns a transient handle that attaches the architecture
// interface to the i-th CombinedCoreState (§4.5 `core(i)`). Every call
// is safe to repeat; only the first actually runs an attach-cost
// operation since the DAP layer's AP selection is itself idempotent.
func (o *Orchestrator) Core(i int) (*Core, error) {
	if i < 0 || i >= len(o.cores) {
		return nil, errs.CoreNotFound(i)
	}
	return o.coreView(o.cores[i])
}

func (o *Orchestrator) coreView(c *CombinedCoreState) (*Core, error) {
	if c.disabled {
		return nil, errs.CoreDisabled(c.ID)
	}

	ap := arm.ApAddress{DP: arm.DefaultDP, Version: arm.ApV1, Apsel: c.Type.Apsel}

	// A JTAG-only architecture (Riscv/Xtensa) would translate an
	// Xtensa "core disabled" condition into CoreDisabled(i) here; this
	// core only ever attaches ARM cores (§9), so that branch never
	// triggers in practice and exists only to document the switch.
	if c.Type.Architecture != ArchArm {
		c.disabled = true
		return nil, errs.CoreDisabled(c.ID)
	}

	return &Core{
		state:  c,
		dap:    o.dap,
		memory: o.dap.MemoryInterface(ap),
	}, nil
}

// HaltedAccess runs fn with every running core halted, then resumes
// only the cores it halted itself (§4.5 `clear_all_hw_breakpoints`
// scope, and §4.5's `halted_access` helper more generally).
func (o *Orchestrator) HaltedAccess(fn func() error) error {
	var resumed []int

	for _, c := range o.cores {
		core, err := o.coreView(c)
		if err != nil {
			if pe, ok := err.(*errs.ProbeError); ok && pe.Kind() == errs.KindCoreDisabled {
				continue
			}
			return err
		}

		halted, err := core.Halted()
		if err != nil {
			return err
		}
		if halted {
			continue
		}

		if err := o.haltCore(core); err != nil {
			return err
		}
		resumed = append(resumed, c.ID)
	}

	result := fn()

	for _, id := range resumed {
		core, err := o.coreView(o.cores[id])
		if err != nil {
			log.Warnf("halted_access: resuming core %d: %v", id, err)
			continue
		}
		if err := o.runCore(core); err != nil {
			log.Warnf("halted_access: resuming core %d: %v", id, err)
		}
	}

	return result
}

// haltCore/runCore toggle DHCSR.C_HALT under the debug key, mirroring
// the same register enableArmDebug primed with C_DEBUGEN.
func (o *Orchestrator) haltCore(c *Core) error {
	return o.writeDhcsr(c, dhcsrCDebugEn|dhcsrCHalt)
}

func (o *Orchestrator) runCore(c *Core) error {
	return o.writeDhcsr(c, dhcsrCDebugEn)
}

func (o *Orchestrator) writeDhcsr(c *Core, bits uint32) error {
	buf := make([]byte, 4)
	putLE32(buf, dhcsrDbgKey|bits)
	return c.memory.Write32(dhcsrAddr, buf)
}

const dhcsrCHalt = 1 << 1

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package arm_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stlinkcore/gostlink/internal/arm"
	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/probe"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

type fakeTransport struct {
	hw, jtag int
	extra    func(cmd, payload, readBuf []byte) (bool, error)
}

func (f *fakeTransport) Write(cmd, payload, readBuf []byte) error {
	switch cmd[0] {
	case protocol.CmdGetCurrentMode:
		readBuf[0] = 0x00
		return nil
	case protocol.CmdGetVersion:
		reply := make([]byte, 6)
		word := uint16(f.hw&0xf)<<12 | uint16(f.jtag&0x3f)<<6
		reply[0], reply[1] = byte(word>>8), byte(word)
		protocol.PutUint16LE(reply[2:4], 0x0483)
		protocol.PutUint16LE(reply[4:6], protocol.StLinkV2Pid)
		copy(readBuf, reply)
		return nil
	}
	if f.extra != nil {
		if handled, err := f.extra(cmd, payload, readBuf); handled {
			return err
		}
	}
	return fmt.Errorf("fakeTransport: unhandled command % x", cmd)
}

func (f *fakeTransport) ReadSWO(buf []byte, _ time.Duration) (int, error) { return 0, nil }
func (f *fakeTransport) Reset() error                                     { return nil }
func (f *fakeTransport) Close()                                           {}

func okStatus(cmd, payload, readBuf []byte) (bool, error) {
	readBuf[0] = protocol.StatusJtagOk
	return true, nil
}

func newAttachedDriver(t *testing.T, hw, jtag int) *probe.Driver {
	t.Helper()
	d := probe.New(&fakeTransport{hw: hw, jtag: jtag, extra: okStatus})
	if err := d.Init(); err != nil {
		t.Fatalf("driver init failed: %v", err)
	}
	return d
}

// Property 10: bank!=0 is rejected unless DP bank selection is
// supported (hw>=3, or hw2 at jtag>=32).
func TestWriteRawDPRegisterBankGating(t *testing.T) {
	d := newAttachedDriver(t, 2, 30)
	a := arm.New(d)

	err := a.WriteRawDPRegister(arm.DefaultDP, arm.RegAddr{Bank: 1, Offset: 0x04}, 0)
	if err == nil {
		t.Fatal("expected BanksNotAllowedOnDPRegister on hw2/jtag30")
	}
	pe, ok := err.(*errs.ProbeError)
	if !ok || pe.Kind() != errs.KindBanksNotAllowed {
		t.Fatalf("err = %v, want KindBanksNotAllowed", err)
	}

	d3 := newAttachedDriver(t, 3, 6)
	a3 := arm.New(d3)
	if err := a3.WriteRawDPRegister(arm.DefaultDP, arm.RegAddr{Bank: 1, Offset: 0x04}, 0); err != nil {
		t.Fatalf("unexpected error on hw3 (bank selection supported): %v", err)
	}
}

// Property 12: after closing and reopening the adapter over the same
// driver (the reattach dance), select_debug_port reproduces the same
// access port set - "current_debug_port() returns the same DpAddress".
func TestReattachInvariance(t *testing.T) {
	d := newAttachedDriver(t, 2, 30)

	a1 := arm.New(d)
	if err := a1.SelectDebugPort(arm.DefaultDP); err != nil {
		t.Fatalf("first select_debug_port: %v", err)
	}
	before := a1.AccessPorts()
	a1.Close()

	a2 := arm.New(d)
	if err := a2.SelectDebugPort(arm.DefaultDP); err != nil {
		t.Fatalf("post-reattach select_debug_port: %v", err)
	}
	after := a2.AccessPorts()

	if len(before) != len(after) {
		t.Fatalf("access port count changed across reattach: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("access_ports[%d] changed across reattach: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestRejectsMultidropDebugPort(t *testing.T) {
	d := newAttachedDriver(t, 2, 30)
	a := arm.New(d)

	if err := a.SelectDebugPort(arm.DefaultDP + 1); err == nil {
		t.Fatal("expected MultidropNotSupported for a non-default DP")
	}
}

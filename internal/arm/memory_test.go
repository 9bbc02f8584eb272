// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package arm_test

import (
	"testing"
	"time"

	"github.com/stlinkcore/gostlink/internal/arm"
	"github.com/stlinkcore/gostlink/internal/probe"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

// recordingTransport answers Init()'s identity queries like fakeTransport
// and otherwise records every JTAG_READMEM_32BIT command it receives,
// replying with as many zero bytes as were asked for, and answers each
// GETLASTRWSTATUS2 poll with JtagOk.
type recordingTransport struct {
	hw, jtag int
	reads    []recordedRead
}

type recordedRead struct {
	addr uint32
	n    int
}

func (f *recordingTransport) Write(cmd, payload, readBuf []byte) error {
	switch cmd[0] {
	case protocol.CmdGetCurrentMode:
		readBuf[0] = 0x00
		return nil
	case protocol.CmdGetVersion:
		word := uint16(f.hw&0xf)<<12 | uint16(f.jtag&0x3f)<<6
		readBuf[0], readBuf[1] = byte(word>>8), byte(word)
		protocol.PutUint16LE(readBuf[2:4], 0x0483)
		protocol.PutUint16LE(readBuf[4:6], protocol.StLinkV2Pid)
		return nil
	case protocol.CmdDebug:
		if len(cmd) >= 8 && cmd[1] == protocol.DebugReadMem32Bit {
			addr := protocol.ToUint32(cmd[2:6], protocol.LittleEndian)
			n := int(protocol.ToUint16(cmd[6:8], protocol.LittleEndian))
			f.reads = append(f.reads, recordedRead{addr: addr, n: n})
			return nil
		}
		if cmd[1] == protocol.DebugApiV2GetLastRWStatus2 {
			readBuf[0] = protocol.StatusJtagOk
			return nil
		}
	}
	return nil
}

func (f *recordingTransport) ReadSWO(buf []byte, _ time.Duration) (int, error) { return 0, nil }
func (f *recordingTransport) Reset() error                                    { return nil }
func (f *recordingTransport) Close()                                          {}

// Property 7 (adapted): MemoryInterfaceView.Read32 splits a buffer larger
// than the TAR auto-increment window into contiguous, address-advancing
// chunks rather than relying on the protocol's 6144-byte ceiling alone -
// the default 1KiB window (no ProbeCPUID call here) is the binding
// constraint, not MaxReadWrite32.
func TestRead32ChunksAtTARWindow(t *testing.T) {
	ft := &recordingTransport{hw: 2, jtag: 30}
	d := probe.New(ft)
	if err := d.Init(); err != nil {
		t.Fatalf("driver init failed: %v", err)
	}

	a := arm.New(d)
	mem := a.MemoryInterface(arm.ApAddress{DP: arm.DefaultDP, Apsel: 0})

	const base = uint32(0x20000000)
	data := make([]byte, 12*1024)
	if err := mem.Read32(base, data); err != nil {
		t.Fatalf("Read32: %v", err)
	}

	if len(ft.reads) != 12 {
		t.Fatalf("got %d chunks, want 12 (12KiB split on a 1KiB TAR window)", len(ft.reads))
	}

	wantAddr := base
	total := 0
	for i, r := range ft.reads {
		if r.addr != wantAddr {
			t.Fatalf("chunk %d: addr = 0x%x, want 0x%x (chunks must advance contiguously)", i, r.addr, wantAddr)
		}
		if r.n != 1024 {
			t.Fatalf("chunk %d: len = %d, want 1024 (bounded by the TAR window, well under the %d protocol ceiling)", i, r.n, protocol.MaxReadWrite32)
		}
		wantAddr += uint32(r.n)
		total += r.n
	}
	if total != len(data) {
		t.Fatalf("total bytes read = %d, want %d", total, len(data))
	}
}

// A read that fits inside a single TAR window and under the protocol
// ceiling goes out as one chunk.
func TestRead32SingleChunkWhenSmall(t *testing.T) {
	ft := &recordingTransport{hw: 2, jtag: 30}
	d := probe.New(ft)
	if err := d.Init(); err != nil {
		t.Fatalf("driver init failed: %v", err)
	}

	a := arm.New(d)
	mem := a.MemoryInterface(arm.ApAddress{DP: arm.DefaultDP, Apsel: 0})

	data := make([]byte, 256)
	if err := mem.Read32(0x20000000, data); err != nil {
		t.Fatalf("Read32: %v", err)
	}
	if len(ft.reads) != 1 {
		t.Fatalf("got %d chunks, want 1", len(ft.reads))
	}
	if ft.reads[0].n != 256 {
		t.Fatalf("chunk len = %d, want 256", ft.reads[0].n)
	}
}

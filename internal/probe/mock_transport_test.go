// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package probe_test

import (
	"fmt"
	"time"

	"github.com/stlinkcore/gostlink/internal/protocol"
)

type recordedCall struct {
	cmd     []byte
	payload []byte
	readLen int
}

// fakeTransport answers CmdGetCurrentMode/CmdGetVersion with the
// configured (hw, jtag) identity automatically; anything else goes
// through extra first, falling through to an "unhandled command" error
// so a missing script entry fails loudly instead of returning zeroes.
type fakeTransport struct {
	hw, jtag int
	extra    func(cmd, payload, readBuf []byte) (handled bool, err error)

	calls  []recordedCall
	resets int
}

func (f *fakeTransport) Write(cmd, payload, readBuf []byte) error {
	f.calls = append(f.calls, recordedCall{
		cmd:     append([]byte(nil), cmd...),
		payload: append([]byte(nil), payload...),
		readLen: len(readBuf),
	})

	// Identity replies are always served automatically so every test
	// gets a working Init() without having to script them; extra only
	// ever needs to cover the command the test actually cares about.
	switch cmd[0] {
	case protocol.CmdGetCurrentMode:
		readBuf[0] = 0x00
		return nil
	case protocol.CmdGetVersion:
		copy(readBuf, versionReplyBytes(f.hw, f.jtag))
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
func (f *fakeTransport) Reset() error                                     { f.resets++; return nil }
func (f *fakeTransport) Close()                                           {}

func (f *fakeTransport) countDebugSubCmd(subCmd byte) int {
	n := 0
	for _, c := range f.calls {
		if len(c.cmd) >= 2 && c.cmd[0] == protocol.CmdDebug && c.cmd[1] == subCmd {
			n++
		}
	}
	return n
}

// versionReplyBytes builds a GET_VERSION reply that ParseVersion decodes
// back to exactly (hw, jtag) via the default (non-V2.1) pid branch.
func versionReplyBytes(hw, jtag int) []byte {
	reply := make([]byte, 6)
	word := uint16(hw&0xf)<<12 | uint16(jtag&0x3f)<<6
	reply[0], reply[1] = byte(word>>8), byte(word)
	protocol.PutUint16LE(reply[2:4], 0x0483)
	protocol.PutUint16LE(reply[4:6], protocol.StLinkV2Pid)
	return reply
}

func statusReply(status byte) func(cmd, payload, readBuf []byte) (bool, error) {
	return func(cmd, payload, readBuf []byte) (bool, error) {
		readBuf[0] = status
		return true, nil
	}
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package probe_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/probe"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

var _ = Describe("ProbeDriver.Init", func() {
	// Property 1 / Scenario S1.
	It("rejects firmware below the hw2 jtag26 floor", func() {
		ft := &fakeTransport{hw: 2, jtag: 20}
		d := probe.New(ft)

		err := d.Init()
		Expect(err).To(HaveOccurred())

		pe, ok := err.(*errs.ProbeError)
		Expect(ok).To(BeTrue())
		Expect(pe.Kind()).To(Equal(errs.KindFirmwareOutdated))
	})

	It("accepts firmware at the hw2 jtag26 floor", func() {
		ft := &fakeTransport{hw: 2, jtag: 26}
		d := probe.New(ft)

		Expect(d.Init()).To(Succeed())
		Expect(d.Version().HwVersion).To(Equal(2))
		Expect(d.Version().JtagVersion).To(Equal(26))
	})
})

var _ = Describe("ProbeDriver.SelectAP", func() {
	// Property 2.
	It("gates multi-AP on the jtag28 floor, AP 0 always open", func() {
		ft := &fakeTransport{hw: 2, jtag: 26}
		d := probe.New(ft)
		Expect(d.Init()).To(Succeed())

		Expect(d.SelectAP(0)).To(Succeed())

		err := d.SelectAP(1)
		Expect(err).To(HaveOccurred())
		pe, ok := err.(*errs.ProbeError)
		Expect(ok).To(BeTrue())
		Expect(pe.Kind()).To(Equal(errs.KindFirmwareOutdated))
	})

	It("allows a non-zero AP once jtag30 is reached", func() {
		ft := &fakeTransport{hw: 2, jtag: 30, extra: statusReply(protocol.StatusJtagOk)}
		d := probe.New(ft)
		Expect(d.Init()).To(Succeed())

		Expect(d.SelectAP(0)).To(Succeed())
		Expect(d.SelectAP(1)).To(Succeed())
	})

	// Property 3.
	It("caches an opened AP: a second select_ap emits no second JTAG_INIT_AP", func() {
		ft := &fakeTransport{hw: 2, jtag: 30, extra: statusReply(protocol.StatusJtagOk)}
		d := probe.New(ft)
		Expect(d.Init()).To(Succeed())

		Expect(d.SelectAP(3)).To(Succeed())
		Expect(d.SelectAP(3)).To(Succeed())

		Expect(ft.countDebugSubCmd(protocol.DebugApiV2InitAp)).To(Equal(1))
	})
})

var _ = Describe("ProbeDriver.GetTargetVoltage", func() {
	// Property 8 / Scenario S2.
	It("computes 2*a1*1.2/a0", func() {
		ft := &fakeTransport{
			hw: 2, jtag: 26,
			extra: func(cmd, payload, readBuf []byte) (bool, error) {
				if cmd[0] != protocol.CmdGetTargetVoltage {
					return false, nil
				}
				protocol.PutUint32LE(readBuf[0:4], 1)
				protocol.PutUint32LE(readBuf[4:8], 2)
				return true, nil
			},
		}
		d := probe.New(ft)
		Expect(d.Init()).To(Succeed())

		v, err := d.GetTargetVoltage()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeNumerically("==", float32(4.8)))
	})
})

var _ = Describe("ProbeDriver memory commands", func() {
	// Scenario S3.
	It("emits exactly one JTAG_READMEM_32BIT command for an aligned read", func() {
		ft := &fakeTransport{hw: 2, jtag: 30, extra: statusReply(protocol.StatusJtagOk)}
		d := probe.New(ft)
		Expect(d.Init()).To(Succeed())

		data := make([]byte, 8)
		Expect(d.ReadMem32(0x20000000, data, 0)).To(Succeed())

		var reads []recordedCall
		for _, c := range ft.calls {
			if len(c.cmd) >= 2 && c.cmd[0] == protocol.CmdDebug && c.cmd[1] == protocol.DebugReadMem32Bit {
				reads = append(reads, c)
			}
		}
		Expect(reads).To(HaveLen(1))
		Expect(reads[0].cmd[2:6]).To(Equal([]byte{0x00, 0x00, 0x00, 0x20}))
		Expect(reads[0].cmd[6:8]).To(Equal([]byte{0x08, 0x00}))
	})
})

var _ = Describe("ProbeDriver capability flags", func() {
	// Property 10.
	It("gates DP bank selection on hw/jtag, independent of bank-0 access", func() {
		ft := &fakeTransport{hw: 2, jtag: 30, extra: statusReply(protocol.StatusJtagOk)}
		d := probe.New(ft)
		Expect(d.Init()).To(Succeed())
		Expect(d.Version().DPBankSelectionSupported()).To(BeFalse())

		ft3 := &fakeTransport{hw: 3, jtag: 6, extra: statusReply(protocol.StatusJtagOk)}
		d3 := probe.New(ft3)
		Expect(d3.Init()).To(Succeed())
		Expect(d3.Version().DPBankSelectionSupported()).To(BeTrue())
	})
})

var _ = Describe("ProbeDriver.SetSpeed", func() {
	// §4.3.3: below jtag24 the device has no JTAG_SET_FREQ command at all.
	It("rejects a JTAG speed change below the jtag24 floor", func() {
		ft := &fakeTransport{hw: 2, jtag: 22}
		d := probe.New(ft)
		// Init rejects jtag22 (below the hw2 jtag26 floor) but keeps the
		// parsed version, so the JTAG_SET_FREQ gate is still reachable.
		Expect(d.Init()).To(HaveOccurred())

		_, err := d.SetSpeed(protocol.ModeDebugJtag, 1125, false)
		Expect(err).To(HaveOccurred())
		pe, ok := err.(*errs.ProbeError)
		Expect(ok).To(BeTrue())
		Expect(pe.Kind()).To(Equal(errs.KindCommandNotSupported))
	})

	// Below hw3, a JTAG speed change goes out as JTAG_SET_FREQ with the
	// matched jtagSpeedTable divisor, mirroring the SWD path.
	It("emits JTAG_SET_FREQ with the matched table divisor", func() {
		ft := &fakeTransport{hw: 2, jtag: 26, extra: statusReply(protocol.StatusJtagOk)}
		d := probe.New(ft)
		Expect(d.Init()).To(Succeed())

		got, err := d.SetSpeed(protocol.ModeDebugJtag, 1125, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeNumerically("==", 1125))

		var sets []recordedCall
		for _, c := range ft.calls {
			if len(c.cmd) >= 2 && c.cmd[0] == protocol.CmdDebug && c.cmd[1] == protocol.DebugApiV2JtagSetFreq {
				sets = append(sets, c)
			}
		}
		Expect(sets).To(HaveLen(1))
		Expect(sets[0].cmd[2:4]).To(Equal([]byte{32, 0})) // divisor for 1125 kHz
	})
})

var _ = Describe("ProbeDriver SWO", func() {
	// Property 11.
	It("rejects Manchester and accepts Uart, setting swo-enabled", func() {
		ft := &fakeTransport{hw: 3, jtag: 6, extra: statusReply(protocol.StatusJtagOk)}
		d := probe.New(ft)
		Expect(d.Init()).To(Succeed())

		err := d.StartTraceReception(probe.SwoConfig{Protocol: protocol.TpuiPinProtocolAsyncManchester, BaudHz: 2000000})
		Expect(err).To(HaveOccurred())
		Expect(d.SwoEnabled()).To(BeFalse())

		Expect(d.StartTraceReception(probe.SwoConfig{Protocol: protocol.TpuiPinProtocolAsyncUart, BaudHz: 2000000})).To(Succeed())
		Expect(d.SwoEnabled()).To(BeTrue())
	})
})

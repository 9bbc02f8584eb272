// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package probe

import (
	"strconv"

	"github.com/boljen/go-bitmap"

	"github.com/stlinkcore/gostlink/internal/protocol"
)

// Version is the firmware identity queried once at init and never
// recomputed afterwards (§9 Design Notes: versions are immutable
// post-init).
type Version struct {
	HwVersion   int
	JtagVersion int
	SwimVersion int
	MsdVersion  int
	JtagAPI     protocol.ApiVersion

	flags bitmap.Bitmap
}

// DeriveCapabilities builds the full per-feature flag bitmap from
// (hw, jtag), reproducing the firmware generation table the teacher's
// usbGetVersion switches over (§SUPPLEMENTED FEATURES 1).
func DeriveCapabilities(hw, jtag int) Version {
	v := Version{HwVersion: hw, JtagVersion: jtag, flags: bitmap.New(protocol.FlagCount)}

	switch hw {
	case 1:
		if jtag >= 11 {
			v.JtagAPI = protocol.ApiV2
		} else {
			v.JtagAPI = protocol.ApiV1
		}

	case 2:
		v.JtagAPI = protocol.ApiV2

		if jtag >= 13 {
			v.flags.Set(protocol.FlagHasTrace, true)
			v.flags.Set(protocol.FlagHasTargetVolt, true)
		}
		if jtag >= 15 {
			v.flags.Set(protocol.FlagHasGetLastRwStatus2, true)
		}
		if jtag >= 22 {
			v.flags.Set(protocol.FlagHasSwdSetFreq, true)
		}
		if jtag >= 24 {
			v.flags.Set(protocol.FlagHasJtagSetFreq, true)
			v.flags.Set(protocol.FlagHasDapReg, true)
		}
		if jtag >= 24 && jtag < 32 {
			v.flags.Set(protocol.FlagQuirkJtagDpRead, true)
		}
		if jtag >= 26 {
			v.flags.Set(protocol.FlagHasMem16Bit, true)
		}
		if jtag >= 28 {
			v.flags.Set(protocol.FlagHasApInit, true)
		}
		if jtag >= 29 {
			v.flags.Set(protocol.FlagFixCloseAp, true)
		}
		if jtag >= 32 {
			v.flags.Set(protocol.FlagHasDpBankSel, true)
		}

	case 3:
		v.JtagAPI = protocol.ApiV3

		v.flags.Set(protocol.FlagHasTrace, true)
		v.flags.Set(protocol.FlagHasTargetVolt, true)
		v.flags.Set(protocol.FlagHasGetLastRwStatus2, true)
		v.flags.Set(protocol.FlagHasDapReg, true)
		v.flags.Set(protocol.FlagHasMem16Bit, true)
		v.flags.Set(protocol.FlagHasApInit, true)
		v.flags.Set(protocol.FlagFixCloseAp, true)

		if jtag >= 2 {
			v.flags.Set(protocol.FlagHasDpBankSel, true)
		}
		if jtag >= 6 {
			v.flags.Set(protocol.FlagHasRw8Bytes512, true)
		}
	}

	return v
}

func (v Version) Has(flag int) bool { return v.flags.Get(flag) }

// MultiApSupported, DPBankSelectionSupported and V3FrequencyAPI are the
// three booleans §3's CapabilityMatrix names directly; they must agree
// with the invariants there even though the underlying flag bitmap
// (§SUPPLEMENTED FEATURES 1) is finer-grained.
func (v Version) MultiApSupported() bool {
	return v.HwVersion >= 3 || v.JtagVersion >= 28
}

func (v Version) DPBankSelectionSupported() bool {
	return (v.HwVersion == 2 && v.JtagVersion >= 32) || v.HwVersion >= 3
}

func (v Version) V3FrequencyAPI() bool {
	return v.HwVersion >= 3
}

func (v Version) String() string {
	s := "V" + strconv.Itoa(v.HwVersion)
	if v.JtagVersion > 0 || v.MsdVersion != 0 {
		s += "J" + strconv.Itoa(v.JtagVersion)
	}
	if v.MsdVersion > 0 {
		s += "M" + strconv.Itoa(v.MsdVersion)
	}
	return s
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package protocol

import "github.com/stlinkcore/gostlink/internal/errs"

// MemoryCommand packs the 9-byte command header used by every
// JTAG_READMEM_*/JTAG_WRITEMEM_* operation: [JTAG_COMMAND, cmd,
// addr_le(4), len_le(2), apsel] (§4.2).
func MemoryCommand(cmd byte, addr uint32, length uint16, apsel uint8) [9]byte {
	var out [9]byte
	out[0] = JtagCommand
	out[1] = cmd
	PutUint32LE(out[2:6], addr)
	PutUint16LE(out[6:8], length)
	out[8] = apsel
	return out
}

// ParsedVersion is the result of decoding a GET_VERSION (and, for hw>=3,
// the follow-up GET_VERSION_EXT) reply.
type ParsedVersion struct {
	HwVersion   int
	JtagVersion int
	SwimVersion int
	MsdVersion  int
	BridgeVersion int
	VID         uint16
	PID         uint16
}

// ParseVersion decodes the first 6 bytes of a GET_VERSION reply. The
// version word itself is big-endian (§4.2, the one exception to the
// otherwise little-endian wire format); vid/pid that follow are
// little-endian. pid selects how the x/y nibbles are assigned, mirroring
// the V2.1 boards' swapped msd/jtag/swim layout.
func ParseVersion(reply []byte) ParsedVersion {
	word := ToUint16(reply[:2], BigEndian)

	hw := int((word >> 12) & 0x0f)
	x := int((word >> 6) & 0x3f)
	y := int(word & 0x3f)

	vid := ToUint16(reply[2:4], LittleEndian)
	pid := ToUint16(reply[4:6], LittleEndian)

	var jtag, msd, swim int

	switch pid {
	case StLinkV21Pid, StLinkV21NoMsdPid:
		if (x <= 22 && y == 7) || (x >= 25 && y >= 7 && y <= 12) {
			msd, swim, jtag = x, y, 0
		} else {
			jtag, msd, swim = x, y, 0
		}
	default:
		jtag, msd, swim = x, 0, y
	}

	return ParsedVersion{
		HwVersion:   hw,
		JtagVersion: jtag,
		SwimVersion: swim,
		MsdVersion:  msd,
		VID:         vid,
		PID:         pid,
	}
}

// ParseVersionExt decodes a GET_VERSION_EXT (debugApiV3GetVersionEx)
// reply, which replaces the jtag field derived above for hw>=3 probes
// that report (x=0, y=0) from the legacy GET_VERSION word.
func ParseVersionExt(reply []byte) ParsedVersion {
	return ParsedVersion{
		HwVersion:     int(reply[0]),
		SwimVersion:   int(reply[1]),
		JtagVersion:   int(reply[2]),
		MsdVersion:    int(reply[3]),
		BridgeVersion: int(reply[4]),
		VID:           ToUint16(reply[8:10], LittleEndian),
		PID:           ToUint16(reply[10:12], LittleEndian),
	}
}

// ParseVoltage decodes a GET_TARGET_VOLTAGE reply: two little-endian u32
// ADC words a0, a1; voltage = 2 * a1 * 1.2 / a0 (§4.2, §8 property 8).
func ParseVoltage(reply []byte) (float32, error) {
	a0 := ToUint32(reply[0:4], LittleEndian)
	a1 := ToUint32(reply[4:8], LittleEndian)

	if a0 == 0 {
		return 0, errs.New(errs.KindVoltageDivByZero, "get_target_voltage")
	}

	return 2 * (float32(a1) * (1.2 / float32(a0))), nil
}

// ParsedFrequencies is the result of decoding a v3 GET_COM_FREQ reply:
// 13 little-endian u32 words, word[1] current, word[2] count (clamped to
// V3MaxFreqCount), words[3:3+count] the selectable rates (§4.2).
type ParsedFrequencies struct {
	CurrentKHz uint32
	Rates      []uint32
}

func ParseFrequencies(reply []byte) ParsedFrequencies {
	words := make([]uint32, 13)
	for i := range words {
		words[i] = ToUint32(reply[i*4:i*4+4], LittleEndian)
	}

	count := int(words[2])
	if count > V3MaxFreqCount {
		count = V3MaxFreqCount
	}

	rates := make([]uint32, count)
	copy(rates, words[3:3+count])

	return ParsedFrequencies{CurrentKHz: words[1], Rates: rates}
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package probe

import (
	log "github.com/sirupsen/logrus"

	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

type speedSetting struct {
	khz     uint32
	divisor uint16
}

// swdSpeedTable and jtagSpeedTable are the exact frequency/divisor pairs
// the firmware below hw3 accepts (§4.3.3).
var swdSpeedTable = []speedSetting{
	{4000, 0},
	{1800, 1}, // default
	{1200, 2},
	{950, 3},
	{480, 7},
	{240, 15},
	{125, 31},
	{100, 40},
	{50, 79},
	{25, 158},
	{15, 265},
	{5, 798},
}

var jtagSpeedTable = []speedSetting{
	{9000, 4},
	{4500, 8},
	{2250, 16},
	{1125, 32}, // default
	{562, 64},
	{281, 128},
	{140, 256},
}

// matchSpeed finds the nearest supported setting <= khz, falling back to
// the slowest available setting if none qualifies (§4.3.3).
func matchSpeed(table []speedSetting, khz uint32) (speedSetting, bool) {
	best := -1
	var bestDiff uint32 = ^uint32(0)

	for i, s := range table {
		if khz == s.khz {
			return s, true
		}
		if khz >= s.khz {
			diff := khz - s.khz
			if diff < bestDiff {
				bestDiff, best = diff, i
			}
		}
	}

	if best == -1 {
		// No setting at or below khz; use the slowest we have.
		slowest := table[0]
		for _, s := range table {
			if s.khz < slowest.khz {
				slowest = s
			}
		}
		return slowest, false
	}

	return table[best], true
}

// SetSpeed implements §4.3.3: below hw3, a table lookup against the
// fixed divisor tables; at/above hw3, query the device's own supported
// rate list and pick the maximum rate <= requested.
func (d *Driver) SetSpeed(mode protocol.StLinkMode, khz uint32, query bool) (uint32, error) {
	if d.version.V3FrequencyAPI() {
		return d.setSpeedV3(mode == protocol.ModeDebugJtag, khz, query)
	}

	if mode == protocol.ModeDebugJtag {
		if !d.version.Has(protocol.FlagHasJtagSetFreq) {
			return khz, errs.CommandNotSupported("set_speed(jtag)")
		}

		setting, matched := matchSpeed(jtagSpeedTable, khz)
		if !matched && query {
			return khz, errs.UnsupportedSpeed(khz)
		}

		if !query {
			cmd := []byte{protocol.CmdDebug, protocol.DebugApiV2JtagSetFreq, 0, 0}
			protocol.PutUint16LE(cmd[2:4], setting.divisor)
			reply := make([]byte, 2)

			if err := retryOnWait(func() error {
				if err := d.transport.Write(cmd, nil, reply); err != nil {
					return errs.Wrap(errs.KindUsbIO, "set_speed(jtag)", err)
				}
				return protocol.DecodeStatus("set_speed(jtag)", reply[0])
			}); err != nil {
				return khz, err
			}
			d.jtagKHz = setting.khz
		}

		return setting.khz, nil
	}

	if !d.version.Has(protocol.FlagHasSwdSetFreq) {
		return khz, errs.CommandNotSupported("set_speed")
	}

	setting, matched := matchSpeed(swdSpeedTable, khz)
	if !matched && query {
		return khz, errs.UnsupportedSpeed(khz)
	}

	if !query {
		cmd := []byte{protocol.CmdDebug, protocol.DebugApiV2SwdSetFreq, 0, 0}
		protocol.PutUint16LE(cmd[2:4], setting.divisor)
		reply := make([]byte, 2)

		if err := retryOnWait(func() error {
			if err := d.transport.Write(cmd, nil, reply); err != nil {
				return errs.Wrap(errs.KindUsbIO, "set_speed", err)
			}
			return protocol.DecodeStatus("set_speed", reply[0])
		}); err != nil {
			return khz, err
		}
		d.swdKHz = setting.khz
	}

	return setting.khz, nil
}

func (d *Driver) setSpeedV3(isJtag bool, khz uint32, query bool) (uint32, error) {
	rates, err := d.comFreqList(isJtag)
	if err != nil {
		return khz, err
	}

	var best uint32
	matched := false
	for _, r := range rates {
		if khz >= r && r > best {
			best, matched = r, true
		}
	}
	if !matched {
		if len(rates) == 0 {
			return khz, errs.UnsupportedSpeed(khz)
		}
		best = rates[len(rates)-1]
		for _, r := range rates {
			if r < best {
				best = r
			}
		}
	}

	if !query {
		cmd := make([]byte, 8)
		cmd[0] = protocol.CmdDebug
		cmd[1] = protocol.DebugApiV3SetComFreq
		cmd[2] = boolByte(isJtag)
		protocol.PutUint32LE(cmd[4:8], best)
		reply := make([]byte, 8)

		if err := retryOnWait(func() error {
			if err := d.transport.Write(cmd, nil, reply); err != nil {
				return errs.Wrap(errs.KindUsbIO, "set_speed_v3", err)
			}
			return protocol.DecodeStatus("set_speed_v3", reply[0])
		}); err != nil {
			return khz, err
		}

		if isJtag {
			d.jtagKHz = best
		} else {
			d.swdKHz = best
		}
	}

	log.Debugf("v3 speed selection: requested %d kHz, applying %d kHz", khz, best)
	return best, nil
}

func (d *Driver) currentComFreq(isJtag bool) (uint32, error) {
	rates, err := d.comFreqList(isJtag)
	if err != nil || len(rates) == 0 {
		return 0, err
	}
	return rates[0], nil
}

// comFreqList queries GET_COM_FREQ and returns the current rate followed
// by the device's selectable rates (§4.2 frequency parse).
func (d *Driver) comFreqList(isJtag bool) ([]uint32, error) {
	if !d.version.V3FrequencyAPI() {
		return nil, errs.CommandNotSupported("get_com_freq")
	}

	cmd := []byte{protocol.CmdDebug, protocol.DebugApiV3GetComFreq, boolByte(isJtag)}
	reply := make([]byte, 52)

	if err := d.transport.Write(cmd, nil, reply); err != nil {
		return nil, errs.Wrap(errs.KindUsbIO, "get_com_freq", err)
	}
	if err := protocol.DecodeStatus("get_com_freq", reply[0]); err != nil {
		return nil, err
	}

	parsed := protocol.ParseFrequencies(reply)
	out := append([]uint32{parsed.CurrentKHz}, parsed.Rates...)
	return out, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

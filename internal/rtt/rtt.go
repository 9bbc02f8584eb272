// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// Package rtt implements a minimal Segger RTT consumer (§SUPPLEMENTED
// FEATURES 4): locate the "SEGGER RTT" control block inside a RAM scan
// region, parse its up/down channel descriptors, and drain up-channel
// data into a callback. This is the narrow plumbing PollLoop's step 3
// needs - not a reimplementation of the out-of-scope DAP server or
// chip database.
//
// Based on https://github.com/phryniszak/strtt, as adapted by the
// probe's own RTT reader.
package rtt

import (
	"bytes"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/stlinkcore/gostlink/internal/protocol"
)

// MemoryAccess is the narrow surface Connection needs from an
// arm.MemoryInterfaceView: bulk 32-bit reads/writes over the target's
// RAM.
type MemoryAccess interface {
	Read32(addr uint32, data []byte) error
	Write32(addr uint32, data []byte) error
}

// DataCallback receives one up-channel's newly available bytes.
type DataCallback func(channel int, data []byte) error

const (
	controlBlockIDSize = 16
	channelDescSize    = 24
)

type channel struct {
	namePtr  uint32
	buffer   uint32
	size     uint32
	wrOff    uint32
	rdOff    uint32
	flags    uint32
	rdOffAddr uint32
}

// Connection tracks one discovered RTT control block and its channel
// set, bound to a MemoryAccess for all its target reads/writes.
type Connection struct {
	mem MemoryAccess

	ramStart uint32
	offset   uint32

	maxUp, maxDown uint32
	channels       []channel
}

// New wraps mem; call Attach before Pump.
func New(mem MemoryAccess) *Connection {
	return &Connection{mem: mem}
}

// Attach scans [start, start+size) for the "SEGGER RTT" magic, parses
// the control block header, and primes the channel table (§SUPPLEMENTED
// FEATURES 4).
func (c *Connection) Attach(start, size uint32) error {
	c.ramStart = start

	scan := make([]byte, size)
	if err := c.readChunked(start, scan); err != nil {
		return err
	}

	idx := bytes.Index(scan, []byte("SEGGER RTT"))
	if idx == -1 {
		return errors.New("rtt: control block not found in scan region")
	}
	c.offset = uint32(idx)

	header := scan[idx:]
	c.maxUp = protocol.ToUint32(header[controlBlockIDSize:controlBlockIDSize+4], protocol.LittleEndian)
	c.maxDown = protocol.ToUint32(header[controlBlockIDSize+4:controlBlockIDSize+8], protocol.LittleEndian)

	if c.maxUp == 0 && c.maxDown == 0 {
		return errors.New("rtt: control block has no channels")
	}

	log.Infof("rtt: control block found at 0x%08x (%d up, %d down channels)", c.ramStart+c.offset, c.maxUp, c.maxDown)

	c.channels = make([]channel, c.maxUp+c.maxDown)
	return c.refreshChannels()
}

func (c *Connection) refreshChannels() error {
	total := c.maxUp + c.maxDown
	buf := make([]byte, total*channelDescSize)
	base := c.ramStart + c.offset + controlBlockIDSize + 8

	if err := c.readChunked(base, buf); err != nil {
		return err
	}

	for i := uint32(0); i < total; i++ {
		off := i * channelDescSize
		ch := channel{
			namePtr: protocol.ToUint32(buf[off:off+4], protocol.LittleEndian),
			buffer:  protocol.ToUint32(buf[off+4:off+8], protocol.LittleEndian),
			size:    protocol.ToUint32(buf[off+8:off+12], protocol.LittleEndian),
			wrOff:   protocol.ToUint32(buf[off+12:off+16], protocol.LittleEndian),
			rdOff:   protocol.ToUint32(buf[off+16:off+20], protocol.LittleEndian),
			flags:   protocol.ToUint32(buf[off+20:off+24], protocol.LittleEndian),
		}
		ch.rdOffAddr = base + off + 16
		c.channels[i] = ch
	}
	return nil
}

// Pump drains every up-channel with pending data into cb, returning the
// total byte count moved (0 means no data flowed this tick).
func (c *Connection) Pump(cb DataCallback) (int, error) {
	if err := c.refreshChannels(); err != nil {
		return 0, err
	}

	total := 0
	for i := uint32(0); i < c.maxUp; i++ {
		ch := &c.channels[i]
		if ch.size == 0 || ch.rdOff == ch.wrOff {
			continue
		}

		data, err := c.drain(ch)
		if err != nil {
			return total, err
		}
		if len(data) == 0 {
			continue
		}
		if err := cb(int(i), data); err != nil {
			return total, err
		}
		total += len(data)
	}
	return total, nil
}

// drain copies bytes out of ch's ring buffer from rdOff up to wrOff,
// wrapping at size, then writes the new rdOff back so the target knows
// the space has been consumed.
func (c *Connection) drain(ch *channel) ([]byte, error) {
	bufBytes := make([]byte, ch.size)
	if err := c.readChunked(ch.buffer, bufBytes); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	rd := ch.rdOff
	for rd != ch.wrOff {
		out.WriteByte(bufBytes[rd])
		rd++
		if rd >= ch.size {
			rd = 0
		}
	}

	if out.Len() > 0 {
		wrBack := make([]byte, 4)
		wrBack[0] = byte(rd)
		wrBack[1] = byte(rd >> 8)
		wrBack[2] = byte(rd >> 16)
		wrBack[3] = byte(rd >> 24)
		if err := c.mem.Write32(ch.rdOffAddr, wrBack); err != nil {
			return nil, err
		}
		ch.rdOff = rd
	}

	return out.Bytes(), nil
}

// readChunked reads n bytes starting at addr in 32-bit-aligned pieces,
// padding the final partial word - MemoryAccess only guarantees 32-bit
// granularity.
func (c *Connection) readChunked(addr uint32, out []byte) error {
	pos := 0
	for pos < len(out) {
		remaining := len(out) - pos
		if remaining >= 4 {
			if err := c.mem.Read32(addr+uint32(pos), out[pos:pos+4]); err != nil {
				return err
			}
			pos += 4
			continue
		}

		word := make([]byte, 4)
		if err := c.mem.Read32(addr+uint32(pos), word); err != nil {
			return err
		}
		copy(out[pos:], word[:remaining])
		pos += remaining
	}
	return nil
}

// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"math"

	log "github.com/sirupsen/logrus"
)

// Buffer is a small bytes.Buffer wrapper with endian-aware integer
// accessors, used to build command frames and parse replies.
type Buffer struct {
	bytes.Buffer
}

type Endian uint8

const (
	LittleEndian Endian = 0
	BigEndian    Endian = 1
)

func (e Endian) String() string {
	if e == LittleEndian {
		return "little endian"
	}
	return "big endian"
}

func NewBuffer(initSize int) *Buffer {
	b := &Buffer{}
	b.Grow(initSize)
	return b
}

func (buf *Buffer) WriteUint32LE(value uint32) {
	buf.WriteByte(byte(value))
	buf.WriteByte(byte(value >> 8))
	buf.WriteByte(byte(value >> 16))
	buf.WriteByte(byte(value >> 24))
}

func (buf *Buffer) WriteUint16LE(value uint16) {
	buf.WriteByte(byte(value))
	buf.WriteByte(byte(value >> 8))
}

func (buf *Buffer) ReadUint16BE() uint16 { return ToUint16(buf.Bytes(), BigEndian) }
func (buf *Buffer) ReadUint16LE() uint16 { return ToUint16(buf.Bytes(), LittleEndian) }
func (buf *Buffer) ReadUint32BE() uint32 { return ToUint32(buf.Bytes(), BigEndian) }
func (buf *Buffer) ReadUint32LE() uint32 { return ToUint32(buf.Bytes(), LittleEndian) }

// ToUint16 and ToUint32 decode a little/big-endian integer from the head
// of buf. They return the corresponding max-value sentinel (and log) if
// buf is too short, mirroring the teacher's defensive parse helpers.
func ToUint16(buf []byte, e Endian) uint16 {
	if len(buf) > 1 {
		if e == LittleEndian {
			return uint16(buf[0]) | (uint16(buf[1]) << 8)
		}
		return uint16(buf[1]) | (uint16(buf[0]) << 8)
	}
	log.Errorf("could not read uint16 %s from given buffer", e.String())
	return math.MaxUint16
}

func ToUint32(buf []byte, e Endian) uint32 {
	if len(buf) > 3 {
		if e == LittleEndian {
			return uint32(buf[0]) | (uint32(buf[1]) << 8) | (uint32(buf[2]) << 16) | (uint32(buf[3]) << 24)
		}
		return uint32(buf[3]) | (uint32(buf[2]) << 8) | (uint32(buf[1]) << 16) | (uint32(buf[0]) << 24)
	}
	log.Errorf("could not read uint32 %s from given buffer", e.String())
	return math.MaxUint32
}

// PutUint32LE/PutUint16LE write directly into a slice at offset 0,
// used by the command packers below where growing a Buffer would be
// overkill for a fixed-size frame.
func PutUint32LE(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

func PutUint16LE(dst []byte, v uint16) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
}

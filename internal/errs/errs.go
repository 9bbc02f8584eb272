// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// Package errs collects the error kinds the probe-driver core can return.
// Every probe/arm/session operation returns one of these rather than a
// bare string, so a log consumer can reconstruct operation, address,
// length and apsel from the error alone.
package errs

import "fmt"

// Kind identifies one of the error categories from the probe-driver
// taxonomy. Comparisons should go through errors.Is / Kind(), not string
// matching.
type Kind int

const (
	KindUnknown Kind = iota

	// Transport
	KindUsbIO
	KindShortWrite
	KindEndpointNotFound

	// Protocol
	KindCommandFailed
	KindWaitDP // retryable: SwdDpWait
	KindWaitAP // retryable: SwdApWait

	// Capability
	KindCommandNotSupported
	KindFirmwareOutdated
	KindJTAGNotSupported
	KindManchesterNotSupported
	KindMultidropNotSupported
	KindBanksNotAllowed
	KindNotImplemented

	// Argument
	KindUnalignedAddress
	KindUnsupportedSpeed
	KindUnknownMode
	KindVoltageDivByZero

	// Higher level
	KindCoreNotFound
	KindCoreDisabled
	KindChipNotFound
	KindMissingPermissions
	KindReAttachRequired // caught internally at the session layer, never surfaced
)

func (k Kind) String() string {
	switch k {
	case KindUsbIO:
		return "usb-io"
	case KindShortWrite:
		return "short-write"
	case KindEndpointNotFound:
		return "endpoint-not-found"
	case KindCommandFailed:
		return "command-failed"
	case KindWaitDP:
		return "swd-dp-wait"
	case KindWaitAP:
		return "swd-ap-wait"
	case KindCommandNotSupported:
		return "command-not-supported"
	case KindFirmwareOutdated:
		return "firmware-outdated"
	case KindJTAGNotSupported:
		return "jtag-not-supported"
	case KindManchesterNotSupported:
		return "manchester-not-supported"
	case KindMultidropNotSupported:
		return "multidrop-not-supported"
	case KindBanksNotAllowed:
		return "banks-not-allowed"
	case KindNotImplemented:
		return "not-implemented"
	case KindUnalignedAddress:
		return "unaligned-address"
	case KindUnsupportedSpeed:
		return "unsupported-speed"
	case KindUnknownMode:
		return "unknown-mode"
	case KindVoltageDivByZero:
		return "voltage-division-by-zero"
	case KindCoreNotFound:
		return "core-not-found"
	case KindCoreDisabled:
		return "core-disabled"
	case KindChipNotFound:
		return "chip-not-found"
	case KindMissingPermissions:
		return "missing-permissions"
	case KindReAttachRequired:
		return "reattach-required"
	default:
		return "unknown"
	}
}

// ProbeError is the concrete error type every component in this module
// returns. It carries the minimal structured context (§7) a caller needs
// to reproduce a failure without re-parsing a message string.
type ProbeError struct {
	kind        Kind
	Op          string // operation name, e.g. "read_mem_32bit"
	Addr        uint32
	HasAddr     bool
	Length      uint32
	HasLen      bool
	Apsel       uint8
	HasAp       bool
	MinVer      int // for FirmwareOutdated
	ActualBytes int // for ShortWrite: bytes actually written ("is")
	WantBytes   int // for ShortWrite: bytes requested ("should")
	HasIsShould bool
	Name        string
	wrapped     error
}

func (e *ProbeError) Kind() Kind { return e.kind }

func (e *ProbeError) Error() string {
	msg := e.kind.String()
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Name != "" {
		msg += fmt.Sprintf(" (%s)", e.Name)
	}
	if e.HasAddr {
		msg += fmt.Sprintf(" addr=0x%08x", e.Addr)
	}
	if e.HasLen {
		msg += fmt.Sprintf(" len=%d", e.Length)
	}
	if e.HasIsShould {
		msg += fmt.Sprintf(" is=%d should=%d", e.ActualBytes, e.WantBytes)
	}
	if e.HasAp {
		msg += fmt.Sprintf(" apsel=%d", e.Apsel)
	}
	if e.kind == KindFirmwareOutdated && e.MinVer > 0 {
		msg += fmt.Sprintf(" min_version=%d", e.MinVer)
	}
	if e.wrapped != nil {
		msg += ": " + e.wrapped.Error()
	}
	return msg
}

func (e *ProbeError) Unwrap() error { return e.wrapped }

// Is supports errors.Is(err, errs.New(sameKind)) comparisons.
func (e *ProbeError) Is(target error) bool {
	other, ok := target.(*ProbeError)
	if !ok {
		return false
	}
	return other.kind == e.kind
}

// New builds a bare ProbeError of the given kind, annotated with op.
func New(kind Kind, op string) *ProbeError {
	return &ProbeError{kind: kind, Op: op}
}

func Wrap(kind Kind, op string, err error) *ProbeError {
	return &ProbeError{kind: kind, Op: op, wrapped: err}
}

func (e *ProbeError) WithAddr(addr uint32) *ProbeError {
	e.Addr, e.HasAddr = addr, true
	return e
}

func (e *ProbeError) WithLength(length uint32) *ProbeError {
	e.Length, e.HasLen = length, true
	return e
}

func (e *ProbeError) WithAp(apsel uint8) *ProbeError {
	e.Apsel, e.HasAp = apsel, true
	return e
}

func (e *ProbeError) WithName(name string) *ProbeError {
	e.Name = name
	return e
}

func (e *ProbeError) WithMinVersion(v int) *ProbeError {
	e.MinVer = v
	return e
}

// Convenience constructors for the named errors in §7.

func CommandNotSupported(name string) *ProbeError {
	return New(KindCommandNotSupported, "").WithName(name)
}

func FirmwareOutdated(op string, minVersion int) *ProbeError {
	return New(KindFirmwareOutdated, op).WithMinVersion(minVersion)
}

func UnalignedAddress(op string, addr uint32) *ProbeError {
	return New(KindUnalignedAddress, op).WithAddr(addr)
}

// NotEnoughBytesWritten reports a short bulk write: is is the number of
// bytes the transport actually wrote, should the number requested (§4.1).
func NotEnoughBytesWritten(op string, is, should int) *ProbeError {
	e := New(KindShortWrite, op)
	e.ActualBytes, e.WantBytes, e.HasIsShould = is, should, true
	return e
}

func UnsupportedSpeed(khz uint32) *ProbeError {
	return New(KindUnsupportedSpeed, "set_speed").WithLength(khz)
}

func CoreDisabled(i int) *ProbeError {
	return New(KindCoreDisabled, "core").WithLength(uint32(i))
}

func CoreNotFound(i int) *ProbeError {
	return New(KindCoreNotFound, "core").WithLength(uint32(i))
}

func ReAttachRequired(op string) *ProbeError {
	return New(KindReAttachRequired, op)
}

func MissingPermissions(name string) *ProbeError {
	return New(KindMissingPermissions, "").WithName(name)
}

func ChipNotFound(name string) *ProbeError {
	return New(KindChipNotFound, "").WithName(name)
}

// IsWaitError reports whether err is one of the two retryable protocol
// wait statuses (SwdDpWait / SwdApWait). Property 4 / §4.3.7.
func IsWaitError(err error) bool {
	pe, ok := err.(*ProbeError)
	if !ok {
		return false
	}
	return pe.kind == KindWaitDP || pe.kind == KindWaitAP
}

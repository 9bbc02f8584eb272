// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this code is mainly inspired and based on the openocd project source code
// for detailed information see
//
// https://sourceforge.net/p/openocd/code

// Package transport implements UsbTransport (§4.1): framed bulk-endpoint
// read/write over a single ST-Link USB device handle, plus the SWO side
// channel. It carries no retry policy and no protocol knowledge - both
// live one layer up, in probe.Driver.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
	log "github.com/sirupsen/logrus"

	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

const AllSupportedVIDs = 0xFFFF
const AllSupportedPIDs = 0xFFFF

var supportedVIDs = []gousb.ID{0x0483} // STMicroelectronics vendor id
var supportedPIDs = []gousb.ID{
	0x3744, 0x3748, 0x374b, 0x374d, 0x374e, 0x374f, 0x3752, 0x3753,
}

var writeTimeout = 1000 * time.Millisecond
var readTimeout = 50 * time.Millisecond

// Selector picks a specific probe among those attached, mirroring the
// teacher's StLinkInterfaceConfig device-matching fields.
type Selector struct {
	VID    gousb.ID
	PID    gousb.ID
	Serial string
}

// Transport owns the single USB device handle the whole session is
// serialised through (§5 Concurrency & Resource Model: the USB device
// is owned by exactly one ProbeHandle).
type Transport struct {
	ctx *gousb.Context

	device    *gousb.Device
	config    *gousb.Config
	iface     *gousb.Interface

	rxEndpoint    *gousb.InEndpoint
	txEndpoint    *gousb.OutEndpoint
	traceEndpoint *gousb.InEndpoint

	VID gousb.ID
	PID gousb.ID
}

// NewContext creates the shared libusb context a process needs before
// opening any Transport. Call Close on it once, at process shutdown.
func NewContext() *gousb.Context {
	ctx := gousb.NewContext()
	ctx.Debug(3)
	return ctx
}

func findDevices(ctx *gousb.Context, vids, pids []gousb.ID) ([]*gousb.Device, error) {
	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if idIn(vids, desc.Vendor) && idIn(pids, desc.Product) {
			log.Debugf("inspect usb device [%04x:%04x] on bus %03d:%03d...",
				uint16(desc.Vendor), uint16(desc.Product), desc.Bus, desc.Address)
			return true
		}
		return false
	})

	// OpenDevices' error lacks enough context to know which candidate
	// device failed; as long as we matched at least one device the scan
	// itself succeeded.
	if len(devices) > 0 {
		return devices, nil
	}
	return nil, err
}

func idIn(ids []gousb.ID, id gousb.ID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Open locates, claims, and configures the matching ST-Link USB device.
// It deliberately stops short of version negotiation - that is
// probe.Driver's job, layered on top of the raw transport.
func Open(ctx *gousb.Context, sel Selector) (*Transport, error) {
	var devices []*gousb.Device
	var err error

	vids := []gousb.ID{sel.VID}
	if sel.VID == AllSupportedVIDs {
		vids = supportedVIDs
	}
	pids := []gousb.ID{sel.PID}
	if sel.PID == AllSupportedPIDs {
		pids = supportedPIDs
	}

	devices, err = findDevices(ctx, vids, pids)
	if len(devices) == 0 {
		if err != nil {
			return nil, fmt.Errorf("could not find any ST-Link connected to computer: %w", err)
		}
		return nil, errors.New("could not find any ST-Link connected to computer")
	}

	var picked *gousb.Device

	if sel.Serial == "" {
		if len(devices) > 1 {
			for _, d := range devices {
				d.Close()
			}
			return nil, errors.New("could not identify exact st-link by given parameters (perhaps a serial number is missing?)")
		}
		picked = devices[0]
	} else {
		for _, d := range devices {
			serial, _ := d.SerialNumber()
			if serial == sel.Serial {
				picked = d
			} else {
				d.Close()
			}
		}
		if picked == nil {
			return nil, fmt.Errorf("no attached st-link matches serial number %q", sel.Serial)
		}
	}

	t := &Transport{ctx: ctx, device: picked}
	t.device.SetAutoDetach(true)

	if uint16(picked.Desc.Product) == protocol.StLinkV1Pid {
		picked.Close()
		return nil, errors.New("st-link V1 api is not supported")
	}

	t.config, err = picked.Config(1)
	if err != nil {
		picked.Close()
		return nil, fmt.Errorf("could not request configuration #1 for st-link debugger: %w", err)
	}

	t.iface, err = t.config.Interface(0, 0)
	if err != nil {
		t.config.Close()
		picked.Close()
		return nil, fmt.Errorf("could not claim interface 0,0 for st-link debugger: %w", err)
	}

	t.rxEndpoint, err = t.iface.InEndpoint(protocol.RxEndpointNo)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("could not get rx endpoint: %w", err)
	}

	switch uint16(picked.Desc.Product) {
	case protocol.StLinkV3UsbLoaderPid, protocol.StLinkV3EPid, protocol.StLinkV3SPid, protocol.StLinkV32VcpPid,
		protocol.StLinkV21Pid, protocol.StLinkV21NoMsdPid:
		t.txEndpoint, err = t.iface.OutEndpoint(protocol.TxEndpointApi2v1)
		if err == nil {
			t.traceEndpoint, err = t.iface.InEndpoint(protocol.TraceEndpointApi2v1)
		}
	default:
		log.Infof("unknown product id %04x, assuming standard V2 endpoint layout", uint16(picked.Desc.Product))
		t.txEndpoint, err = t.iface.OutEndpoint(protocol.TxEndpointNo)
		if err == nil {
			t.traceEndpoint, err = t.iface.InEndpoint(protocol.TraceEndpointNo)
		}
	}
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("could not get tx/trace endpoint: %w", err)
	}

	t.VID = gousb.ID(uint16(picked.Desc.Vendor))
	t.PID = gousb.ID(uint16(picked.Desc.Product))

	return t, nil
}

// Close releases the interface, configuration and device in that order.
// Idempotent: a nil device means an already-closed (or never-opened)
// transport.
func (t *Transport) Close() {
	if t.device == nil {
		return
	}
	if t.iface != nil {
		t.iface.Close()
	}
	if t.config != nil {
		t.config.Close()
	}
	t.device.Close()
	t.device = nil
}

// Reset issues a device-level USB reset, used once during init to
// recover a stuck probe (§4.1).
func (t *Transport) Reset() error {
	return t.device.Reset()
}

// Write transmits cmd as the command frame, then depending on endpoint
// transfers writePayload out or reads len(readBuf) bytes in. Exactly one
// of writePayload/readBuf should be non-empty for a given call, matching
// ProbeDriver's usage (§4.1).
func (t *Transport) Write(cmd []byte, writePayload []byte, readBuf []byte) error {
	n, err := t.write(t.txEndpoint, cmd)
	if err != nil {
		return err
	}
	if n != len(cmd) {
		return errs.NotEnoughBytesWritten("write(cmd)", n, len(cmd))
	}

	if len(writePayload) > 0 {
		time.Sleep(10 * time.Millisecond)
		n, err := t.write(t.txEndpoint, writePayload)
		if err != nil {
			return err
		}
		if n != len(writePayload) {
			return errs.NotEnoughBytesWritten("write(payload)", n, len(writePayload))
		}
		return nil
	}

	if len(readBuf) > 0 {
		_, err := t.read(t.rxEndpoint, readBuf)
		return err
	}

	return nil
}

// ReadSWO reads from the dedicated trace endpoint. The caller is
// expected to have already polled available byte count (§4.3.8); this
// call performs no polling of its own.
func (t *Transport) ReadSWO(buf []byte, timeout time.Duration) (int, error) {
	opCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := t.traceEndpoint.ReadContext(opCtx, buf)
	if err != nil {
		return 0, err
	}
	log.Debugf("EP-%d -> %d SWO bytes", t.traceEndpoint.Desc.Number, n)
	return n, nil
}

func (t *Transport) write(ep *gousb.OutEndpoint, buf []byte) (int, error) {
	opCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	n, err := ep.WriteContext(opCtx, buf)
	if err != nil {
		return 0, err
	}
	log.Tracef("%d Bytes -> EP-%d", n, ep.Desc.Number)
	return n, nil
}

func (t *Transport) read(ep *gousb.InEndpoint, buf []byte) (int, error) {
	opCtx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	n, err := ep.ReadContext(opCtx, buf)
	if err != nil {
		return 0, err
	}
	log.Tracef("EP-%d -> %d Bytes", ep.Desc.Number, n)
	return n, nil
}

// SerialNumber reports the attached device's USB serial string, used
// for logging only.
func (t *Transport) SerialNumber() string {
	s, _ := t.device.SerialNumber()
	return s
}

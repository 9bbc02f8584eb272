// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// Command gostlink-rtt attaches to a target under an ST-Link, opens the
// first configured core's RTT up channel, and streams it to stdout
// until interrupted - the same shape as the teacher's rttLogger and
// stRttLogger tools, rebuilt over SessionOrchestrator/PollLoop instead
// of talking to the probe directly.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/stlinkcore/gostlink/internal/chipinfo"
	"github.com/stlinkcore/gostlink/internal/pollloop"
	"github.com/stlinkcore/gostlink/internal/probe"
	"github.com/stlinkcore/gostlink/internal/protocol"
	"github.com/stlinkcore/gostlink/internal/session"
	"github.com/stlinkcore/gostlink/internal/transport"
)

func rttDataHandler(channel int, data []byte) error {
	if channel != 0 {
		return nil
	}
	_, err := os.Stdout.Write(data)
	return err
}

func main() {
	flagDevice := flag.String("Device", "", "Chip name used to size the default RTT scan window, e.g. STM32F103RB")
	flagSpeed := flag.Int("Speed", 1800, "SWD speed in kHz")
	flagSerial := flag.String("serial", "", "Serial number of a specific ST-Link to open")
	flagRTTAddress := flag.Uint("RTTAddress", 0, "Exact RTT control block address; overrides the chip's scan window when non-zero")
	flagRTTSearchSize := flag.Uint("RTTSearchSize", 0, "Override the scan window size in bytes")
	flagPollInterval := flag.Duration("PollInterval", 20*time.Millisecond, "Delay between poll ticks when idle")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&prefixed.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(os.Stderr)

	ctx := transport.NewContext()
	defer ctx.Close()

	t, err := transport.Open(ctx, transport.Selector{
		VID:    transport.AllSupportedVIDs,
		PID:    transport.AllSupportedPIDs,
		Serial: *flagSerial,
	})
	if err != nil {
		logger.Fatalf("could not open probe: %v", err)
	}
	defer t.Close()

	driver := probe.New(t)
	if err := driver.Init(); err != nil {
		logger.Fatalf("probe init failed: %v", err)
	}
	if err := driver.Attach(protocol.ModeDebugSwd); err != nil {
		logger.Fatalf("attach failed: %v", err)
	}
	if _, err := driver.SetSpeed(protocol.ModeDebugSwd, uint32(*flagSpeed), false); err != nil {
		logger.Warnf("could not set speed to %d kHz: %v", *flagSpeed, err)
	}
	defer driver.Close()

	target := session.Target{
		Name:  *flagDevice,
		Cores: []session.CoreType{{Architecture: session.ArchArm, Apsel: 0}},
	}

	orch, err := session.Open(driver, target, session.AttachNormal)
	if err != nil {
		logger.Fatalf("session open failed: %v", err)
	}
	defer orch.Close()

	scan := chipinfo.ScanRegion(*flagDevice)
	start := scan.Start
	size := scan.Size
	if *flagRTTAddress != 0 {
		start = uint32(*flagRTTAddress)
		size = 1024
	}
	if *flagRTTSearchSize != 0 {
		size = uint32(*flagRTTSearchSize)
	}

	loop := pollloop.New(orch, len(target.Cores),
		pollloop.WithRTTScanRegion(nil, start, size),
		pollloop.WithRTTDataHandler(rttDataHandler),
	)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	logger.Infof("streaming RTT channel 0 from %s (scan 0x%08x..0x%08x), Ctrl-C to stop", *flagDevice, start, start+size)

	for {
		select {
		case <-sigc:
			logger.Info("shutting down")
			return
		default:
		}

		_, suggestDelay := loop.Tick()
		if suggestDelay {
			time.Sleep(*flagPollInterval)
		}
	}
}

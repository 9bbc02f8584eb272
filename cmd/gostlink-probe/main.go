// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// Command gostlink-probe attaches to a connected ST-Link, prints its
// firmware version, mode and IDCODE, and lists the discovered APs,
// colorizing the status line the way the teacher's rttLogger family of
// tools colorizes theirs.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mgutz/ansi"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/stlinkcore/gostlink/internal/arm"
	"github.com/stlinkcore/gostlink/internal/probe"
	"github.com/stlinkcore/gostlink/internal/protocol"
	"github.com/stlinkcore/gostlink/internal/transport"
)

func initLogger(level int) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&prefixed.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
		ForceFormatting: true,
	})
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.Level(level))
	return logger
}

func main() {
	flagSerial := flag.String("serial", "", "Serial number of a specific ST-Link to open")
	flagSpeed := flag.Int("speed", 1800, "Initial SWD/JTAG speed in kHz")
	flagJtag := flag.Bool("jtag", false, "Attach with JTAG instead of SWD")
	flagLogLevel := flag.Int("log-level", int(logrus.InfoLevel), "Logging verbosity [0-6]")
	flag.Parse()

	logger := initLogger(*flagLogLevel)
	logrus.SetFormatter(logger.Formatter)
	logrus.SetLevel(logger.Level)
	logrus.SetOutput(logger.Out)

	ctx := transport.NewContext()
	defer ctx.Close()

	sel := transport.Selector{VID: transport.AllSupportedVIDs, PID: transport.AllSupportedPIDs, Serial: *flagSerial}
	t, err := transport.Open(ctx, sel)
	if err != nil {
		logger.Fatalf("could not open probe: %v", err)
	}
	defer t.Close()

	driver := probe.New(t)
	if err := driver.Init(); err != nil {
		logger.Fatalf("probe init failed: %v", err)
	}

	mode := protocol.ModeDebugSwd
	if *flagJtag {
		mode = protocol.ModeDebugJtag
	}
	if err := driver.Attach(mode); err != nil {
		logger.Fatalf("attach failed: %v", err)
	}

	if _, err := driver.SetSpeed(mode, uint32(*flagSpeed), false); err != nil {
		logger.Warnf("could not set speed to %d kHz: %v", *flagSpeed, err)
	}

	dap := arm.New(driver)
	if err := dap.SelectDebugPort(arm.DefaultDP); err != nil {
		logger.Fatalf("select_debug_port failed: %v", err)
	}

	idcode, err := driver.GetIDCode()
	if err != nil {
		logger.Warnf("could not read IDCODE: %v", err)
	}

	fmt.Println(ansi.Color(fmt.Sprintf("ST-Link firmware %s", driver.Version().String()), "green+b"))
	fmt.Println(ansi.Color(fmt.Sprintf("mode=%d idcode=0x%08x", driver.Mode(), idcode), "cyan"))

	for _, ap := range dap.AccessPorts() {
		fmt.Println(ansi.Color(fmt.Sprintf("  AP%d (dp=%d v1)", ap.Apsel, ap.DP), "yellow"))
	}
}

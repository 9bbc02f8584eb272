// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package pollloop

import (
	log "github.com/sirupsen/logrus"

	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/rtt"
	"github.com/stlinkcore/gostlink/internal/session"
)

// semihostingBkptEncoding is the Thumb BKPT #0xAB instruction ARM's
// semihosting convention reserves (halfword 0xBEAB, little-endian bytes).
const semihostingBkptEncoding = 0xBEAB

// SemihostingHandler services one semihosting request. It returns true
// if it resumed the core itself (e.g. SYS_EXIT); false leaves the core
// halted for the caller to inspect.
type SemihostingHandler func(core *session.Core, cmd uint32, paramBlock uint32) (resumed bool, err error)

// DebugInfo rebuilds stack frames and the static-scope cache for a core
// that just transitioned from running to halted. Nil is a valid,
// no-op DebugInfo - full call-stack unwinding needs debug info this
// core does not parse (ELF parsing beyond an RTT symbol address is a
// documented Non-goal, §1).
type DebugInfo interface {
	RebuildStackFrames(core *session.Core) error
}

type coreState struct {
	index      int
	rtt        *rtt.Connection
	rttEnabled bool
	lastStatus CoreStatus
}

// Loop is PollLoop (§4.6): it owns one coreState per configured core
// plus the shared RTT scan inputs and semihosting/debug-info hooks.
type Loop struct {
	session *session.Orchestrator

	cores []*coreState

	programBinary []byte
	scanStart     uint32
	scanSize      uint32

	onSemihosting SemihostingHandler
	debugInfo     DebugInfo
	onRttData     rtt.DataCallback

	allCoresHalted bool
}

// AllCoresHalted reports whether every core sampled Running=false on
// the most recent Tick (§4.6 step 5).
func (l *Loop) AllCoresHalted() bool { return l.allCoresHalted }

// Option configures a Loop at construction time.
type Option func(*Loop)

// WithSemihostingHandler installs the dispatch callback for step 4.
func WithSemihostingHandler(h SemihostingHandler) Option {
	return func(l *Loop) { l.onSemihosting = h }
}

// WithDebugInfo installs the stack-frame rebuild hook for step 6.
func WithDebugInfo(d DebugInfo) Option {
	return func(l *Loop) { l.debugInfo = d }
}

// WithRTTScanRegion enables RTT pumping and sets the scan region used
// to attach, per core, the first time a tick needs it.
func WithRTTScanRegion(binary []byte, start, size uint32) Option {
	return func(l *Loop) {
		l.programBinary = binary
		l.scanStart = start
		l.scanSize = size
	}
}

// WithRTTDataHandler installs the callback invoked with each up-channel
// drain; without it, pumped bytes are only logged at debug level.
func WithRTTDataHandler(cb rtt.DataCallback) Option {
	return func(l *Loop) { l.onRttData = cb }
}

// New builds a Loop over numCores cores of orch.
func New(orch *session.Orchestrator, numCores int, opts ...Option) *Loop {
	l := &Loop{session: orch}
	for _, opt := range opts {
		opt(l)
	}
	for i := 0; i < numCores; i++ {
		l.cores = append(l.cores, &coreState{index: i, rttEnabled: l.scanSize > 0})
	}
	return l
}

// Tick runs one poll cycle: attach/sample/RTT-pump/semihosting-dispatch
// across every configured core, then reports the combined CoreStatus
// vector and whether the caller should sleep before the next tick
// (§4.6).
func (l *Loop) Tick() ([]CoreStatus, bool) {
	statuses := make([]CoreStatus, 0, len(l.cores))
	allHalted := true
	suggestDelay := true

	for _, cs := range l.cores {
		core, err := l.session.Core(cs.index)
		if err != nil {
			log.Debugf("poll tick: attach core %d: %v", cs.index, err)
			continue
		}
		status, err := l.sampleStatus(cs, core)
		if err != nil {
			log.Debugf("poll tick: sample core %d: %v", cs.index, err)
			continue
		}

		if status.Kind == Running {
			allHalted = false
		}

		if cs.rttEnabled {
			if cs.rtt == nil {
				if err := l.attachRTT(cs, core); err != nil {
					log.Debugf("poll tick: rtt attach core %d: %v", cs.index, err)
				}
			} else {
				n, err := cs.rtt.Pump(func(channel int, data []byte) error {
					log.Debugf("core %d rtt channel %d: %d bytes", cs.index, channel, len(data))
					if l.onRttData != nil {
						return l.onRttData(channel, data)
					}
					return nil
				})
				if err != nil {
					log.Debugf("poll tick: rtt pump core %d: %v", cs.index, err)
				} else if n > 0 {
					suggestDelay = false
				}
			}
		}

		wasHalted := cs.lastStatus.Kind == Halted
		if !wasHalted && status.isHaltedBreakpointSemihosting() && l.onSemihosting != nil {
			resumed, err := l.dispatchSemihosting(core, status)
			if err != nil {
				log.Warnf("poll tick: semihosting dispatch core %d: %v", cs.index, err)
			} else if resumed {
				suggestDelay = false
			}
			// else: core remains halted, status already reports it
		}

		if !wasHalted && status.Kind == Halted && l.debugInfo != nil {
			if err := l.debugInfo.RebuildStackFrames(core); err != nil {
				log.Warnf("poll tick: rebuild stack frames core %d: %v", cs.index, err)
			}
		}

		cs.lastStatus = status
		statuses = append(statuses, status)
	}

	l.allCoresHalted = allHalted
	return statuses, suggestDelay
}

func (l *Loop) sampleStatus(cs *coreState, core *session.Core) (CoreStatus, error) {
	halted, err := core.Halted()
	if err != nil {
		return CoreStatus{}, err
	}
	if !halted {
		return CoreStatus{Core: cs.index, Kind: Running}, nil
	}

	status := CoreStatus{Core: cs.index, Kind: Halted, Reason: HaltUnknown}

	dfsr, err := core.DebugFaultStatus()
	if err != nil {
		return status, nil
	}
	if dfsr&dfsrBkptBit == 0 {
		return status, nil
	}

	pc, err := core.ReadCoreRegister(coreRegPC)
	if err != nil {
		return status, nil
	}
	insn := make([]byte, 2)
	if err := core.Memory().Read16(pc, insn); err != nil {
		return status, nil
	}
	half := uint16(insn[0]) | uint16(insn[1])<<8

	if half == semihostingBkptEncoding {
		status.Reason = HaltSemihosting
	} else {
		status.Reason = HaltBreakpoint
	}

	_ = core.ClearDebugFaultStatus(dfsr)
	return status, nil
}

func (l *Loop) dispatchSemihosting(core *session.Core, status CoreStatus) (bool, error) {
	cmd, err := core.ReadCoreRegister(coreRegR0)
	if err != nil {
		return false, err
	}
	param, err := core.ReadCoreRegister(coreRegR1)
	if err != nil {
		return false, err
	}
	return l.onSemihosting(core, cmd, param)
}

func (l *Loop) attachRTT(cs *coreState, core *session.Core) error {
	if l.scanSize == 0 {
		return errs.New(errs.KindCommandNotSupported, "attach_rtt").WithName("no scan region configured")
	}
	conn := rtt.New(core.Memory())
	if err := conn.Attach(l.scanStart, l.scanSize); err != nil {
		return err
	}
	cs.rtt = conn
	return nil
}

const (
	dfsrBkptBit = 1 << 1
	coreRegR0   = 0
	coreRegR1   = 1
	coreRegPC   = 15
)

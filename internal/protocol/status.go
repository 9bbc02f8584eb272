// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package protocol

import (
	"fmt"

	"github.com/stlinkcore/gostlink/internal/errs"
)

// DecodeStatus converts the status byte found in the first byte of a
// debug-command response into the ErrorModel taxonomy (§6, §7). It
// returns nil for JtagOk and for JtagWriteVerifyError, which is ignored.
func DecodeStatus(op string, status byte) error {
	switch status {
	case StatusJtagOk:
		return nil

	case StatusJtagFault:
		return errs.Wrap(errs.KindCommandFailed, op, fmt.Errorf("SWD fault response (0x%x)", status))

	case SwdApWait:
		return errs.New(errs.KindWaitAP, op)

	case SwdDpWait:
		return errs.New(errs.KindWaitDP, op)

	case JtagGetIdCodeError:
		return errs.Wrap(errs.KindCommandFailed, op, fmt.Errorf("jtag get idcode error"))

	case JtagWriteError:
		return errs.Wrap(errs.KindCommandFailed, op, fmt.Errorf("write error"))

	case JtagWriteVerifyError:
		// Matches upstream openocd behaviour: ignored, not surfaced as a failure.
		return nil

	case SwdApFault:
		return errs.Wrap(errs.KindCommandFailed, op, fmt.Errorf("SWD_AP_FAULT"))

	case SwdApError:
		return errs.Wrap(errs.KindCommandFailed, op, fmt.Errorf("SWD_AP_ERROR"))

	case SwdApParityError:
		return errs.Wrap(errs.KindCommandFailed, op, fmt.Errorf("SWD_AP_PARITY_ERROR"))

	case SwdDpFault:
		return errs.Wrap(errs.KindCommandFailed, op, fmt.Errorf("SWD_DP_FAULT"))

	case SwdDpError:
		return errs.Wrap(errs.KindCommandFailed, op, fmt.Errorf("SWD_DP_ERROR"))

	case SwdDpParityError:
		return errs.Wrap(errs.KindCommandFailed, op, fmt.Errorf("SWD_DP_PARITY_ERROR"))

	case SwdApWDataError:
		return errs.Wrap(errs.KindCommandFailed, op, fmt.Errorf("SWD_AP_WDATA_ERROR"))

	case SwdApStickyError:
		return errs.Wrap(errs.KindCommandFailed, op, fmt.Errorf("SWD_AP_STICKY_ERROR"))

	case SwdApStickyOrRunError:
		return errs.Wrap(errs.KindCommandFailed, op, fmt.Errorf("SWD_AP_STICKYORUN_ERROR"))

	case BadApError:
		return errs.Wrap(errs.KindCommandFailed, op, fmt.Errorf("BAD_AP_ERROR"))

	default:
		return errs.Wrap(errs.KindCommandFailed, op, fmt.Errorf("unexpected status code 0x%x", status))
	}
}

// DecodeSwimStatus mirrors DecodeStatus for the (out of scope for
// memory ops, still reachable from mode transitions) SWIM sub-mode.
func DecodeSwimStatus(op string, status byte) error {
	switch status {
	case SwimErrorOk:
		return nil
	case SwimErrorBusy:
		return errs.New(errs.KindWaitAP, op)
	default:
		return errs.Wrap(errs.KindCommandFailed, op, fmt.Errorf("unexpected swim status 0x%x", status))
	}
}

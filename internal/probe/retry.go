// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package probe

import (
	"time"

	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

// sleeper is swapped out in tests so the retry-bound/backoff properties
// (§8 properties 4/5, scenario S5) can be verified without burning the
// roughly 400ms of wall-clock a full 13-attempt backoff sleeps.
var sleeper = time.Sleep

// retryOnWait is the pure higher-order wrapper §9 calls for: it retries
// fn while fn's error is a wait status (SwdDpWait/SwdApWait), backing off
// 100<<attempt microseconds between attempts, up to MaxWaitRetries total
// (§4.3.7). Any other error - or success - returns immediately.
func retryOnWait(fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < protocol.MaxWaitRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errs.IsWaitError(lastErr) {
			return lastErr
		}

		if attempt == protocol.MaxWaitRetries-1 {
			break
		}

		delay := time.Duration(100<<uint(attempt)) * time.Microsecond
		sleeper(delay)
	}

	return lastErr
}

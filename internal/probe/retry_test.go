// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package probe

import (
	"testing"
	"time"

	"github.com/stlinkcore/gostlink/internal/errs"
	"github.com/stlinkcore/gostlink/internal/protocol"
)

// withFakeSleeper swaps the package's sleeper hook for the duration of
// the test, recording every requested delay.
func withFakeSleeper(t *testing.T) *[]time.Duration {
	t.Helper()
	orig := sleeper
	var delays []time.Duration
	sleeper = func(d time.Duration) { delays = append(delays, d) }
	t.Cleanup(func() { sleeper = orig })
	return &delays
}

func TestRetryOnWaitExactly13Attempts(t *testing.T) {
	withFakeSleeper(t)

	attempts := 0
	err := retryOnWait(func() error {
		attempts++
		return errs.New(errs.KindWaitDP, "test")
	})

	if attempts != protocol.MaxWaitRetries {
		t.Fatalf("attempts = %d, want %d", attempts, protocol.MaxWaitRetries)
	}
	if !errs.IsWaitError(err) {
		t.Fatalf("expected the final surfaced error to still be a wait error, got %v", err)
	}
}

func TestRetryOnWaitSucceedsAfterTwoWaits(t *testing.T) {
	delays := withFakeSleeper(t)

	attempts := 0
	err := retryOnWait(func() error {
		attempts++
		if attempts <= 2 {
			return errs.New(errs.KindWaitDP, "test")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}

	want := []time.Duration{100 * time.Microsecond, 200 * time.Microsecond}
	if len(*delays) != len(want) || (*delays)[0] != want[0] || (*delays)[1] != want[1] {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
}

func TestRetryOnWaitStopsOnNonWaitError(t *testing.T) {
	withFakeSleeper(t)

	attempts := 0
	wantErr := errs.New(errs.KindCommandFailed, "test")
	err := retryOnWait(func() error {
		attempts++
		return wantErr
	})

	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (non-wait error must not retry)", attempts)
	}
	if err != wantErr {
		t.Fatalf("err = %v, want the original non-wait error", err)
	}
}

func TestIsWaitErrorPredicate(t *testing.T) {
	if !errs.IsWaitError(errs.New(errs.KindWaitDP, "op")) {
		t.Fatal("KindWaitDP should be a wait error")
	}
	if !errs.IsWaitError(errs.New(errs.KindWaitAP, "op")) {
		t.Fatal("KindWaitAP should be a wait error")
	}
	if errs.IsWaitError(errs.New(errs.KindCommandFailed, "op")) {
		t.Fatal("KindCommandFailed must not be a wait error")
	}
	if errs.IsWaitError(nil) {
		t.Fatal("a nil/non-ProbeError must not be a wait error")
	}
}

// countingTransport records how many Write calls it received and never
// fails, used to assert zero USB traffic for the empty-op and
// fail-before-traffic alignment properties.
type countingTransport struct{ calls int }

func (c *countingTransport) Write(cmd, payload, readBuf []byte) error {
	c.calls++
	return nil
}
func (c *countingTransport) ReadSWO(buf []byte, _ time.Duration) (int, error) { return 0, nil }
func (c *countingTransport) Reset() error                                    { return nil }
func (c *countingTransport) Close()                                          {}

func TestEmptyOpIdempotence(t *testing.T) {
	ct := &countingTransport{}
	d := &Driver{transport: ct, version: DeriveCapabilities(2, 30), openedAPs: make(map[uint8]bool)}

	ops := []func() error{
		func() error { return d.ReadMem8(0, nil, 0) },
		func() error { return d.WriteMem8(0, nil, 0) },
		func() error { return d.ReadMem16(0, nil, 0) },
		func() error { return d.WriteMem16(0, nil, 0) },
		func() error { return d.ReadMem32(0, nil, 0) },
		func() error { return d.WriteMem32(0, nil, 0) },
	}
	for i, op := range ops {
		if err := op(); err != nil {
			t.Fatalf("op[%d] returned error: %v", i, err)
		}
	}
	if ct.calls != 0 {
		t.Fatalf("expected zero USB traffic for empty buffers, got %d calls", ct.calls)
	}
}

func TestAlignmentLawRejectsBeforeAnyTraffic(t *testing.T) {
	ct := &countingTransport{}
	d := &Driver{transport: ct, version: DeriveCapabilities(2, 30), openedAPs: make(map[uint8]bool)}

	// Scenario S6: read_mem_16bit(addr=1, len=2).
	err := d.ReadMem16(1, make([]byte, 2), 0)
	if err == nil {
		t.Fatal("expected UnalignedAddress for a misaligned 16-bit read")
	}
	pe, ok := err.(*errs.ProbeError)
	if !ok || pe.Kind() != errs.KindUnalignedAddress {
		t.Fatalf("err = %v, want KindUnalignedAddress", err)
	}
	if ct.calls != 0 {
		t.Fatalf("expected zero USB traffic before the alignment check fails, got %d calls", ct.calls)
	}

	// §8 property 6, the 32-bit width too.
	err = d.WriteMem32(2, make([]byte, 4), 0)
	if err == nil {
		t.Fatal("expected UnalignedAddress for a misaligned 32-bit write")
	}
	if ct.calls != 0 {
		t.Fatalf("expected zero USB traffic after the second alignment failure, got %d calls", ct.calls)
	}
}

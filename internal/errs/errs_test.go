// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package errs

import "testing"

func TestNotEnoughBytesWrittenCarriesIsShould(t *testing.T) {
	err := NotEnoughBytesWritten("write(cmd)", 3, 16)

	if err.Kind() != KindShortWrite {
		t.Fatalf("Kind() = %v, want KindShortWrite", err.Kind())
	}
	if err.ActualBytes != 3 || err.WantBytes != 16 {
		t.Fatalf("ActualBytes/WantBytes = %d/%d, want 3/16", err.ActualBytes, err.WantBytes)
	}

	msg := err.Error()
	if msg == "" {
		t.Fatal("Error() returned empty string")
	}
}

func TestIsWaitErrorIgnoresOtherKinds(t *testing.T) {
	if IsWaitError(NotEnoughBytesWritten("write(cmd)", 0, 1)) {
		t.Fatal("a short-write error must not be classified as a wait error")
	}
}

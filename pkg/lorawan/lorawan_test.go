// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lorawan

import (
	"errors"
	"fmt"
	"testing"
)

func TestEventString(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{Connected, "CONNECTED"},
		{TxSchedulingError, "TX_SCHEDULING_ERROR"},
		{UplinkRequired, "UPLINK_REQUIRED"},
		{Event(42), "UNKNOWN(42)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.event.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEventsAreClosedAndOrdered(t *testing.T) {
	for i, e := range Events {
		if int(e) != i {
			t.Errorf("Events[%d] = %d, want %d", i, e, i)
		}
		if !e.Valid() {
			t.Errorf("%s should be valid", e)
		}
	}
	if Event(len(Events)).Valid() {
		t.Errorf("Event(%d) should be out of range", len(Events))
	}
}

func TestStatusError(t *testing.T) {
	err := fmt.Errorf("send: %w", StatusWouldBlock)

	if !errors.Is(err, StatusWouldBlock) {
		t.Error("wrapped status should match with errors.Is")
	}
	if errors.Is(err, StatusBusy) {
		t.Error("wrapped status should not match a different status")
	}
	if got := Code(err); got != StatusWouldBlock {
		t.Errorf("Code() = %v, want WOULD_BLOCK", got)
	}
	if got := StatusWouldBlock.Error(); got != "lorawan: WOULD_BLOCK (-1001)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestCode(t *testing.T) {
	if got := Code(nil); got != StatusOK {
		t.Errorf("Code(nil) = %v, want OK", got)
	}
	if got := Code(errors.New("boom")); got != StatusServiceUnknown {
		t.Errorf("Code(foreign) = %v, want SERVICE_UNKNOWN", got)
	}
	if StatusOK.Err() != nil {
		t.Error("StatusOK.Err() should be nil")
	}
	if got := Status(-1).String(); got != "STATUS(-1)" {
		t.Errorf("String() = %q", got)
	}
}

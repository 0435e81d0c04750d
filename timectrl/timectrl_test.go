package timectrl

import (
	"testing"
	"time"
)

func TestVirtualClockOnlyMovesOnAdvance(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewVirtualClock(start)

	if got := tc.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}
	if got := tc.Elapsed(); got != 0 {
		t.Fatalf("Elapsed() = %v, want 0", got)
	}

	if !tc.AdvanceTo(start.Add(7 * time.Second)) {
		t.Fatalf("AdvanceTo forward returned false")
	}
	if tc.AdvanceTo(start.Add(time.Second)) {
		t.Fatalf("AdvanceTo backwards returned true")
	}
	if got := tc.Elapsed(); got != 7*time.Second {
		t.Fatalf("Elapsed() = %v, want 7s", got)
	}
}

func TestAdvanceToSameInstantIsAllowed(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewVirtualClock(start)

	if !tc.AdvanceTo(start) {
		t.Fatalf("AdvanceTo(now) returned false")
	}
	if got := tc.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}
}

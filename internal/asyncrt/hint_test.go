package asyncrt

import (
	"math"
	"testing"
	"time"
)

func TestWaitHintMicros(t *testing.T) {
	tests := []struct {
		hint WaitHint
		want uint64
	}{
		{0, 0},
		{WaitHint(time.Microsecond), 1},
		{WaitHint(1500 * time.Nanosecond), 2},
		{WaitHint(10 * time.Millisecond), 10_000},
		{WaitIdle, math.MaxUint64},
	}
	for _, tt := range tests {
		if got := tt.hint.Micros(); got != tt.want {
			t.Errorf("%v.Micros() = %d, want %d", tt.hint, got, tt.want)
		}
	}
}

func TestHintFromMicros(t *testing.T) {
	if !HintFromMicros(math.MaxUint64).Idle() {
		t.Fatalf("max u64 must decode as idle")
	}
	d, ok := HintFromMicros(2500).Duration()
	if !ok || d != 2500*time.Microsecond {
		t.Fatalf("decoded %v ok=%v", d, ok)
	}
}

package asyncrt

import (
	"math"
	"time"

	"fortio.org/safecast"
)

// WaitHint is Tick's answer to "when should I be called again". Zero means
// immediately; WaitIdle means only after an external wake.
type WaitHint time.Duration

// WaitIdle tells the host there is nothing to do until something wakes the
// guest from outside.
const WaitIdle = WaitHint(math.MaxInt64)

// Idle reports whether h is WaitIdle.
func (h WaitHint) Idle() bool { return h == WaitIdle }

// Duration returns the wait as a duration. ok is false for WaitIdle.
func (h WaitHint) Duration() (time.Duration, bool) {
	if h.Idle() {
		return 0, false
	}
	return time.Duration(h), true
}

// Micros encodes the hint for the poll_runtime export: microseconds rounded
// up, with WaitIdle mapped to the maximum u64.
func (h WaitHint) Micros() uint64 {
	if h.Idle() {
		return math.MaxUint64
	}
	if h <= 0 {
		return 0
	}
	d := time.Duration(h)
	us := d / time.Microsecond
	if d%time.Microsecond != 0 {
		us++
	}
	out, err := safecast.Conv[uint64](int64(us))
	if err != nil {
		return math.MaxUint64
	}
	return out
}

// HintFromMicros decodes a poll_runtime result.
func HintFromMicros(us uint64) WaitHint {
	if us == math.MaxUint64 {
		return WaitIdle
	}
	if us > uint64(math.MaxInt64/int64(time.Microsecond)) {
		return WaitIdle
	}
	return WaitHint(time.Duration(us) * time.Microsecond)
}

func (h WaitHint) String() string {
	if h.Idle() {
		return "idle"
	}
	return time.Duration(h).String()
}

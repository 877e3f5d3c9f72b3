package asyncrt

import "time"

// Clock supplies the current instant for timers.
type Clock interface {
	Now() time.Time
}

// RealClock reads the monotonic wall clock. Inside a guest this goes through
// the host's clock_time_get shim.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// ManualClock only moves when told to. Timers driven by it are deterministic.
type ManualClock struct {
	now time.Time
}

// NewManualClock returns a manual clock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual instant.
func (c *ManualClock) Now() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.now
}

// Advance moves the clock forward by d. Negative values are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if c == nil || d <= 0 {
		return
	}
	c.now = c.now.Add(d)
}

// Set moves the clock to t if t is not before the current instant.
func (c *ManualClock) Set(t time.Time) {
	if c == nil || t.Before(c.now) {
		return
	}
	c.now = t
}

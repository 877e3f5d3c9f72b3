package asyncrt

import "time"

// SleepFuture completes once the executor clock reaches its deadline.
type SleepFuture struct {
	deadline    time.Time
	delay       time.Duration
	hasDeadline bool
	handle      *SleepHandle
	done        bool
}

// Sleep returns a future that completes d after it is first polled.
func Sleep(d time.Duration) *SleepFuture {
	return &SleepFuture{delay: d}
}

// SleepUntil returns a future that completes at deadline. A deadline that has
// already passed completes on the first poll without registering a timer.
func SleepUntil(deadline time.Time) *SleepFuture {
	return &SleepFuture{deadline: deadline, hasDeadline: true}
}

// Deadline returns the wake instant, or the zero time before the first poll
// of a relative sleep.
func (s *SleepFuture) Deadline() time.Time {
	return s.deadline
}

// Poll implements Future.
func (s *SleepFuture) Poll(cx *Context) (struct{}, bool) {
	if s.done {
		return struct{}{}, true
	}
	ex := cx.Executor()
	var now time.Time
	if ex != nil {
		now = ex.Now()
	} else {
		now = time.Now()
	}
	if !s.hasDeadline {
		s.deadline = now.Add(s.delay)
		s.hasDeadline = true
	}
	if !now.Before(s.deadline) {
		s.finish()
		return struct{}{}, true
	}
	if s.handle == nil && ex != nil {
		s.handle = ex.ScheduleTimer(s.deadline, cx.Waker())
	}
	return struct{}{}, false
}

func (s *SleepFuture) finish() {
	s.done = true
	s.handle.Release()
	s.handle = nil
}

// Drop deregisters the timer if the sleep has not completed.
func (s *SleepFuture) Drop() {
	if s.done {
		return
	}
	s.handle.Release()
	s.handle = nil
}

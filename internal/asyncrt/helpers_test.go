package asyncrt

import (
	"time"
)

type fakeHost struct {
	wakes     int
	shutdowns int
	yield     func() bool
}

func (h *fakeHost) Wake()     { h.wakes++ }
func (h *fakeHost) Shutdown() { h.shutdowns++ }

func (h *fakeHost) YieldRequested() bool {
	if h.yield == nil {
		return false
	}
	return h.yield()
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestExecutor() (*Executor, *fakeHost, *ManualClock) {
	host := &fakeHost{}
	clock := NewManualClock(epoch)
	ex := NewExecutor(Config{Host: host, Clock: clock})
	return ex, host, clock
}

// pending is a future that never completes and counts its polls and drops.
type pending struct {
	polls   int
	dropped bool
}

func (p *pending) Poll(*Context) (struct{}, bool) {
	p.polls++
	return struct{}{}, false
}

func (p *pending) Drop() { p.dropped = true }

// counter completes after n polls, waking itself in between.
type counter struct {
	n     int
	polls int
}

func (c *counter) Poll(cx *Context) (int, bool) {
	c.polls++
	if c.polls > c.n {
		return c.polls, true
	}
	cx.Waker().Wake()
	return 0, false
}

func mustSpawn[T any](t interface{ Fatalf(string, ...any) }, ex *Executor, f Future[T]) *JoinHandle[T] {
	h, err := Spawn(ex, f)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	return h
}

package asyncrt

import (
	"testing"
	"time"
)

func TestTimerSplitBoundaryIsInclusive(t *testing.T) {
	var s timerSet
	now := epoch
	fired := 0
	w := WakerFunc(func() { fired++ })
	s.schedule(now.Add(-time.Second), w)
	s.schedule(now, w)
	s.schedule(now.Add(time.Nanosecond), w)

	ready, next, ok := s.split(now)
	if len(ready) != 2 {
		t.Fatalf("expected 2 due timers, got %d", len(ready))
	}
	if !ok || !next.Equal(now.Add(time.Nanosecond)) {
		t.Fatalf("expected next deadline now+1ns, got %v (ok=%v)", next, ok)
	}
	if s.len() != 1 {
		t.Fatalf("expected one pending timer, got %d", s.len())
	}
}

func TestTimerMutationsWaitForNextPass(t *testing.T) {
	var s timerSet
	key := s.schedule(epoch, NoopWaker())
	if s.len() != 0 || s.queued() != 1 {
		t.Fatalf("insert must be queued: live=%d queued=%d", s.len(), s.queued())
	}
	s.cancel(key)
	ready, _, ok := s.split(epoch)
	if len(ready) != 0 || ok {
		t.Fatalf("insert then remove in one batch must leave nothing, got %d ready", len(ready))
	}
}

func TestSleepHandleReleasesOnce(t *testing.T) {
	ex, _, clock := newTestExecutor()
	h := ex.ScheduleTimer(clock.Now().Add(time.Second), NoopWaker())
	h.Release()
	h.Release()
	if got := ex.timers.queued(); got != 2 {
		t.Fatalf("expected insert + one remove queued, got %d ops", got)
	}
	if n := ex.PendingTimers(); n != 0 {
		t.Fatalf("expected no live timers, got %d", n)
	}
}

func TestWaitHintCountsDownToTimer(t *testing.T) {
	ex, _, clock := newTestExecutor()
	h := mustSpawn[struct{}](t, ex, Sleep(10*time.Millisecond))

	if hint := ex.Tick(); hint != WaitHint(10*time.Millisecond) {
		t.Fatalf("expected 10ms, got %v", hint)
	}
	clock.Advance(4 * time.Millisecond)
	if hint := ex.Tick(); hint != WaitHint(6*time.Millisecond) {
		t.Fatalf("expected 6ms, got %v", hint)
	}
	clock.Advance(3 * time.Millisecond)
	if hint := ex.Tick(); hint != WaitHint(3*time.Millisecond) {
		t.Fatalf("expected 3ms, got %v", hint)
	}
	clock.Advance(3 * time.Millisecond)
	if hint := ex.Tick(); hint != WaitIdle {
		t.Fatalf("expected idle once the sleep completed, got %v", hint)
	}
	if !h.Done() {
		t.Fatalf("sleep task should have completed")
	}
}

func TestPastDeadlineCompletesWithoutTimer(t *testing.T) {
	ex, _, clock := newTestExecutor()
	s := SleepUntil(clock.Now().Add(-time.Minute))
	if _, ok := s.Poll(NewContext(ex, nil)); !ok {
		t.Fatalf("a past deadline must complete on first poll")
	}
	if n := ex.PendingTimers(); n != 0 {
		t.Fatalf("expected no timer registration, got %d", n)
	}
}

func TestDroppedSleepNeverFires(t *testing.T) {
	ex, _, clock := newTestExecutor()
	mustSpawn[struct{}](t, ex, &pending{})
	woken := 0
	s := Sleep(5 * time.Millisecond)
	if _, ok := s.Poll(NewContext(ex, WakerFunc(func() { woken++ }))); ok {
		t.Fatalf("sleep must be pending on first poll")
	}
	s.Drop()
	clock.Advance(10 * time.Millisecond)
	ex.Tick()
	if woken != 0 {
		t.Fatalf("dropped sleep fired %d times", woken)
	}
	if ex.Stats().TimersFired != 0 {
		t.Fatalf("expected no timer fire, got %d", ex.Stats().TimersFired)
	}
}

func TestTimeoutWinsOverPendingFuture(t *testing.T) {
	ex, _, clock := newTestExecutor()
	inner := &pending{}
	h := mustSpawn[Result[struct{}]](t, ex, Timeout[struct{}](inner, 5*time.Millisecond))
	ex.Tick()
	clock.Advance(5 * time.Millisecond)
	ex.Tick()
	res, ok := h.Poll(NewContext(ex, nil))
	if !ok || res.Err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %+v (ok=%v)", res, ok)
	}
	if !inner.dropped {
		t.Fatalf("the losing future must be dropped")
	}
}

func TestSelectDropsLosers(t *testing.T) {
	ex, _, clock := newTestExecutor()
	slow := Sleep(time.Second)
	fast := Sleep(time.Millisecond)
	h := mustSpawn[Selected[struct{}]](t, ex, Select[struct{}](slow, fast))
	ex.Tick()
	if n := ex.PendingTimers(); n != 2 {
		t.Fatalf("expected both arms registered, got %d timers", n)
	}
	clock.Advance(time.Millisecond)
	ex.Tick()
	sel, ok := h.Poll(NewContext(ex, nil))
	if !ok || sel.Index != 1 {
		t.Fatalf("expected arm 1 to win, got %+v (ok=%v)", sel, ok)
	}
	if n := ex.PendingTimers(); n != 0 {
		t.Fatalf("losing sleep must be deregistered, %d timers left", n)
	}
}

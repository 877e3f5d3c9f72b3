package asyncrt

import (
	"errors"
	"time"
)

// ErrTimeout is the error a Timeout future resolves to when its deadline
// passes first.
var ErrTimeout = errors.New("timed out")

type timeoutFuture[T any] struct {
	inner Future[T]
	sleep *SleepFuture
	done  bool
}

// Timeout races f against a sleep of d. If the sleep wins, f is dropped and
// the result carries ErrTimeout.
func Timeout[T any](f Future[T], d time.Duration) Future[Result[T]] {
	return &timeoutFuture[T]{inner: f, sleep: Sleep(d)}
}

// Deadline is Timeout with an absolute deadline.
func Deadline[T any](f Future[T], deadline time.Time) Future[Result[T]] {
	return &timeoutFuture[T]{inner: f, sleep: SleepUntil(deadline)}
}

func (t *timeoutFuture[T]) Poll(cx *Context) (Result[T], bool) {
	if t.done {
		return Result[T]{}, true
	}
	if v, ok := t.inner.Poll(cx); ok {
		t.done = true
		t.sleep.Drop()
		return Result[T]{Value: v}, true
	}
	if _, ok := t.sleep.Poll(cx); ok {
		t.done = true
		Drop(t.inner)
		return Result[T]{Err: ErrTimeout}, true
	}
	return Result[T]{}, false
}

// Drop releases both the inner future and the timer.
func (t *timeoutFuture[T]) Drop() {
	if t.done {
		return
	}
	t.done = true
	Drop(t.inner)
	t.sleep.Drop()
}

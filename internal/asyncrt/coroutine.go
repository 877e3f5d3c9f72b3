package asyncrt

import (
	"iter"
	"time"
)

// cancelled is the panic value Await raises when its coroutine is dropped.
type cancelled struct{}

// Awaiter lets straight-line code running under Async wait on futures.
type Awaiter struct {
	cx    *Context
	yield func(struct{}) bool
}

// Context returns the poll context of the current resumption.
func (aw *Awaiter) Context() *Context {
	return aw.cx
}

// Await polls f until it completes, suspending the surrounding coroutine
// whenever f is pending. If the coroutine is dropped while suspended, f is
// dropped and Await does not return.
func Await[T any](aw *Awaiter, f Future[T]) T {
	for {
		if v, ok := f.Poll(aw.cx); ok {
			return v
		}
		if !aw.yield(struct{}{}) {
			Drop(f)
			panic(cancelled{})
		}
	}
}

// Sleep awaits Sleep(d).
func (aw *Awaiter) Sleep(d time.Duration) {
	Await[struct{}](aw, Sleep(d))
}

// Yield awaits YieldNow.
func (aw *Awaiter) Yield() {
	Await(aw, YieldNow())
}

type asyncFuture[T any] struct {
	aw     *Awaiter
	body   func(aw *Awaiter) T
	next   func() (struct{}, bool)
	stop   func()
	result T
	done   bool
}

// Async turns body into a future. Each poll resumes body until it awaits a
// pending future or returns. Panics in body propagate out of Poll.
//
// The coroutine is created by the first Poll: it must be resumed under the OS
// thread locking it was created with, and a wasm guest builds futures in
// _initialize but polls them from export calls.
func Async[T any](body func(aw *Awaiter) T) Future[T] {
	return &asyncFuture[T]{aw: &Awaiter{}, body: body}
}

func (a *asyncFuture[T]) start() {
	body := a.body
	a.body = nil
	seq := func(yield func(struct{}) bool) {
		a.aw.yield = yield
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(cancelled); ok {
					return
				}
				panic(r)
			}
		}()
		a.result = body(a.aw)
		a.done = true
	}
	a.next, a.stop = iter.Pull(seq)
}

func (a *asyncFuture[T]) Poll(cx *Context) (T, bool) {
	if a.done {
		return a.result, true
	}
	if a.next == nil {
		if a.body == nil {
			// dropped before its first poll
			a.done = true
			return a.result, true
		}
		a.start()
	}
	a.aw.cx = cx
	if _, more := a.next(); more {
		return a.result, false
	}
	a.stop()
	if !a.done {
		var zero T
		return zero, true
	}
	return a.result, true
}

// Drop cancels a suspended coroutine and drops the future it was awaiting.
// A body that was never polled never runs.
func (a *asyncFuture[T]) Drop() {
	a.body = nil
	if a.done || a.stop == nil {
		return
	}
	a.aw.cx = NewContext(nil, nil)
	a.stop()
}

package asyncrt

// Future is a computation that can be advanced one step at a time.
//
// Poll returns (value, true) once the computation is complete. Otherwise it
// returns ok=false and must have arranged for cx.Waker() to be woken when
// polling again could make progress.
type Future[T any] interface {
	Poll(cx *Context) (T, bool)
}

// Dropper is implemented by futures that hold registrations (timers, channel
// waiters, coroutines) which must be released when the future is abandoned
// before completion.
type Dropper interface {
	Drop()
}

// FutureFunc adapts a poll function to Future.
type FutureFunc[T any] func(cx *Context) (T, bool)

// Poll calls f.
func (f FutureFunc[T]) Poll(cx *Context) (T, bool) {
	return f(cx)
}

type readyFuture[T any] struct {
	v T
}

func (r readyFuture[T]) Poll(*Context) (T, bool) { return r.v, true }

// Ready returns a future that completes immediately with v.
func Ready[T any](v T) Future[T] {
	return readyFuture[T]{v: v}
}

// Result pairs a value with an error for futures that can fail.
type Result[T any] struct {
	Value T
	Err   error
}

// Drop releases f if it holds registrations.
func Drop(f any) {
	if d, ok := f.(Dropper); ok && d != nil {
		d.Drop()
	}
}

package asyncrt

// Waker is a wake target. Waking it tells whoever registered it that progress
// may be possible.
//
// Implementations in this package re-enqueue a task, notify a join waiter, or
// notify a channel receiver; all of them end up in the owning executor's ready
// queue.
type Waker interface {
	Wake()
}

// WakerFunc adapts a plain function to Waker.
type WakerFunc func()

// Wake calls f.
func (f WakerFunc) Wake() {
	if f != nil {
		f()
	}
}

// noopWaker is used when a future is polled outside of any task.
type noopWaker struct{}

func (noopWaker) Wake() {}

// NoopWaker returns a waker that does nothing.
func NoopWaker() Waker { return noopWaker{} }

// taskWaker re-enqueues the task it was created for. It holds the task pointer
// so a waker that outlives its task cannot wake a newer task that reused the id.
type taskWaker struct {
	ex   *Executor
	task *task
}

func (w *taskWaker) Wake() {
	if w == nil || w.ex == nil || w.task == nil {
		return
	}
	if w.ex.tasks[w.task.id] != w.task {
		return
	}
	w.ex.wakeTask(w.task.id)
}

// Context is handed to Future.Poll. It carries the waker of the task being
// polled and the executor driving it.
type Context struct {
	waker Waker
	ex    *Executor
}

// NewContext builds a poll context. It is mostly useful for polling futures
// by hand in tests.
func NewContext(ex *Executor, w Waker) *Context {
	if w == nil {
		w = NoopWaker()
	}
	return &Context{waker: w, ex: ex}
}

// Waker returns the waker of the task being polled.
func (cx *Context) Waker() Waker {
	if cx == nil || cx.waker == nil {
		return NoopWaker()
	}
	return cx.waker
}

// Executor returns the executor driving the poll, or nil.
func (cx *Context) Executor() *Executor {
	if cx == nil {
		return nil
	}
	return cx.ex
}

package asyncrt

type yieldFuture struct {
	yielded bool
}

func (y *yieldFuture) Poll(cx *Context) (struct{}, bool) {
	if y.yielded {
		return struct{}{}, true
	}
	y.yielded = true
	cx.Waker().Wake()
	return struct{}{}, false
}

// YieldNow suspends the calling task once. The task goes to the back of the
// ready queue and is resumed on a later pop.
func YieldNow() Future[struct{}] {
	return &yieldFuture{}
}

// AutoYield yields only if the host has asked for control back. Long-running
// tasks call it at checkpoints.
func (e *Executor) AutoYield() Future[struct{}] {
	if e == nil || e.closed || !e.host.YieldRequested() {
		return Ready(struct{}{})
	}
	return YieldNow()
}

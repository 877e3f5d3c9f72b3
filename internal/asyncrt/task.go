package asyncrt

// joinSlot is the result cell shared between a task and its JoinHandle.
type joinSlot[T any] struct {
	value  T
	done   bool
	taken  bool
	waiter Waker
}

func (s *joinSlot[T]) fill(v T) {
	s.value = v
	s.done = true
}

func (s *joinSlot[T]) wakeWaiter() {
	w := s.waiter
	s.waiter = nil
	if w != nil {
		w.Wake()
	}
}

// JoinHandle observes the result of a spawned task. It is a Future that
// completes with the task's value. Dropping or ignoring it never affects the
// task.
type JoinHandle[T any] struct {
	slot *joinSlot[T]
	id   TaskID
}

// ID returns the id the task was spawned with. The id may be reused once the
// task completes.
func (h *JoinHandle[T]) ID() TaskID {
	if h == nil {
		return 0
	}
	return h.id
}

// Done reports whether the task has produced its value.
func (h *JoinHandle[T]) Done() bool {
	return h != nil && h.slot != nil && h.slot.done
}

// Poll returns the task's value once it is available. The value is handed
// out once; polling again after that yields the zero value. A pending poll
// registers the caller's waker, replacing any earlier registration.
func (h *JoinHandle[T]) Poll(cx *Context) (T, bool) {
	var zero T
	if h == nil || h.slot == nil {
		return zero, true
	}
	s := h.slot
	if s.done {
		if s.taken {
			return zero, true
		}
		v := s.value
		s.value = zero
		s.taken = true
		return v, true
	}
	s.waiter = cx.Waker()
	return zero, false
}

// Drop forgets the registered waiter. The task keeps running.
func (h *JoinHandle[T]) Drop() {
	if h == nil || h.slot == nil {
		return
	}
	h.slot.waiter = nil
}

package asyncrt

// Selected reports which arm of a Select completed first.
type Selected[T any] struct {
	Index int
	Value T
}

type selectFuture[T any] struct {
	arms []Future[T]
	done bool
}

// Select completes with the first of arms to complete. Arms are polled in
// order on every poll; once one wins, the others are dropped.
func Select[T any](arms ...Future[T]) Future[Selected[T]] {
	return &selectFuture[T]{arms: arms}
}

func (s *selectFuture[T]) Poll(cx *Context) (Selected[T], bool) {
	if s.done {
		return Selected[T]{Index: -1}, true
	}
	for i, arm := range s.arms {
		if arm == nil {
			continue
		}
		v, ok := arm.Poll(cx)
		if !ok {
			continue
		}
		s.done = true
		s.dropExcept(i)
		return Selected[T]{Index: i, Value: v}, true
	}
	return Selected[T]{}, false
}

func (s *selectFuture[T]) dropExcept(keep int) {
	for i, arm := range s.arms {
		if i != keep && arm != nil {
			Drop(arm)
		}
	}
	s.arms = nil
}

// Drop drops every arm that is still pending.
func (s *selectFuture[T]) Drop() {
	if s.done {
		return
	}
	s.done = true
	s.dropExcept(-1)
}

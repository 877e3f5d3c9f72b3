package asyncrt

import (
	"container/heap"
	"time"
)

// timerKey totally orders timers: by deadline, then by registration sequence.
type timerKey struct {
	deadline time.Time
	seq      uint64
}

func (k timerKey) less(o timerKey) bool {
	if !k.deadline.Equal(o.deadline) {
		return k.deadline.Before(o.deadline)
	}
	return k.seq < o.seq
}

type timerEntry struct {
	key       timerKey
	waker     Waker
	cancelled bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool { return h[i].key.less(h[j].key) }

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	entry, ok := x.(*timerEntry)
	if !ok || entry == nil {
		return
	}
	*h = append(*h, entry)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	if n == 0 {
		return (*timerEntry)(nil)
	}
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type timerOpKind uint8

const (
	timerInsert timerOpKind = iota + 1
	timerRemove
)

type timerOp struct {
	kind  timerOpKind
	key   timerKey
	waker Waker
}

// timerSet holds registered timers. Every mutation is queued as an op and
// applied in one batch right before a timer pass, so a waiter that cancels or
// registers timers while being invoked never touches the set mid-split.
type timerSet struct {
	heap    timerHeap
	live    map[uint64]*timerEntry
	ops     []timerOp
	nextSeq uint64
}

func (s *timerSet) schedule(deadline time.Time, w Waker) timerKey {
	s.nextSeq++
	key := timerKey{deadline: deadline, seq: s.nextSeq}
	s.ops = append(s.ops, timerOp{kind: timerInsert, key: key, waker: w})
	return key
}

func (s *timerSet) cancel(key timerKey) {
	s.ops = append(s.ops, timerOp{kind: timerRemove, key: key})
}

func (s *timerSet) applyOps() {
	if len(s.ops) == 0 {
		return
	}
	if s.live == nil {
		s.live = make(map[uint64]*timerEntry)
	}
	ops := s.ops
	s.ops = nil
	for _, op := range ops {
		switch op.kind {
		case timerInsert:
			entry := &timerEntry{key: op.key, waker: op.waker}
			s.live[op.key.seq] = entry
			heap.Push(&s.heap, entry)
		case timerRemove:
			if entry := s.live[op.key.seq]; entry != nil && entry.key == op.key {
				entry.cancelled = true
				delete(s.live, op.key.seq)
			}
		}
	}
}

// split applies queued ops and removes every timer due at or before now. It
// returns the due waiters in firing order and the earliest pending deadline.
func (s *timerSet) split(now time.Time) (ready []Waker, next time.Time, hasNext bool) {
	s.applyOps()
	boundary := now.Add(time.Nanosecond)
	for len(s.heap) > 0 {
		top := s.heap[0]
		if top.cancelled {
			heap.Pop(&s.heap)
			continue
		}
		if !top.key.deadline.Before(boundary) {
			break
		}
		heap.Pop(&s.heap)
		delete(s.live, top.key.seq)
		ready = append(ready, top.waker)
	}
	next, hasNext = s.peek()
	return ready, next, hasNext
}

// peek returns the earliest live deadline, discarding cancelled heap entries.
func (s *timerSet) peek() (time.Time, bool) {
	for len(s.heap) > 0 {
		top := s.heap[0]
		if !top.cancelled {
			return top.key.deadline, true
		}
		heap.Pop(&s.heap)
	}
	return time.Time{}, false
}

// len reports live timers, ops not yet applied excluded.
func (s *timerSet) len() int { return len(s.live) }

// queued reports ops waiting for the next batch.
func (s *timerSet) queued() int { return len(s.ops) }

func (s *timerSet) reset() {
	s.heap = nil
	s.live = nil
	s.ops = nil
}

// SleepHandle is the registration of one timer. Releasing it queues the
// removal of that timer; releasing twice is a no-op.
type SleepHandle struct {
	timers   *timerSet
	key      timerKey
	released bool
}

// Deadline returns the instant the timer was registered for.
func (h *SleepHandle) Deadline() time.Time {
	if h == nil {
		return time.Time{}
	}
	return h.key.deadline
}

// Release queues removal of the timer.
func (h *SleepHandle) Release() {
	if h == nil || h.released || h.timers == nil {
		return
	}
	h.released = true
	h.timers.cancel(h.key)
}

// ScheduleTimer registers w to be woken at deadline.
func (e *Executor) ScheduleTimer(deadline time.Time, w Waker) *SleepHandle {
	if e == nil {
		return nil
	}
	key := e.timers.schedule(deadline, w)
	return &SleepHandle{timers: &e.timers, key: key}
}

// PendingTimers reports the number of live timers, counting queued inserts
// and removals once they are applied.
func (e *Executor) PendingTimers() int {
	if e == nil {
		return 0
	}
	e.timers.applyOps()
	return e.timers.len()
}

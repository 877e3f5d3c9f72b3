package trace

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"sync"
)

// RingTracer keeps the most recent events of a run. It is dumped when the
// run ends, so the last ticks before a hang or a guest panic survive even
// when nothing was streamed.
type RingTracer struct {
	mu    sync.Mutex
	slots []Event
	total uint64 // events ever stored; total % len(slots) is the next slot
	level Level
}

// NewRingTracer keeps up to capacity events (4096 when capacity <= 0).
func NewRingTracer(capacity int, level Level) *RingTracer {
	if capacity <= 0 {
		capacity = 4096
	}
	return &RingTracer{slots: make([]Event, capacity), level: level}
}

// Emit stores ev, overwriting the oldest event once the ring is full.
// Heartbeats are kept at every level.
func (t *RingTracer) Emit(ev *Event) {
	if ev.Kind != KindHeartbeat && !t.level.ShouldEmit(ev.Scope) {
		return
	}
	stored := *ev
	stored.Seq = NextSeq()

	t.mu.Lock()
	t.slots[t.total%uint64(len(t.slots))] = stored
	t.total++
	t.mu.Unlock()
}

// Snapshot returns the retained events, oldest first.
func (t *RingTracer) Snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := uint64(len(t.slots))
	kept := min(t.total, size)
	out := make([]Event, kept)
	first := t.total - kept
	for i := range kept {
		out[i] = t.slots[(first+i)%size]
	}
	return out
}

// Overwritten reports how many events were pushed out of the ring.
func (t *RingTracer) Overwritten() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total - min(t.total, uint64(len(t.slots)))
}

// Dump writes the retained events to w. Text dumps start with a header
// naming how much was lost and which tasks and channels the kept events
// touch; NDJSON dumps are the bare events.
func (t *RingTracer) Dump(w io.Writer, format Format) error {
	events := t.Snapshot()
	if format != FormatNDJSON {
		if _, err := io.WriteString(w, dumpHeader(events, t.Overwritten())); err != nil {
			return err
		}
	}
	for i := range events {
		if _, err := w.Write(FormatEvent(&events[i], format)); err != nil {
			return err
		}
	}
	return nil
}

func dumpHeader(events []Event, lost uint64) string {
	head := fmt.Sprintf("--- trace ring: %d events", len(events))
	if lost > 0 {
		head += fmt.Sprintf(", %d older dropped", lost)
	}
	if tasks := extraValues(events, "task"); len(tasks) > 0 {
		head += fmt.Sprintf("; tasks %v", tasks)
	}
	if chans := extraValues(events, "channel"); len(chans) > 0 {
		head += fmt.Sprintf("; channels %v", chans)
	}
	return head + " ---\n"
}

// extraValues collects the distinct numeric values of an Extra key, sorted.
func extraValues(events []Event, key string) []uint64 {
	var ids []uint64
	for i := range events {
		v, ok := events[i].Extra[key]
		if !ok {
			continue
		}
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func (t *RingTracer) Flush() error  { return nil }
func (t *RingTracer) Close() error  { return nil }
func (t *RingTracer) Level() Level  { return t.level }
func (t *RingTracer) Enabled() bool { return t.level > LevelOff }

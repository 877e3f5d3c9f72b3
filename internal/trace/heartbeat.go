package trace

import (
	"strconv"
	"time"
)

// RunProbe reports the state of a run for a heartbeat: counter name to
// value. It is called from the heartbeat goroutine.
type RunProbe func() map[string]string

// Heartbeat emits a liveness event at a fixed interval while the host drives
// a guest. Each beat carries the probe's counters; beats whose poll count
// stops moving mean the guest is stuck inside a tick.
type Heartbeat struct {
	stop chan struct{}
	done chan struct{}
}

// StartHeartbeat starts beating on t every interval. It returns nil when t is
// disabled or interval is not positive; a nil Heartbeat is safe to Stop.
func StartHeartbeat(t Tracer, interval time.Duration, probe RunProbe) *Heartbeat {
	if t == nil || !t.Enabled() || interval <= 0 {
		return nil
	}
	h := &Heartbeat{stop: make(chan struct{}), done: make(chan struct{})}
	go h.beat(t, interval, probe)
	return h
}

func (h *Heartbeat) beat(t Tracer, interval time.Duration, probe RunProbe) {
	defer close(h.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	started := time.Now()
	for n := 1; ; n++ {
		select {
		case <-h.stop:
			return
		case now := <-ticker.C:
			var extra map[string]string
			if probe != nil {
				extra = probe()
			}
			t.Emit(&Event{
				Time:   now,
				Seq:    NextSeq(),
				Kind:   KindHeartbeat,
				Scope:  ScopeRuntime,
				Name:   "heartbeat",
				Detail: "#" + strconv.Itoa(n) + " after " + now.Sub(started).Round(time.Millisecond).String(),
				Extra:  extra,
			})
		}
	}
}

// Stop ends the heartbeat and waits for its goroutine. It must be called
// at most once.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	close(h.stop)
	<-h.done
}

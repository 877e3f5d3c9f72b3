package testkit

import (
	"fmt"

	"fortio.org/safecast"

	"tidal/internal/asyncrt"
)

// CheckExecutorInvariants runs a minimal set of invariants on an executor
// observed between ticks:
// 1) no tick is in progress
// 2) the ready queue holds each id at most once
// 3) task ids are non-zero and unique
// 4) a closed executor holds no tasks, ready ids or timers
func CheckExecutorInvariants(ex *asyncrt.Executor) error {
	if ex == nil {
		return fmt.Errorf("nil executor")
	}
	snap := ex.Snapshot()

	if snap.InTick {
		return fmt.Errorf("executor observed inside a tick")
	}

	seen := make(map[asyncrt.TaskID]struct{}, len(snap.Ready))
	for _, id := range snap.Ready {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("task %d queued twice", id)
		}
		seen[id] = struct{}{}
	}

	for i, id := range snap.Tasks {
		if id == 0 {
			return fmt.Errorf("task table holds id 0")
		}
		if i > 0 && snap.Tasks[i-1] == id {
			return fmt.Errorf("task id %d listed twice", id)
		}
	}

	if snap.Closed {
		if len(snap.Tasks) != 0 || len(snap.Ready) != 0 {
			return fmt.Errorf("closed executor still holds %d tasks, %d ready", len(snap.Tasks), len(snap.Ready))
		}
		if snap.Timers != 0 || snap.QueuedTimerOps != 0 {
			return fmt.Errorf("closed executor still holds %d timers, %d queued ops", snap.Timers, snap.QueuedTimerOps)
		}
	}
	return nil
}

// CheckWakeOrder verifies that woken is ascending in deadline and, for equal
// deadlines, in registration order. Entries are (deadline, registration) pairs.
func CheckWakeOrder(woken [][2]int64) error {
	for i := 1; i < len(woken); i++ {
		prev, cur := woken[i-1], woken[i]
		if cur[0] < prev[0] || (cur[0] == prev[0] && cur[1] < prev[1]) {
			return fmt.Errorf("wake %d (%v) fired before %d (%v)", i, cur, i-1, prev)
		}
	}
	return nil
}

// ReadyCount returns how many ids are queued, as uint32 for ABI-sized checks.
func ReadyCount(ex *asyncrt.Executor) (uint32, error) {
	n, err := safecast.Conv[uint32](len(ex.Snapshot().Ready))
	if err != nil {
		return 0, fmt.Errorf("ready count overflow: %w", err)
	}
	return n, nil
}

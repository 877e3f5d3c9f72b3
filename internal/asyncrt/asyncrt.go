package asyncrt

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"tidal/internal/observ"
	"tidal/internal/trace"
)

// Host is the guest's view of the process driving it.
type Host interface {
	// Wake asks the host to call Tick sooner than it otherwise would.
	Wake()
	// Shutdown is the terminal host call. Real hosts never return from it.
	Shutdown()
	// YieldRequested reports the host-owned "give control back now" flag.
	YieldRequested() bool
}

type nopHost struct{}

func (nopHost) Wake()                {}
func (nopHost) Shutdown()            {}
func (nopHost) YieldRequested() bool { return false }

// DefaultMaxMessage bounds inbound channel messages when Config.MaxMessage
// is zero.
const DefaultMaxMessage = 1 << 20

// Config configures an executor.
type Config struct {
	Host     Host
	Channels ChannelHost
	Clock    Clock
	Tracer   trace.Tracer

	// MaxMessage is the largest inbound message Notify accepts, in bytes.
	MaxMessage uint32
}

// TaskID identifies a task among the tasks currently alive. Ids are recycled
// after a task completes.
type TaskID uint32

type task struct {
	id       TaskID
	poll     func(cx *Context) bool
	complete func()
	drop     func()
	cx       *Context
	polls    uint64
}

// Executor runs tasks on a single thread. It is driven entirely by Tick and
// is not safe for concurrent use.
type Executor struct {
	host     Host
	clock    Clock
	tracer   trace.Tracer
	tasks    map[TaskID]*task
	ready    []TaskID
	readySet map[TaskID]struct{}
	nextID   uint32
	timers   timerSet
	channels channelRegistry
	maxMsg   uint32
	inTick   bool
	closed   bool
	err      error
	stats    observ.Counters

	closeReason  string
	shutdownDone bool
}

// NewExecutor constructs an executor with the provided configuration.
func NewExecutor(cfg Config) *Executor {
	ex := &Executor{
		host:     cfg.Host,
		clock:    cfg.Clock,
		tracer:   cfg.Tracer,
		tasks:    make(map[TaskID]*task),
		readySet: make(map[TaskID]struct{}),
		nextID:   1,
		maxMsg:   cfg.MaxMessage,
	}
	if ex.maxMsg == 0 {
		ex.maxMsg = DefaultMaxMessage
	}
	if ex.host == nil {
		ex.host = nopHost{}
	}
	if ex.clock == nil {
		ex.clock = RealClock{}
	}
	ex.tracer = trace.OrNop(ex.tracer)
	ex.channels.host = cfg.Channels
	return ex
}

// Now returns the executor clock's current instant.
func (e *Executor) Now() time.Time {
	if e == nil {
		return time.Time{}
	}
	return e.clock.Now()
}

// Tracer returns the tracer runtime events go to.
func (e *Executor) Tracer() trace.Tracer {
	if e == nil {
		return trace.Nop
	}
	return e.tracer
}

// Tick performs one scheduling pass: due timers are woken, then ready tasks
// are polled one step each until the queue is empty or the host asks for
// control back. The returned hint tells the host when to call again.
//
// When no task is left after the pass the executor shuts down and Tick
// returns WaitIdle.
func (e *Executor) Tick() WaitHint {
	if e == nil || e.closed {
		return WaitIdle
	}
	if e.inTick {
		return 0
	}
	e.reclaimChannels()
	e.inTick = true
	e.stats.Ticks++
	span := trace.Begin(e.tracer, trace.ScopeTick, "tick", 0)

	due, _, _ := e.timers.split(e.clock.Now())
	for _, w := range due {
		e.stats.TimersFired++
		trace.Point(e.tracer, trace.ScopeTimer, "timer.fire", "", nil)
		if err := invokeWaker(w); err != nil {
			e.inTick = false
			span.End("timer waker panicked")
			e.fail(err)
			return WaitIdle
		}
	}

	polled, err := e.drainReady(span.ID())
	e.inTick = false
	if err != nil {
		span.End("task panicked")
		e.fail(err)
		return WaitIdle
	}
	if e.closed {
		span.End("shutdown")
		e.finishShutdown()
		return WaitIdle
	}

	if len(e.tasks) == 0 {
		span.WithExtra("polled", strconv.Itoa(polled)).End("drained")
		e.shutdown("all tasks completed")
		return WaitIdle
	}
	hint := e.waitHint()
	span.WithExtra("polled", strconv.Itoa(polled)).
		WithExtra("ready", strconv.Itoa(len(e.ready))).
		End(hint.String())
	return hint
}

func (e *Executor) drainReady(parent uint64) (int, error) {
	polled := 0
	for len(e.ready) > 0 && !e.closed {
		if e.host.YieldRequested() {
			e.stats.YieldBreaks++
			break
		}
		id := e.popReady()
		t := e.tasks[id]
		if t == nil {
			e.stats.StaleEntries++
			continue
		}
		polled++
		done, err := e.pollTask(t, parent)
		if err != nil {
			return polled, err
		}
		if done {
			e.finish(t)
			continue
		}
		if e.host.YieldRequested() {
			e.stats.YieldBreaks++
			break
		}
	}
	return polled, nil
}

func (e *Executor) pollTask(t *task, parent uint64) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError("task "+strconv.FormatUint(uint64(t.id), 10), r)
		}
	}()
	t.polls++
	e.stats.Polls++
	if e.tracer.Enabled() {
		span := trace.Begin(e.tracer, trace.ScopeTask, "poll", parent).
			WithExtra("task", strconv.FormatUint(uint64(t.id), 10))
		defer func() {
			if done {
				span.End("ready")
			} else {
				span.End("pending")
			}
		}()
	}
	return t.poll(t.cx), nil
}

func (e *Executor) finish(t *task) {
	delete(e.tasks, t.id)
	e.stats.Completed++
	if t.complete != nil {
		t.complete()
	}
}

func invokeWaker(w Waker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError("timer waker", r)
		}
	}()
	if w != nil {
		w.Wake()
	}
	return nil
}

func (e *Executor) waitHint() WaitHint {
	if len(e.ready) > 0 {
		return 0
	}
	e.timers.applyOps()
	next, ok := e.timers.peek()
	if !ok {
		return WaitIdle
	}
	d := next.Sub(e.clock.Now())
	if d < 0 {
		d = 0
	}
	return WaitHint(d)
}

// Spawn registers f as a new task and enqueues it. It never polls f itself.
func Spawn[T any](e *Executor, f Future[T]) (*JoinHandle[T], error) {
	if e == nil || e.closed {
		return nil, ErrExecutorClosed
	}
	if f == nil {
		return nil, fmt.Errorf("spawn: nil future")
	}
	slot := &joinSlot[T]{}
	t := &task{
		poll: func(cx *Context) bool {
			v, ok := f.Poll(cx)
			if !ok {
				return false
			}
			slot.fill(v)
			return true
		},
		complete: slot.wakeWaiter,
		drop:     func() { Drop(f) },
	}
	if err := e.insertTask(t); err != nil {
		return nil, err
	}
	return &JoinHandle[T]{slot: slot, id: t.id}, nil
}

// SpawnFunc spawns a poll function as a task.
func SpawnFunc[T any](e *Executor, poll func(cx *Context) (T, bool)) (*JoinHandle[T], error) {
	return Spawn[T](e, FutureFunc[T](poll))
}

func (e *Executor) insertTask(t *task) error {
	raw, ok := ProbeID(&e.nextID, func(id uint32) bool {
		_, used := e.tasks[TaskID(id)]
		return used
	})
	if !ok {
		return ErrTaskIDsExhausted
	}
	t.id = TaskID(raw)
	t.cx = &Context{waker: &taskWaker{ex: e, task: t}, ex: e}
	e.tasks[t.id] = t
	e.stats.Spawned++
	trace.Point(e.tracer, trace.ScopeTask, "spawn", "", map[string]string{
		"task": strconv.FormatUint(uint64(raw), 10),
	})
	e.wakeTask(t.id)
	return nil
}

// wakeTask enqueues id and, outside of a tick, tells the host there is work.
func (e *Executor) wakeTask(id TaskID) {
	if e.closed {
		return
	}
	e.stats.Wakes++
	e.enqueue(id)
	if !e.inTick {
		e.stats.HostWakes++
		e.host.Wake()
	}
}

// enqueue adds id to the ready queue unless it is already queued.
func (e *Executor) enqueue(id TaskID) {
	if _, ok := e.readySet[id]; ok {
		return
	}
	e.ready = append(e.ready, id)
	e.readySet[id] = struct{}{}
}

func (e *Executor) popReady() TaskID {
	id := e.ready[0]
	e.ready[0] = 0
	e.ready = e.ready[1:]
	if len(e.ready) == 0 {
		e.ready = nil
	}
	delete(e.readySet, id)
	return id
}

// Shutdown drops every remaining task without completing it and makes the
// terminal host call.
func (e *Executor) Shutdown() {
	if e == nil {
		return
	}
	e.shutdown("requested")
}

func (e *Executor) fail(err error) {
	e.err = err
	e.stats.Panics++
	trace.Point(e.tracer, trace.ScopeRuntime, "panic", err.Error(), nil)
	e.shutdown("forced: " + err.Error())
}

func (e *Executor) shutdown(reason string) {
	if e.closed {
		return
	}
	e.closed = true
	e.closeReason = reason
	if e.inTick {
		// The task being polled is still on the stack; the pass finishes the
		// shutdown once it unwinds.
		return
	}
	e.finishShutdown()
}

func (e *Executor) finishShutdown() {
	if e.shutdownDone {
		return
	}
	e.shutdownDone = true
	dropped := e.drainTasks()
	e.timers.reset()
	trace.Point(e.tracer, trace.ScopeRuntime, "shutdown", e.closeReason, map[string]string{
		"dropped": strconv.Itoa(dropped),
	})
	e.host.Shutdown()
}

// drainTasks force-drops all tasks in id order. Join waiters are not woken.
func (e *Executor) drainTasks() int {
	ids := slices.Sorted(maps.Keys(e.tasks))
	tasks := e.tasks
	e.tasks = make(map[TaskID]*task)
	e.ready = nil
	clear(e.readySet)
	for _, id := range ids {
		e.dropTask(tasks[id])
		e.stats.Dropped++
	}
	return len(ids)
}

// dropTask runs a task's drop hook. A panic there cannot stop the shutdown,
// so it is counted and traced.
func (e *Executor) dropTask(t *task) {
	if t == nil || t.drop == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.stats.DropPanics++
			perr := newPanicError("drop task "+strconv.FormatUint(uint64(t.id), 10), r)
			trace.Point(e.tracer, trace.ScopeRuntime, "drop panic", perr.Error(), map[string]string{
				"task": strconv.FormatUint(uint64(t.id), 10),
			})
		}
	}()
	t.drop()
}

// Closed reports whether the executor has shut down.
func (e *Executor) Closed() bool {
	return e == nil || e.closed
}

// Err returns the panic that forced a shutdown, if any.
func (e *Executor) Err() error {
	if e == nil {
		return nil
	}
	return e.err
}

// InTick reports whether a scheduling pass is in progress.
func (e *Executor) InTick() bool {
	return e != nil && e.inTick
}

// Len returns the number of live tasks.
func (e *Executor) Len() int {
	if e == nil {
		return 0
	}
	return len(e.tasks)
}

// Stats returns a copy of the executor counters.
func (e *Executor) Stats() observ.Counters {
	if e == nil {
		return observ.Counters{}
	}
	return e.stats
}

// Snapshot describes executor state for invariant checks.
type Snapshot struct {
	Tasks          []TaskID
	Ready          []TaskID
	Timers         int
	QueuedTimerOps int
	Channels       int
	InTick         bool
	Closed         bool
}

// Snapshot captures the current executor state.
func (e *Executor) Snapshot() Snapshot {
	if e == nil {
		return Snapshot{Closed: true}
	}
	return Snapshot{
		Tasks:          slices.Sorted(maps.Keys(e.tasks)),
		Ready:          slices.Clone(e.ready),
		Timers:         e.timers.len(),
		QueuedTimerOps: e.timers.queued(),
		Channels:       len(e.channels.entries),
		InTick:         e.inTick,
		Closed:         e.closed,
	}
}

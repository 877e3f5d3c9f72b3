package asyncrt

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"weak"

	"tidal/internal/trace"
)

// ChannelID is a host-assigned channel identifier.
type ChannelID uint32

// ChannelHost is the guest's channel surface of the host boundary.
type ChannelHost interface {
	// MakeChannel allocates a channel and reports its id and recommended
	// inbound capacity.
	MakeChannel() (ChannelID, uint32, Errno)
	// DropChannel releases a channel id.
	DropChannel(id ChannelID) Errno
	// Send delivers msg to the channel with the given id.
	Send(id ChannelID, msg []byte) Errno
	// ReceiveInto copies the message currently being notified into buf.
	ReceiveInto(buf []byte) Errno
}

type channelRegistry struct {
	host    ChannelHost
	entries map[ChannelID]weak.Pointer[Channel]
	orphans *orphanQueue
}

// orphanQueue collects ids of receivers the GC reclaimed without Close. It is
// filled from cleanup goroutines and drained by the executor.
type orphanQueue struct {
	mu  sync.Mutex
	ids []ChannelID
}

func (q *orphanQueue) push(id ChannelID) {
	q.mu.Lock()
	q.ids = append(q.ids, id)
	q.mu.Unlock()
}

func (q *orphanQueue) take() []ChannelID {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := q.ids
	q.ids = nil
	return ids
}

func (r *channelRegistry) lookup(id ChannelID) *Channel {
	wp, ok := r.entries[id]
	if !ok {
		return nil
	}
	ch := wp.Value()
	if ch == nil {
		delete(r.entries, id)
	}
	return ch
}

func (r *channelRegistry) register(ch *Channel) {
	if r.entries == nil {
		r.entries = make(map[ChannelID]weak.Pointer[Channel])
	}
	if r.orphans == nil {
		r.orphans = &orphanQueue{}
	}
	r.entries[ch.id] = weak.Make(ch)
	q := r.orphans
	ch.cleanup = runtime.AddCleanup(ch, q.push, ch.id)
}

// reclaimChannels releases the host ids of receivers that were collected
// without being closed.
func (e *Executor) reclaimChannels() {
	for _, id := range e.channels.orphans.take() {
		if wp, ok := e.channels.entries[id]; ok && wp.Value() == nil {
			delete(e.channels.entries, id)
		}
		e.stats.Reclaimed++
		detail := ""
		if e.channels.host != nil {
			if errno := e.channels.host.DropChannel(id); errno != ErrnoSuccess {
				detail = errno.Error()
			}
		}
		trace.Point(e.tracer, trace.ScopeIO, "channel.reclaim", detail, map[string]string{
			"channel": strconv.FormatUint(uint64(id), 10),
		})
	}
}

// Channel is the receiving end of a host channel. The registry only holds a
// weak reference, so a Channel that becomes unreachable stops receiving; its
// host id is released on the executor's next Tick, Notify or OpenChannel.
type Channel struct {
	ex       *Executor
	id       ChannelID
	capacity uint32
	queue    [][]byte
	waiter   Waker
	waiterID uint64
	nextWait uint64
	closed   bool
	cleanup  runtime.Cleanup
}

// OpenChannel asks the host for a new channel and registers its receiver.
func (e *Executor) OpenChannel() (*Channel, error) {
	if e == nil || e.closed {
		return nil, ErrExecutorClosed
	}
	if e.channels.host == nil {
		return nil, ErrNoChannelHost
	}
	e.reclaimChannels()
	id, capacity, errno := e.channels.host.MakeChannel()
	switch errno {
	case ErrnoSuccess:
	case ErrnoNoBufs:
		return nil, fmt.Errorf("open channel: %w", ErrNoChannelSlots)
	default:
		return nil, fmt.Errorf("open channel: %w", errno)
	}
	if e.channels.lookup(id) != nil {
		return nil, fmt.Errorf("open channel %d: %w", id, ErrChannelIDInUse)
	}
	ch := &Channel{ex: e, id: id, capacity: capacity}
	e.channels.register(ch)
	trace.Point(e.tracer, trace.ScopeIO, "channel.open", "", map[string]string{
		"channel":  strconv.FormatUint(uint64(id), 10),
		"capacity": strconv.FormatUint(uint64(capacity), 10),
	})
	return ch, nil
}

// LookupChannel returns the live receiver registered for id, if any.
func (e *Executor) LookupChannel(id ChannelID) *Channel {
	if e == nil {
		return nil
	}
	return e.channels.lookup(id)
}

// Send delivers msg to channel id without suspending.
func (e *Executor) Send(id ChannelID, msg []byte) error {
	if e == nil || e.closed {
		return ErrExecutorClosed
	}
	if e.channels.host == nil {
		return ErrNoChannelHost
	}
	e.stats.Sends++
	if errno := e.channels.host.Send(id, msg); errno != ErrnoSuccess {
		return fmt.Errorf("send to channel %d: %w", id, errno)
	}
	return nil
}

// Notify is called by the host when a message of size bytes is waiting for
// channel id. The message is pulled into the receiver's queue and its waiter
// is woken. Unknown ids report ErrnoNxio and the message is discarded.
func (e *Executor) Notify(id ChannelID, size uint32) Errno {
	if e == nil || e.closed {
		return ErrnoNxio
	}
	e.stats.Notifies++
	e.reclaimChannels()
	ch := e.channels.lookup(id)
	if ch == nil || ch.closed {
		e.stats.NotifyMisses++
		trace.Point(e.tracer, trace.ScopeIO, "channel.notify", "unknown channel", map[string]string{
			"channel": strconv.FormatUint(uint64(id), 10),
		})
		return ErrnoNxio
	}
	if size > e.maxMsg {
		e.stats.NotifyMisses++
		trace.Point(e.tracer, trace.ScopeIO, "channel.notify", "message too large", map[string]string{
			"channel": strconv.FormatUint(uint64(id), 10),
			"size":    strconv.FormatUint(uint64(size), 10),
		})
		return ErrnoMsgSize
	}
	buf := make([]byte, size)
	if errno := e.channels.host.ReceiveInto(buf); errno != ErrnoSuccess {
		return errno
	}
	trace.Point(e.tracer, trace.ScopeIO, "channel.notify", "", map[string]string{
		"channel": strconv.FormatUint(uint64(id), 10),
		"size":    strconv.FormatUint(uint64(size), 10),
	})
	ch.push(buf)
	return ErrnoSuccess
}

func (c *Channel) push(msg []byte) {
	c.queue = append(c.queue, msg)
	w := c.waiter
	c.waiter = nil
	if w != nil {
		w.Wake()
	}
}

// ID returns the host-assigned channel id.
func (c *Channel) ID() ChannelID { return c.id }

// Capacity returns the inbound capacity the host recommended.
func (c *Channel) Capacity() uint32 { return c.capacity }

// Pending reports messages buffered locally.
func (c *Channel) Pending() int { return len(c.queue) }

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool { return c.closed }

// Send delivers msg to this channel's id.
func (c *Channel) Send(msg []byte) error {
	if c.closed {
		return ErrChannelClosed
	}
	return c.ex.Send(c.id, msg)
}

// TryRecv pops a buffered message without suspending.
func (c *Channel) TryRecv() ([]byte, bool) {
	if len(c.queue) == 0 {
		return nil, false
	}
	msg := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	if len(c.queue) == 0 {
		c.queue = nil
	}
	return msg, true
}

// Recv returns a future resolving to the next message. It fails with
// ErrChannelClosed once the channel is closed.
func (c *Channel) Recv() Future[Result[[]byte]] {
	return &recvFuture{ch: c}
}

// Close releases the channel id at the host. Buffered messages are discarded
// and a suspended Recv is woken to observe the closure.
func (c *Channel) Close() error {
	if c.closed {
		return ErrChannelClosed
	}
	c.closed = true
	c.queue = nil
	c.cleanup.Stop()
	ex := c.ex
	if wp, ok := ex.channels.entries[c.id]; ok && wp.Value() == c {
		delete(ex.channels.entries, c.id)
	}
	trace.Point(ex.tracer, trace.ScopeIO, "channel.close", "", map[string]string{
		"channel": strconv.FormatUint(uint64(c.id), 10),
	})
	w := c.waiter
	c.waiter = nil
	if w != nil {
		w.Wake()
	}
	if ex.channels.host == nil {
		return nil
	}
	if errno := ex.channels.host.DropChannel(c.id); errno != ErrnoSuccess {
		return fmt.Errorf("close channel %d: %w", c.id, errno)
	}
	return nil
}

type recvFuture struct {
	ch    *Channel
	token uint64
}

func (r *recvFuture) Poll(cx *Context) (Result[[]byte], bool) {
	c := r.ch
	if msg, ok := c.TryRecv(); ok {
		r.release()
		return Result[[]byte]{Value: msg}, true
	}
	if c.closed {
		r.token = 0
		return Result[[]byte]{Err: ErrChannelClosed}, true
	}
	c.nextWait++
	r.token = c.nextWait
	c.waiter = cx.Waker()
	c.waiterID = r.token
	return Result[[]byte]{}, false
}

func (r *recvFuture) release() {
	if r.token != 0 && r.ch.waiterID == r.token {
		r.ch.waiter = nil
		r.ch.waiterID = 0
	}
	r.token = 0
}

// Drop deregisters the waiter if it is still this future's.
func (r *recvFuture) Drop() {
	r.release()
}

package host

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"fortio.org/safecast"

	"tidal/internal/asyncrt"
)

var (
	// ErrUnknownChannel is returned when injecting into a channel the guest
	// has not opened or has already dropped.
	ErrUnknownChannel = errors.New("host: unknown channel")
	// ErrQueueFull is returned when a channel's inbound queue is at capacity.
	ErrQueueFull = errors.New("host: channel queue full")
)

type hostChannel struct {
	id      uint32
	inbound [][]byte
}

// ChannelTable is the host's side of the channel subsystem. It hands out
// channel ids, buffers inbound messages per channel until they are delivered
// with ipc_notify and stages the message being delivered so ipc_recv_msg can
// copy it into guest memory.
//
// Injection may happen from any goroutine; the ABI methods are called from
// the goroutine driving the guest.
type ChannelTable struct {
	mu          sync.Mutex
	maxChannels int
	capacity    int
	nextID      uint32
	chans       map[uint32]*hostChannel
	staged      []byte
	hasStaged   bool
}

// NewChannelTable creates a table holding at most maxChannels channels, each
// buffering up to capacity inbound messages.
func NewChannelTable(maxChannels, capacity int) *ChannelTable {
	if maxChannels <= 0 {
		maxChannels = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &ChannelTable{
		maxChannels: maxChannels,
		capacity:    capacity,
		nextID:      1,
		chans:       make(map[uint32]*hostChannel),
	}
}

// Make allocates a channel id. It reports ErrnoNoBufs when the table is full
// or the id probe gives up.
func (t *ChannelTable) Make() (id, capacity uint32, errno asyncrt.Errno) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.chans) >= t.maxChannels {
		return 0, 0, asyncrt.ErrnoNoBufs
	}
	id, ok := asyncrt.ProbeID(&t.nextID, func(candidate uint32) bool {
		_, used := t.chans[candidate]
		return used
	})
	if !ok {
		return 0, 0, asyncrt.ErrnoNoBufs
	}
	c, err := safecast.Conv[uint32](t.capacity)
	if err != nil {
		return 0, 0, asyncrt.ErrnoInval
	}
	t.chans[id] = &hostChannel{id: id}
	return id, c, asyncrt.ErrnoSuccess
}

// Drop releases id together with any undelivered messages.
func (t *ChannelTable) Drop(id uint32) asyncrt.Errno {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.chans[id]; !ok {
		return asyncrt.ErrnoInval
	}
	delete(t.chans, id)
	return asyncrt.ErrnoSuccess
}

// Has reports whether id is open.
func (t *ChannelTable) Has(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.chans[id]
	return ok
}

// Inject queues msg for delivery to channel id.
func (t *ChannelTable) Inject(id uint32, msg []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.chans[id]
	if c == nil {
		return ErrUnknownChannel
	}
	if len(c.inbound) >= t.capacity {
		return ErrQueueFull
	}
	c.inbound = append(c.inbound, slices.Clone(msg))
	return nil
}

// Broadcast queues msg on every open channel. It returns how many channels
// accepted it.
func (t *ChannelTable) Broadcast(msg []byte) int {
	accepted := 0
	for _, id := range t.IDs() {
		if t.Inject(id, msg) == nil {
			accepted++
		}
	}
	return accepted
}

// IDs returns the open channel ids in ascending order.
func (t *ChannelTable) IDs() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Sorted(maps.Keys(t.chans))
}

// Len returns the number of open channels.
func (t *ChannelTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.chans)
}

// Pending returns the number of queued inbound messages.
func (t *ChannelTable) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.chans {
		n += len(c.inbound)
	}
	return n
}

// pop removes the oldest message of the lowest channel id that has one.
func (t *ChannelTable) pop() (uint32, []byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var best *hostChannel
	for _, c := range t.chans {
		if len(c.inbound) == 0 {
			continue
		}
		if best == nil || c.id < best.id {
			best = c
		}
	}
	if best == nil {
		return 0, nil, false
	}
	msg := best.inbound[0]
	best.inbound[0] = nil
	best.inbound = best.inbound[1:]
	return best.id, msg, true
}

func (t *ChannelTable) stage(msg []byte) {
	t.mu.Lock()
	t.staged, t.hasStaged = msg, true
	t.mu.Unlock()
}

func (t *ChannelTable) unstage() {
	t.mu.Lock()
	t.staged, t.hasStaged = nil, false
	t.mu.Unlock()
}

// Receive hands out the staged message. The guest must ask for exactly the
// size announced by ipc_notify.
func (t *ChannelTable) Receive(size uint32) ([]byte, asyncrt.Errno) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasStaged {
		return nil, asyncrt.ErrnoInval
	}
	n, err := safecast.Conv[uint32](len(t.staged))
	if err != nil || n != size {
		return nil, asyncrt.ErrnoMsgSize
	}
	return t.staged, asyncrt.ErrnoSuccess
}

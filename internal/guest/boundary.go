// Package guest binds the asyncrt executor to the host's env imports.
package guest

import (
	"unsafe"

	"fortio.org/safecast"

	"tidal/internal/asyncrt"
	"tidal/internal/trace"
)

// Boundary implements asyncrt.Host and asyncrt.ChannelHost over the raw
// host imports.
type Boundary struct{}

var (
	_ asyncrt.Host        = Boundary{}
	_ asyncrt.ChannelHost = Boundary{}
)

// Wake tells the host the guest has ready work.
func (Boundary) Wake() { hostWake() }

// Shutdown is the terminal host call.
func (Boundary) Shutdown() { hostShutdown() }

// YieldRequested reads the host's yield flag.
func (Boundary) YieldRequested() bool { return hostYieldRequested() != 0 }

// MakeChannel asks the host for a channel id and its recommended capacity.
func (Boundary) MakeChannel() (asyncrt.ChannelID, uint32, asyncrt.Errno) {
	var id, capacity uint32
	errno := toErrno(hostMakeChannel(unsafe.Pointer(&id), unsafe.Pointer(&capacity)))
	if errno != asyncrt.ErrnoSuccess {
		return 0, 0, errno
	}
	return asyncrt.ChannelID(id), capacity, asyncrt.ErrnoSuccess
}

// DropChannel releases id at the host.
func (Boundary) DropChannel(id asyncrt.ChannelID) asyncrt.Errno {
	return toErrno(hostDropChannel(uint32(id)))
}

// Send copies msg out to the host.
func (Boundary) Send(id asyncrt.ChannelID, msg []byte) asyncrt.Errno {
	n, err := safecast.Conv[uint32](len(msg))
	if err != nil {
		return asyncrt.ErrnoMsgSize
	}
	return toErrno(hostSendMsg(uint32(id), unsafe.Pointer(unsafe.SliceData(msg)), n))
}

// ReceiveInto asks the host to copy the message being notified into buf.
func (Boundary) ReceiveInto(buf []byte) asyncrt.Errno {
	n, err := safecast.Conv[uint32](len(buf))
	if err != nil {
		return asyncrt.ErrnoMsgSize
	}
	return toErrno(hostRecvMsg(unsafe.Pointer(unsafe.SliceData(buf)), n))
}

func toErrno(v uint32) asyncrt.Errno {
	e, err := safecast.Conv[uint16](v)
	if err != nil {
		return asyncrt.ErrnoIO
	}
	return asyncrt.Errno(e)
}

// NewExecutor builds the executor for this guest: host calls go through
// Boundary and trace events follow the TIDAL_TRACE environment variable.
func NewExecutor() *asyncrt.Executor {
	return asyncrt.NewExecutor(asyncrt.Config{
		Host:     Boundary{},
		Channels: Boundary{},
		Tracer:   trace.FromEnv(),
	})
}

// Poll runs one tick and encodes the wait hint for the poll_runtime export.
func Poll(ex *asyncrt.Executor) uint64 {
	return ex.Tick().Micros()
}

// Notify forwards an ipc_notify call and encodes the errno.
func Notify(ex *asyncrt.Executor, channelID, size uint32) uint32 {
	return uint32(ex.Notify(asyncrt.ChannelID(channelID), size))
}

package asyncrt

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Errno is a WASI errno value exchanged across the host boundary.
type Errno uint16

// Errno values used by the runtime ABI. The numbering follows wasi_snapshot_preview1.
const (
	ErrnoSuccess Errno = 0
	ErrnoBadf    Errno = 8
	ErrnoFault   Errno = 21
	ErrnoInval   Errno = 28
	ErrnoIO      Errno = 29
	ErrnoMsgSize Errno = 35
	ErrnoNoBufs  Errno = 42
	ErrnoNoEnt   Errno = 44
	ErrnoNoSys   Errno = 52
	ErrnoNotSup  Errno = 58
	ErrnoNxio    Errno = 60
)

var errnoNames = map[Errno]string{
	ErrnoSuccess: "success",
	ErrnoBadf:    "bad file descriptor",
	ErrnoFault:   "bad address",
	ErrnoInval:   "invalid argument",
	ErrnoIO:      "i/o error",
	ErrnoMsgSize: "message too large",
	ErrnoNoBufs:  "no buffer space available",
	ErrnoNoEnt:   "no such entry",
	ErrnoNoSys:   "function not supported",
	ErrnoNotSup:  "not supported",
	ErrnoNxio:    "no such device or address",
}

// Error implements error.
func (e Errno) Error() string {
	if name, ok := errnoNames[e]; ok {
		return fmt.Sprintf("errno %d (%s)", uint16(e), name)
	}
	return fmt.Sprintf("errno %d", uint16(e))
}

// Err returns nil for ErrnoSuccess and the errno itself otherwise.
func (e Errno) Err() error {
	if e == ErrnoSuccess {
		return nil
	}
	return e
}

// ErrnoOf maps an error back to the errno reported to the host.
// Errors that carry no errno map to ErrnoIO.
func ErrnoOf(err error) Errno {
	if err == nil {
		return ErrnoSuccess
	}
	var errno Errno
	if errors.As(err, &errno) {
		return errno
	}
	switch {
	case errors.Is(err, ErrChannelClosed):
		return ErrnoBadf
	case errors.Is(err, ErrNoChannelSlots), errors.Is(err, ErrTaskIDsExhausted):
		return ErrnoNoBufs
	}
	return ErrnoIO
}

var (
	// ErrExecutorClosed is returned when spawning on an executor that already shut down.
	ErrExecutorClosed = errors.New("executor is shut down")
	// ErrTaskIDsExhausted is returned when no free task id was found within the probe budget.
	ErrTaskIDsExhausted = errors.New("no free task id")
	// ErrNoChannelSlots is returned when the host has no channel slots left.
	ErrNoChannelSlots = errors.New("no channel slots available")
	// ErrChannelIDInUse is returned when the host hands out an id that a live receiver still owns.
	ErrChannelIDInUse = errors.New("channel id already registered")
	// ErrChannelClosed is returned by operations on a closed channel.
	ErrChannelClosed = errors.New("channel is closed")
	// ErrNoChannelHost is returned when the executor was built without channel primitives.
	ErrNoChannelHost = errors.New("executor has no channel host")
)

// PanicError records a panic caught at a runtime boundary.
type PanicError struct {
	Where string
	Value any
	Stack []byte
}

func newPanicError(where string, v any) *PanicError {
	return &PanicError{Where: where, Value: v, Stack: debug.Stack()}
}

// Error implements error.
func (p *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", p.Where, p.Value)
}

// Unwrap exposes the panic value when it is an error.
func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

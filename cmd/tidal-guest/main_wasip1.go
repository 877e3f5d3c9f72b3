//go:build wasip1

package main

import (
	"fmt"
	"os"

	"tidal/internal/asyncrt"
	"tidal/internal/guest"
)

// ex is the single executor of this guest instance.
var ex = guest.NewExecutor()

var started bool

//go:wasmexport poll_runtime
func pollRuntime() uint64 {
	if !started {
		started = true
		start()
	}
	return guest.Poll(ex)
}

//go:wasmexport ipc_notify
func ipcNotify(channelID, size uint32) uint32 {
	return guest.Notify(ex, channelID, size)
}

// start spawns the entry task. It runs inside the first poll_runtime call
// rather than in init: export calls hold the OS thread locked and
// _initialize does not, and the entry's coroutines must live on one side.
func start() {
	svc := &service{ex: ex, log: os.Stderr, interval: heartbeatInterval()}
	if _, err := asyncrt.Spawn(ex, svc.run()); err != nil {
		fmt.Fprintf(os.Stderr, "tidal-guest: %v\n", err)
	}
}

// The module is built as a reactor, so main never runs.
func main() {}

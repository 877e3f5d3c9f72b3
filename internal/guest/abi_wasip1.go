//go:build wasip1

package guest

import "unsafe"

// Host functions imported from the "env" module.

//go:wasmimport env wake
func hostWake()

//go:wasmimport env shutdown_rt
func hostShutdown()

//go:wasmimport env yield_requested
func hostYieldRequested() uint32

//go:wasmimport env ipc_make_channel
func hostMakeChannel(idPtr, capPtr unsafe.Pointer) uint32

//go:wasmimport env ipc_drop_channel
func hostDropChannel(id uint32) uint32

//go:wasmimport env ipc_send_msg
func hostSendMsg(id uint32, ptr unsafe.Pointer, n uint32) uint32

//go:wasmimport env ipc_recv_msg
func hostRecvMsg(ptr unsafe.Pointer, n uint32) uint32

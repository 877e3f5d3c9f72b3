//go:build !wasip1

package guest

/*
	Shims for the host functions when the package is built for a native
	target. Every channel primitive reports ENOSYS.
*/

import "unsafe"

const errnoNoSys = 52

func hostWake() {}

func hostShutdown() {}

func hostYieldRequested() uint32 { return 0 }

func hostMakeChannel(_, _ unsafe.Pointer) uint32 { return errnoNoSys }

func hostDropChannel(uint32) uint32 { return errnoNoSys }

func hostSendMsg(uint32, unsafe.Pointer, uint32) uint32 { return errnoNoSys }

func hostRecvMsg(unsafe.Pointer, uint32) uint32 { return errnoNoSys }

package client

import (
	"sync/atomic"
	"unsafe"
)

// exceptionInfo mirrors wire.ExceptionInformation and lives at a fixed,
// process-stable address for the lifetime of the process: a package-level
// value, never moved by Go's (currently non-moving) heap, whose address is
// handed to the handler once at registration time. The handler reads it
// read-only through the Process Reader; this process must never write to
// it outside the signal path.
type exceptionInfo struct {
	threadID       uint32
	_              uint32 // padding, matches wire.ExceptionInformation layout
	contextAddress uint64
}

var globalExceptionInfo exceptionInfo

// exceptionInfoAddress returns the stable address of the process-wide
// exceptionInfo block, for use as ExceptionInfoAddress in RegisterRequest.
func exceptionInfoAddress() uint64 {
	return uint64(uintptr(unsafe.Pointer(&globalExceptionInfo)))
}

// setException stores the faulting thread id and context address. Callers
// on the signal-handling path must treat this as the only mutation of
// globalExceptionInfo, since the handler may be reading it concurrently
// through the other process's memory.
func setException(threadID uint32, contextAddress uint64) {
	atomic.StoreUint64(&globalExceptionInfo.contextAddress, contextAddress)
	atomic.StoreUint32(&globalExceptionInfo.threadID, threadID)
}

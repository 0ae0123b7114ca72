//go:build linux

package procreader

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// regsToBytes views the raw register struct as bytes for embedding in the
// exception stream; the snapshot writer treats it as an opaque blob and
// never interprets individual fields.
func regsToBytes(regs *unix.PtraceRegs) []byte {
	size := int(unsafe.Sizeof(*regs))
	src := unsafe.Slice((*byte)(unsafe.Pointer(regs)), size)
	out := make([]byte, size)
	copy(out, src)
	return out
}

// Package procreader implements the read-only projection of another
// running process used by the Snapshot & Dump Writer: process and thread
// enumeration, memory reads with a byte-accurate short-read policy, and
// suspend/resume around a capture.
package procreader

// ModuleInfo describes one loaded module, ordered the way the loader
// reports them; entry 0 is the main executable when possible.
type ModuleInfo struct {
	Name        string
	BaseAddress uint64
	Size        uint64
}

// ThreadInfo describes one kernel thread captured while the target was
// suspended.
type ThreadInfo struct {
	ThreadID      uint32
	SchedPriority int
	StackBase     uint64
	StackSize     uint64
	TLSAddress    uint64
	// Context is the raw CPU register snapshot in platform-native layout;
	// the snapshot builder treats it as an opaque blob to copy into the
	// exception stream.
	Context []byte
}

// Reader is the read-only, attach-scoped projection of a target process.
// Detach releases the attachment and lets the target run again; callers
// defer it so that happens on every exit path, including a failed capture.
// Detach never terminates the target.
type Reader interface {
	Is64Bit() bool
	ProcessID() int
	ParentProcessID() int

	// ReadMemory copies up to len(out) bytes starting at address into out.
	// If the read crosses into unreadable memory partway through, it
	// returns the number of bytes read before the boundary and a nil
	// error; if address itself is unreadable, it returns 0 and an error.
	ReadMemory(address uint64, out []byte) (int, error)

	// ReadCString reads forward from address until a NUL byte or maxSize
	// bytes, whichever comes first. It fails if no NUL is found within
	// the limit or the memory is unmapped.
	ReadCString(address uint64, maxSize int) (string, error)

	Modules() ([]ModuleInfo, error)
	Threads() ([]ThreadInfo, error)

	Suspend() error
	Resume() error
	Detach() error
}

// Attach opens a Reader against the target process id.
func Attach(pid int) (Reader, error) {
	return attach(pid)
}

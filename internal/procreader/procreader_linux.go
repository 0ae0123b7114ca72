//go:build linux

package procreader

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/shirou/gopsutil/v4/process"

	crashcore "github.com/crashcore/crashcore"
)

type linuxReader struct {
	pid       int
	gopsProc  *process.Process
	suspended bool
}

func attach(pid int) (Reader, error) {
	if err := unix.PtraceAttach(pid); err != nil {
		return nil, crashcore.Wrap("ProcessReader.Attach", err)
	}
	var status unix.WaitStatus
	if _, err := unix.Wait4(pid, &status, 0, nil); err != nil {
		unix.PtraceDetach(pid)
		return nil, crashcore.Wrap("ProcessReader.Attach", err)
	}

	gp, err := process.NewProcess(int32(pid))
	if err != nil {
		unix.PtraceDetach(pid)
		return nil, crashcore.Wrap("ProcessReader.Attach", err)
	}

	return &linuxReader{pid: pid, gopsProc: gp, suspended: true}, nil
}

// Detach releases the ptrace attachment. PTRACE_DETACH restarts the
// stopped target as it detaches, so a capture failure never leaves the
// target stopped forever.
func (r *linuxReader) Detach() error {
	r.suspended = false
	return unix.PtraceDetach(r.pid)
}

func (r *linuxReader) Is64Bit() bool {
	f, err := os.Open(fmt.Sprintf("/proc/%d/exe", r.pid))
	if err != nil {
		return true
	}
	defer f.Close()

	var ident [5]byte
	if _, err := f.Read(ident[:]); err != nil {
		return true
	}
	if ident[0] != 0x7f || ident[1] != 'E' || ident[2] != 'L' || ident[3] != 'F' {
		return true
	}
	return ident[4] == 2 // ELFCLASS64
}

func (r *linuxReader) ProcessID() int {
	return r.pid
}

func (r *linuxReader) ParentProcessID() int {
	ppid, err := r.gopsProc.Ppid()
	if err != nil {
		return 0
	}
	return int(ppid)
}

func (r *linuxReader) ReadMemory(address uint64, out []byte) (int, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/mem", r.pid))
	if err != nil {
		return 0, crashcore.Wrap("ProcessReader.ReadMemory", err)
	}
	defer f.Close()

	n, err := f.ReadAt(out, int64(address))
	if n > 0 {
		// A partial read before an unmapped boundary is not a failure;
		// the caller sees exactly how far the readable region extends.
		return n, nil
	}
	if err != nil {
		return 0, crashcore.Wrap("ProcessReader.ReadMemory", err)
	}
	return n, nil
}

func (r *linuxReader) ReadCString(address uint64, maxSize int) (string, error) {
	var sb strings.Builder
	chunk := make([]byte, 64)
	remaining := maxSize
	addr := address
	for remaining > 0 {
		want := len(chunk)
		if want > remaining {
			want = remaining
		}
		n, err := r.ReadMemory(addr, chunk[:want])
		if n == 0 {
			return "", crashcore.New("ProcessReader.ReadCString", crashcore.CodeIOError, "unmapped memory")
		}
		for i := 0; i < n; i++ {
			if chunk[i] == 0 {
				return sb.String(), nil
			}
			sb.WriteByte(chunk[i])
		}
		addr += uint64(n)
		remaining -= n
		if err != nil {
			break
		}
	}
	return "", crashcore.New("ProcessReader.ReadCString", crashcore.CodeProtocolError, "nul terminator not found within max_size")
}

func (r *linuxReader) Modules() ([]ModuleInfo, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", r.pid))
	if err != nil {
		return nil, crashcore.Wrap("ProcessReader.Modules", err)
	}
	defer f.Close()

	seen := make(map[string]*ModuleInfo)
	var order []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		path := fields[len(fields)-1]
		if path == "" || strings.HasPrefix(path, "[") {
			continue
		}
		addrRange := strings.SplitN(fields[0], "-", 2)
		if len(addrRange) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(addrRange[0], 16, 64)
		end, err2 := strconv.ParseUint(addrRange[1], 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		m, ok := seen[path]
		if !ok {
			m = &ModuleInfo{Name: path, BaseAddress: start, Size: end - start}
			seen[path] = m
			order = append(order, path)
			continue
		}
		if start < m.BaseAddress {
			m.Size += m.BaseAddress - start
			m.BaseAddress = start
		}
		if end-m.BaseAddress > m.Size {
			m.Size = end - m.BaseAddress
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, crashcore.Wrap("ProcessReader.Modules", err)
	}

	modules := make([]ModuleInfo, 0, len(order))
	for _, path := range order {
		modules = append(modules, *seen[path])
	}
	return modules, nil
}

// mainStackRegion returns the [base, base+size) of the "[stack]" mapping
// in /proc/pid/maps, the main thread's stack. Other threads' stacks are
// ordinary anonymous mappings with no special marker and are left at 0.
func (r *linuxReader) mainStackRegion() (uint64, uint64) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", r.pid))
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 || fields[len(fields)-1] != "[stack]" {
			continue
		}
		addrRange := strings.SplitN(fields[0], "-", 2)
		if len(addrRange) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(addrRange[0], 16, 64)
		end, err2 := strconv.ParseUint(addrRange[1], 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		return start, end - start
	}
	return 0, 0
}

func (r *linuxReader) Threads() ([]ThreadInfo, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", r.pid))
	if err != nil {
		return nil, crashcore.Wrap("ProcessReader.Threads", err)
	}

	var tids []int
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	sort.Ints(tids)

	stackBase, stackSize := r.mainStackRegion()

	threads := make([]ThreadInfo, 0, len(tids))
	for _, tid := range tids {
		ti := ThreadInfo{ThreadID: uint32(tid)}
		if tid == r.pid {
			ti.StackBase = stackBase
			ti.StackSize = stackSize
			var regs unix.PtraceRegs
			if err := unix.PtraceGetRegs(tid, &regs); err == nil {
				ti.Context = regsToBytes(&regs)
			}
		}
		threads = append(threads, ti)
	}
	return threads, nil
}

func (r *linuxReader) Suspend() error {
	// The target is already stopped by PTRACE_ATTACH; nothing further to
	// do until Resume.
	return nil
}

func (r *linuxReader) Resume() error {
	if !r.suspended {
		return nil
	}
	r.suspended = false
	return unix.PtraceCont(r.pid, 0)
}

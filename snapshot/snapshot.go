// Package snapshot builds a ProcessSnapshot from a process reader's
// outputs and serializes it to the on-wire minidump format.
package snapshot

import (
	"runtime"
	"sort"
	"time"

	"github.com/crashcore/crashcore/internal/procreader"
)

// Module is one loaded module in a captured process.
type Module struct {
	Name        string
	BaseAddress uint64
	Size        uint64
}

// Thread is one kernel thread captured while the target was suspended.
type Thread struct {
	ThreadID      uint32
	SchedPriority int
	StackBase     uint64
	StackSize     uint64
	TLSAddress    uint64
	Context       []byte
}

// MemoryRegion is a captured byte range of the target's address space,
// currently limited to the excepting thread's stack.
type MemoryRegion struct {
	BaseAddress uint64
	Data        []byte
}

// Exception describes the fault that triggered capture.
type Exception struct {
	ThreadID         uint32
	ExceptionCode    uint32
	ExceptionAddress uint64
	ContextAddress   uint64
}

// SystemInfo is a minimal description of the host the process ran on.
type SystemInfo struct {
	OS      string
	Arch    string
	Is64Bit bool
}

// AnnotationType tags the encoding of an Annotation's Value, the way
// Crashpad's crashpad::Annotation::Type distinguishes a plain string from
// richer structured payloads. This module only ever produces
// AnnotationTypeString today; the tag exists so a future producer (or a
// dump taken by a different implementation) can carry other encodings
// through unchanged.
type AnnotationType uint32

const (
	AnnotationTypeInvalid AnnotationType = 0
	AnnotationTypeString  AnnotationType = 1
)

// Annotation is one entry of the typed annotation list: a name, a type
// tag, and the raw encoded bytes of its value. Unlike Annotations (a flat
// string-to-string map meant for simple key/value pairs an uploader can
// read directly), this list is the richer form spec.md describes for
// values that carry their own encoding.
type Annotation struct {
	Name  string
	Type  AnnotationType
	Value []byte
}

// ProcessSnapshot is the complete, self-contained projection of a crashed
// process: modules, threads, a slice of its memory, the fault that
// triggered capture, system info, and free-form annotations. Each sub-
// entity's lifetime is strictly contained within the snapshot; it holds no
// reference back to the live process.
type ProcessSnapshot struct {
	ProcessID       int
	ParentProcessID int
	CreationTime    int64
	SystemInfo      SystemInfo
	Modules         []Module
	Threads         []Thread
	MemoryRegions   []MemoryRegion
	Exception       *Exception
	Annotations     map[string]string
	TypedAnnotations []Annotation
}

// SanitizationPolicy restricts what a snapshot exposes: an allowlist of
// annotation names. A nil policy (or nil AllowedAnnotations) allows
// everything.
type SanitizationPolicy struct {
	AllowedAnnotations map[string]bool
}

func (p *SanitizationPolicy) filterAnnotations(in map[string]string) map[string]string {
	if p == nil || p.AllowedAnnotations == nil {
		return in
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if p.AllowedAnnotations[k] {
			out[k] = v
		}
	}
	return out
}

// typedAnnotations projects the flat annotations map into the typed
// annotation list spec.md describes, tagging every entry as a plain
// string. Sorted by name so BuildSnapshot stays a pure function of its
// inputs (map iteration order is not stable).
func typedAnnotations(annotations map[string]string) []Annotation {
	if len(annotations) == 0 {
		return nil
	}
	names := make([]string, 0, len(annotations))
	for k := range annotations {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]Annotation, 0, len(names))
	for _, name := range names {
		out = append(out, Annotation{Name: name, Type: AnnotationTypeString, Value: []byte(annotations[name])})
	}
	return out
}

const defaultStackCaptureBytes = 32 * 1024

// BuildSnapshot builds a snapshot from the reader's outputs plus the
// handler-supplied annotations and an optional sanitization policy: given
// the same reader projection, annotations, and policy, it produces the
// same snapshot except for CreationTime, which is the capture time read
// from the clock. It calls Suspend before capturing and never resumes the
// target itself; resumption is left to the caller's Detach.
func BuildSnapshot(r procreader.Reader, exceptionThreadID uint32, exceptionCode uint32, exceptionAddress, contextAddress uint64, annotations map[string]string, policy *SanitizationPolicy) (*ProcessSnapshot, error) {
	if err := r.Suspend(); err != nil {
		return nil, err
	}

	rawModules, err := r.Modules()
	if err != nil {
		return nil, err
	}
	modules := make([]Module, 0, len(rawModules))
	for i, m := range rawModules {
		// A module list racing dlopen/LoadLibrary may include entries
		// whose headers have not yet been filled; skip zero-size entries
		// rather than abort the capture.
		if m.Size == 0 && i != 0 {
			continue
		}
		modules = append(modules, Module{Name: m.Name, BaseAddress: m.BaseAddress, Size: m.Size})
	}

	rawThreads, err := r.Threads()
	if err != nil {
		return nil, err
	}
	threads := make([]Thread, 0, len(rawThreads))
	var regions []MemoryRegion
	for _, t := range rawThreads {
		threads = append(threads, Thread{
			ThreadID:      t.ThreadID,
			SchedPriority: t.SchedPriority,
			StackBase:     t.StackBase,
			StackSize:     t.StackSize,
			TLSAddress:    t.TLSAddress,
			Context:       t.Context,
		})
		if t.ThreadID != exceptionThreadID || t.StackBase == 0 {
			continue
		}
		size := t.StackSize
		if size == 0 || size > defaultStackCaptureBytes {
			size = defaultStackCaptureBytes
		}
		buf := make([]byte, size)
		n, rerr := r.ReadMemory(t.StackBase, buf)
		if rerr == nil && n > 0 {
			regions = append(regions, MemoryRegion{BaseAddress: t.StackBase, Data: buf[:n]})
		}
	}

	filtered := policy.filterAnnotations(annotations)
	snap := &ProcessSnapshot{
		ProcessID:        r.ProcessID(),
		ParentProcessID:  r.ParentProcessID(),
		CreationTime:     time.Now().Unix(),
		SystemInfo: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Is64Bit: r.Is64Bit(),
		},
		Modules:          modules,
		Threads:          threads,
		MemoryRegions:    regions,
		Annotations:      filtered,
		TypedAnnotations: typedAnnotations(filtered),
	}
	if exceptionThreadID != 0 || exceptionCode != 0 {
		snap.Exception = &Exception{
			ThreadID:         exceptionThreadID,
			ExceptionCode:    exceptionCode,
			ExceptionAddress: exceptionAddress,
			ContextAddress:   contextAddress,
		}
	}
	return snap, nil
}

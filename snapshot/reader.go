package snapshot

import (
	"encoding/binary"
	"io"

	crashcore "github.com/crashcore/crashcore"
	"github.com/crashcore/crashcore/internal/wire"
)

// Parse reads a dump file written by Write and reconstructs its
// ProcessSnapshot. Unrecognized stream types are skipped, matching the
// forward-compatibility contract of the on-wire format.
func Parse(r io.Reader) (*ProcessSnapshot, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, crashcore.Wrap("Snapshot.Parse", err)
	}
	if len(raw) < wire.HeaderSize {
		return nil, crashcore.Wrap("Snapshot.Parse", wire.ErrShortBuffer)
	}

	header, err := wire.UnmarshalHeader(raw)
	if err != nil {
		return nil, crashcore.Wrap("Snapshot.Parse", err)
	}
	if header.Magic != wire.MinidumpMagic {
		return nil, crashcore.New("Snapshot.Parse", crashcore.CodeCorrupt, "bad minidump magic")
	}
	if header.Version != wire.MinidumpVersion {
		return nil, crashcore.New("Snapshot.Parse", crashcore.CodeCorrupt, "unsupported minidump version")
	}

	snap := &ProcessSnapshot{}
	dirStart := int(header.StreamDirectoryOffset)
	for i := uint32(0); i < header.NumStreams; i++ {
		entryStart := dirStart + int(i)*wire.StreamDirectoryEntrySize
		if entryStart+wire.StreamDirectoryEntrySize > len(raw) {
			return nil, crashcore.New("Snapshot.Parse", crashcore.CodeCorrupt, "truncated stream directory")
		}
		entry, err := wire.UnmarshalStreamDirectoryEntry(raw[entryStart:])
		if err != nil {
			return nil, crashcore.Wrap("Snapshot.Parse", err)
		}
		start := int(entry.Offset)
		end := start + int(entry.Length)
		if start < 0 || end > len(raw) || end < start {
			return nil, crashcore.New("Snapshot.Parse", crashcore.CodeCorrupt, "stream out of bounds")
		}
		data := raw[start:end]

		switch entry.StreamType {
		case wire.StreamThreadList:
			snap.Threads, err = parseThreadList(data)
		case wire.StreamModuleList:
			snap.Modules, err = parseModuleList(data)
		case wire.StreamMemoryList:
			snap.MemoryRegions, err = parseMemoryList(data)
		case wire.StreamException:
			snap.Exception, err = parseException(data)
		case wire.StreamSystemInfo:
			snap.SystemInfo, err = parseSystemInfo(data)
		case wire.StreamMiscInfo:
			err = parseMiscInfo(data, snap)
		case wire.StreamAnnotations:
			snap.Annotations, err = parseAnnotations(data)
		case wire.StreamTypedAnnotations:
			snap.TypedAnnotations, err = parseTypedAnnotations(data)
		default:
			// Unknown stream type: skip without failing the parse.
		}
		if err != nil {
			return nil, crashcore.Wrap("Snapshot.Parse", err)
		}
	}
	return snap, nil
}

func parseThreadList(data []byte) ([]Thread, error) {
	if len(data) < 4 {
		return nil, wire.ErrShortBuffer
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	off := 4
	threads := make([]Thread, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+36 > len(data) {
			return nil, wire.ErrShortBuffer
		}
		t := Thread{
			ThreadID:      binary.LittleEndian.Uint32(data[off : off+4]),
			SchedPriority: int(int32(binary.LittleEndian.Uint32(data[off+4 : off+8]))),
			StackBase:     binary.LittleEndian.Uint64(data[off+8 : off+16]),
			StackSize:     binary.LittleEndian.Uint64(data[off+16 : off+24]),
			TLSAddress:    binary.LittleEndian.Uint64(data[off+24 : off+32]),
		}
		off += 32
		ctxLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		if off+ctxLen > len(data) {
			return nil, wire.ErrShortBuffer
		}
		if ctxLen > 0 {
			t.Context = append([]byte(nil), data[off:off+ctxLen]...)
		}
		off += ctxLen
		threads = append(threads, t)
	}
	return threads, nil
}

func parseModuleList(data []byte) ([]Module, error) {
	if len(data) < 4 {
		return nil, wire.ErrShortBuffer
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	off := 4
	modules := make([]Module, 0, count)
	for i := uint32(0); i < count; i++ {
		name, n, err := wire.GetString(data[off:])
		if err != nil {
			return nil, err
		}
		off += n
		if off+16 > len(data) {
			return nil, wire.ErrShortBuffer
		}
		m := Module{
			Name:        name,
			BaseAddress: binary.LittleEndian.Uint64(data[off : off+8]),
			Size:        binary.LittleEndian.Uint64(data[off+8 : off+16]),
		}
		off += 16
		modules = append(modules, m)
	}
	return modules, nil
}

func parseMemoryList(data []byte) ([]MemoryRegion, error) {
	if len(data) < 4 {
		return nil, wire.ErrShortBuffer
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	off := 4
	regions := make([]MemoryRegion, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+12 > len(data) {
			return nil, wire.ErrShortBuffer
		}
		base := binary.LittleEndian.Uint64(data[off : off+8])
		length := int(binary.LittleEndian.Uint32(data[off+8 : off+12]))
		off += 12
		if off+length > len(data) {
			return nil, wire.ErrShortBuffer
		}
		regions = append(regions, MemoryRegion{BaseAddress: base, Data: append([]byte(nil), data[off:off+length]...)})
		off += length
	}
	return regions, nil
}

func parseException(data []byte) (*Exception, error) {
	if len(data) < 24 {
		return nil, wire.ErrShortBuffer
	}
	return &Exception{
		ThreadID:         binary.LittleEndian.Uint32(data[0:4]),
		ExceptionCode:    binary.LittleEndian.Uint32(data[4:8]),
		ExceptionAddress: binary.LittleEndian.Uint64(data[8:16]),
		ContextAddress:   binary.LittleEndian.Uint64(data[16:24]),
	}, nil
}

func parseSystemInfo(data []byte) (SystemInfo, error) {
	os, n, err := wire.GetString(data)
	if err != nil {
		return SystemInfo{}, err
	}
	arch, n2, err := wire.GetString(data[n:])
	if err != nil {
		return SystemInfo{}, err
	}
	off := n + n2
	if off >= len(data) {
		return SystemInfo{}, wire.ErrShortBuffer
	}
	return SystemInfo{OS: os, Arch: arch, Is64Bit: data[off] == 1}, nil
}

func parseMiscInfo(data []byte, snap *ProcessSnapshot) error {
	if len(data) < 16 {
		return wire.ErrShortBuffer
	}
	snap.ProcessID = int(binary.LittleEndian.Uint32(data[0:4]))
	snap.ParentProcessID = int(binary.LittleEndian.Uint32(data[4:8]))
	snap.CreationTime = int64(binary.LittleEndian.Uint64(data[8:16]))
	return nil
}

func parseAnnotations(data []byte) (map[string]string, error) {
	if len(data) < 4 {
		return nil, wire.ErrShortBuffer
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	off := 4
	out := make(map[string]string, count)
	for i := uint32(0); i < count; i++ {
		key, n, err := wire.GetString(data[off:])
		if err != nil {
			return nil, err
		}
		off += n
		val, n2, err := wire.GetString(data[off:])
		if err != nil {
			return nil, err
		}
		off += n2
		out[key] = val
	}
	return out, nil
}

func parseTypedAnnotations(data []byte) ([]Annotation, error) {
	if len(data) < 4 {
		return nil, wire.ErrShortBuffer
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	if count == 0 {
		return nil, nil
	}
	off := 4
	out := make([]Annotation, 0, count)
	for i := uint32(0); i < count; i++ {
		name, n, err := wire.GetString(data[off:])
		if err != nil {
			return nil, err
		}
		off += n
		if off+8 > len(data) {
			return nil, wire.ErrShortBuffer
		}
		typ := binary.LittleEndian.Uint32(data[off : off+4])
		valLen := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if off+valLen > len(data) {
			return nil, wire.ErrShortBuffer
		}
		value := append([]byte(nil), data[off:off+valLen]...)
		off += valLen
		out = append(out, Annotation{Name: name, Type: AnnotationType(typ), Value: value})
	}
	return out, nil
}

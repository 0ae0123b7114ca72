package snapshot

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/crashcore/crashcore/internal/wire"
)

type streamEntry struct {
	streamType uint32
	data       []byte
}

// Write serializes snap to w in the on-wire dump format: a header naming a
// magic, version, stream count, and stream directory offset; a directory
// of (type, length, offset) entries; then the stream bytes themselves in
// directory order. Writing is two-pass: every stream's bytes are built and
// sized before any offset is computed, so the directory can be written
// before the data it describes.
func Write(w io.Writer, snap *ProcessSnapshot) error {
	var streams []streamEntry

	streams = append(streams, streamEntry{wire.StreamThreadList, marshalThreadList(snap.Threads)})
	streams = append(streams, streamEntry{wire.StreamModuleList, marshalModuleList(snap.Modules)})
	streams = append(streams, streamEntry{wire.StreamMemoryList, marshalMemoryList(snap.MemoryRegions)})
	if snap.Exception != nil {
		streams = append(streams, streamEntry{wire.StreamException, marshalException(snap.Exception)})
	}
	streams = append(streams, streamEntry{wire.StreamSystemInfo, marshalSystemInfo(snap.SystemInfo)})
	streams = append(streams, streamEntry{wire.StreamMiscInfo, marshalMiscInfo(snap)})
	streams = append(streams, streamEntry{wire.StreamAnnotations, marshalAnnotations(snap.Annotations)})
	streams = append(streams, streamEntry{wire.StreamTypedAnnotations, marshalTypedAnnotations(snap.TypedAnnotations)})

	dirOffset := uint32(wire.HeaderSize)
	dataOffset := dirOffset + uint32(len(streams))*uint32(wire.StreamDirectoryEntrySize)

	entries := make([]wire.StreamDirectoryEntry, len(streams))
	offset := dataOffset
	for i, s := range streams {
		entries[i] = wire.StreamDirectoryEntry{
			StreamType: s.streamType,
			Length:     uint32(len(s.data)),
			Offset:     offset,
		}
		offset += uint32(len(s.data))
	}

	header := wire.Header{
		Magic:                 wire.MinidumpMagic,
		Version:               wire.MinidumpVersion,
		NumStreams:            uint32(len(streams)),
		StreamDirectoryOffset: dirOffset,
	}

	if _, err := w.Write(wire.MarshalHeader(&header)); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := w.Write(wire.MarshalStreamDirectoryEntry(&e)); err != nil {
			return err
		}
	}
	for _, s := range streams {
		if _, err := w.Write(s.data); err != nil {
			return err
		}
	}
	return nil
}

func marshalThreadList(threads []Thread) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(threads)))
	for _, t := range threads {
		writeUint32(&buf, t.ThreadID)
		writeUint32(&buf, uint32(t.SchedPriority))
		writeUint64(&buf, t.StackBase)
		writeUint64(&buf, t.StackSize)
		writeUint64(&buf, t.TLSAddress)
		writeUint32(&buf, uint32(len(t.Context)))
		buf.Write(t.Context)
	}
	return buf.Bytes()
}

func marshalModuleList(modules []Module) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(modules)))
	for _, m := range modules {
		writeString(&buf, m.Name)
		writeUint64(&buf, m.BaseAddress)
		writeUint64(&buf, m.Size)
	}
	return buf.Bytes()
}

func marshalMemoryList(regions []MemoryRegion) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(regions)))
	for _, r := range regions {
		writeUint64(&buf, r.BaseAddress)
		writeUint32(&buf, uint32(len(r.Data)))
		buf.Write(r.Data)
	}
	return buf.Bytes()
}

func marshalException(e *Exception) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, e.ThreadID)
	writeUint32(&buf, e.ExceptionCode)
	writeUint64(&buf, e.ExceptionAddress)
	writeUint64(&buf, e.ContextAddress)
	return buf.Bytes()
}

func marshalSystemInfo(s SystemInfo) []byte {
	var buf bytes.Buffer
	writeString(&buf, s.OS)
	writeString(&buf, s.Arch)
	if s.Is64Bit {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func marshalMiscInfo(snap *ProcessSnapshot) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(snap.ProcessID))
	writeUint32(&buf, uint32(snap.ParentProcessID))
	writeUint64(&buf, uint64(snap.CreationTime))
	return buf.Bytes()
}

func marshalAnnotations(annotations map[string]string) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(annotations)))
	for k, v := range annotations {
		writeString(&buf, k)
		writeString(&buf, v)
	}
	return buf.Bytes()
}

// marshalTypedAnnotations writes the typed annotation list: a count
// followed by, per entry, a length-prefixed name, a uint32 type tag, and a
// length-prefixed raw value.
func marshalTypedAnnotations(annotations []Annotation) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(annotations)))
	for _, a := range annotations {
		writeString(&buf, a.Name)
		writeUint32(&buf, uint32(a.Type))
		writeUint32(&buf, uint32(len(a.Value)))
		buf.Write(a.Value)
	}
	return buf.Bytes()
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	b := make([]byte, wire.StringSize(s))
	wire.PutString(b, s)
	buf.Write(b)
}

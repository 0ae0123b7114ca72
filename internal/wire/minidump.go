package wire

import "encoding/binary"

// Header is the fixed 32-byte prefix of every minidump file.
type Header struct {
	Magic                  uint32
	Version                uint32
	NumStreams             uint32
	StreamDirectoryOffset  uint32
	Checksum               uint32 // optional, 0 if unused
	Timestamp              uint32
	Flags                  uint64
}

const HeaderSize = 32

// MarshalHeader serializes a Header to its on-wire form.
func MarshalHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.NumStreams)
	binary.LittleEndian.PutUint32(buf[12:16], h.StreamDirectoryOffset)
	binary.LittleEndian.PutUint32(buf[16:20], h.Checksum)
	binary.LittleEndian.PutUint32(buf[20:24], h.Timestamp)
	binary.LittleEndian.PutUint64(buf[24:32], h.Flags)
	return buf
}

// UnmarshalHeader parses a Header from its on-wire form.
func UnmarshalHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrShortBuffer
	}
	var h Header
	h.Magic = binary.LittleEndian.Uint32(data[0:4])
	h.Version = binary.LittleEndian.Uint32(data[4:8])
	h.NumStreams = binary.LittleEndian.Uint32(data[8:12])
	h.StreamDirectoryOffset = binary.LittleEndian.Uint32(data[12:16])
	h.Checksum = binary.LittleEndian.Uint32(data[16:20])
	h.Timestamp = binary.LittleEndian.Uint32(data[20:24])
	h.Flags = binary.LittleEndian.Uint64(data[24:HeaderSize])
	return h, nil
}

// StreamDirectoryEntry locates one stream within the file.
type StreamDirectoryEntry struct {
	StreamType uint32
	Length     uint32
	Offset     uint32
}

const StreamDirectoryEntrySize = 12

func MarshalStreamDirectoryEntry(e *StreamDirectoryEntry) []byte {
	buf := make([]byte, StreamDirectoryEntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], e.StreamType)
	binary.LittleEndian.PutUint32(buf[4:8], e.Length)
	binary.LittleEndian.PutUint32(buf[8:12], e.Offset)
	return buf
}

func UnmarshalStreamDirectoryEntry(data []byte) (StreamDirectoryEntry, error) {
	if len(data) < StreamDirectoryEntrySize {
		return StreamDirectoryEntry{}, ErrShortBuffer
	}
	var e StreamDirectoryEntry
	e.StreamType = binary.LittleEndian.Uint32(data[0:4])
	e.Length = binary.LittleEndian.Uint32(data[4:8])
	e.Offset = binary.LittleEndian.Uint32(data[8:12])
	return e, nil
}

// PutString writes a length-prefixed UTF-8 string: a uint32 byte length
// followed by the raw bytes. Used for all variable-length string fields
// in snapshot streams.
func PutString(buf []byte, s string) int {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(s)))
	copy(buf[4:], s)
	return 4 + len(s)
}

// StringSize returns the serialized size of a length-prefixed string.
func StringSize(s string) int {
	return 4 + len(s)
}

// GetString reads a length-prefixed UTF-8 string written by PutString and
// returns the string plus the number of bytes consumed.
func GetString(buf []byte) (string, int, error) {
	if len(buf) < 4 {
		return "", 0, ErrShortBuffer
	}
	length := int(binary.LittleEndian.Uint32(buf[0:4]))
	if len(buf) < 4+length {
		return "", 0, ErrShortBuffer
	}
	return string(buf[4 : 4+length]), 4 + length, nil
}

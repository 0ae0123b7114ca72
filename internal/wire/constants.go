package wire

// Message type identifiers for the client<->handler IPC channel. Every
// frame on the wire begins with one of these as a little-endian uint32.
const (
	MsgRegisterRequest  = 0x01
	MsgRegisterResponse = 0x02
	MsgCrashDumpRequest = 0x03
	MsgDumpComplete     = 0x04
	MsgDumpFailed       = 0x05
	MsgShutdown         = 0x06
	MsgBrokerRequest    = 0x07
	MsgBrokerResponse   = 0x08
	MsgSetTracerPID     = 0x09
)

// Minidump stream type identifiers, assigned in the order streams are
// written by the dump writer.
const (
	StreamThreadList   = 1
	StreamModuleList   = 2
	StreamMemoryList   = 3
	StreamException    = 4
	StreamSystemInfo   = 5
	StreamMiscInfo      = 6
	StreamHandleData       = 7
	StreamAnnotations      = 8
	StreamTypedAnnotations = 9
)

// MinidumpMagic and MinidumpVersion identify the on-wire dump file format.
// A reader must reject any file whose magic or major version mismatch, and
// must skip any stream type it does not recognize.
const (
	MinidumpMagic   uint32 = 0x504d4443 // "CDMP" little-endian
	MinidumpVersion uint32 = 1
)

// frameHeaderSize is the fixed 8-byte header prefixing every IPC frame:
// a uint32 message type followed by a uint32 payload length.
const frameHeaderSize = 8

package wire

import (
	"encoding/binary"
	"fmt"
)

// Marshal converts a known wire type to its little-endian byte
// representation. Unknown types are a programmer error, not a runtime one:
// every type crossing the IPC boundary or written to a dump file must be
// registered here.
func Marshal(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case *RegisterRequest:
		return marshalRegisterRequest(val), nil
	case *RegisterResponse:
		return marshalRegisterResponse(val), nil
	case *CrashDumpRequest:
		return marshalCrashDumpRequest(val), nil
	case *DumpComplete:
		return marshalDumpComplete(val), nil
	case *DumpFailed:
		return marshalDumpFailed(val), nil
	case *Shutdown:
		return marshalShutdown(val), nil
	case *BrokerRequest:
		return marshalBrokerRequest(val), nil
	case *BrokerResponse:
		return marshalBrokerResponse(val), nil
	case *SetTracerPID:
		return marshalSetTracerPID(val), nil
	case *ExceptionInformation:
		return marshalExceptionInformation(val), nil
	default:
		return nil, fmt.Errorf("wire: marshal: unregistered type %T", v)
	}
}

// Unmarshal parses bytes into a known wire type, the inverse of Marshal.
func Unmarshal(data []byte, v interface{}) error {
	switch val := v.(type) {
	case *RegisterRequest:
		return unmarshalRegisterRequest(data, val)
	case *RegisterResponse:
		return unmarshalRegisterResponse(data, val)
	case *CrashDumpRequest:
		return unmarshalCrashDumpRequest(data, val)
	case *DumpComplete:
		return unmarshalDumpComplete(data, val)
	case *DumpFailed:
		return unmarshalDumpFailed(data, val)
	case *Shutdown:
		return unmarshalShutdown(data, val)
	case *BrokerRequest:
		return unmarshalBrokerRequest(data, val)
	case *BrokerResponse:
		return unmarshalBrokerResponse(data, val)
	case *SetTracerPID:
		return unmarshalSetTracerPID(data, val)
	case *ExceptionInformation:
		return unmarshalExceptionInformation(data, val)
	default:
		return fmt.Errorf("wire: unmarshal: unregistered type %T", v)
	}
}

// ErrShortBuffer is returned when a buffer is too small to hold the
// expected fixed-size wire struct.
var ErrShortBuffer = fmt.Errorf("wire: buffer too short")

func marshalRegisterRequest(m *RegisterRequest) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], m.ClientProcessID)
	binary.LittleEndian.PutUint64(buf[4:12], m.ExceptionInfoAddress)
	return buf
}

func unmarshalRegisterRequest(data []byte, m *RegisterRequest) error {
	if len(data) < 12 {
		return ErrShortBuffer
	}
	m.ClientProcessID = binary.LittleEndian.Uint32(data[0:4])
	m.ExceptionInfoAddress = binary.LittleEndian.Uint64(data[4:12])
	return nil
}

func marshalRegisterResponse(m *RegisterResponse) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], m.RequestDumpEventHandle)
	return buf
}

func unmarshalRegisterResponse(data []byte, m *RegisterResponse) error {
	if len(data) < 4 {
		return ErrShortBuffer
	}
	m.RequestDumpEventHandle = binary.LittleEndian.Uint32(data[0:4])
	return nil
}

func marshalCrashDumpRequest(m *CrashDumpRequest) []byte {
	buf := make([]byte, 28)
	binary.LittleEndian.PutUint64(buf[0:8], m.StackPointer)
	binary.LittleEndian.PutUint32(buf[8:12], m.ThreadID)
	binary.LittleEndian.PutUint64(buf[12:20], m.ClientInfo.ExceptionInfoAddress)
	binary.LittleEndian.PutUint64(buf[20:28], m.ClientInfo.SanitizationInfoAddress)
	return buf
}

func unmarshalCrashDumpRequest(data []byte, m *CrashDumpRequest) error {
	if len(data) < 28 {
		return ErrShortBuffer
	}
	m.StackPointer = binary.LittleEndian.Uint64(data[0:8])
	m.ThreadID = binary.LittleEndian.Uint32(data[8:12])
	m.ClientInfo.ExceptionInfoAddress = binary.LittleEndian.Uint64(data[12:20])
	m.ClientInfo.SanitizationInfoAddress = binary.LittleEndian.Uint64(data[20:28])
	return nil
}

func marshalDumpComplete(m *DumpComplete) []byte {
	buf := make([]byte, 16)
	copy(buf, m.ReportUUID[:])
	return buf
}

func unmarshalDumpComplete(data []byte, m *DumpComplete) error {
	if len(data) < 16 {
		return ErrShortBuffer
	}
	copy(m.ReportUUID[:], data[0:16])
	return nil
}

func marshalDumpFailed(m *DumpFailed) []byte {
	buf := make([]byte, 4+len(m.Reason))
	PutString(buf, m.Reason)
	return buf
}

func unmarshalDumpFailed(data []byte, m *DumpFailed) error {
	reason, _, err := GetString(data)
	if err != nil {
		return err
	}
	m.Reason = reason
	return nil
}

func marshalShutdown(m *Shutdown) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf[0:8], m.Token)
	return buf
}

func unmarshalShutdown(data []byte, m *Shutdown) error {
	if len(data) < 8 {
		return ErrShortBuffer
	}
	m.Token = binary.LittleEndian.Uint64(data[0:8])
	return nil
}

func marshalBrokerRequest(m *BrokerRequest) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], m.TargetProcessID)
	return buf
}

func unmarshalBrokerRequest(data []byte, m *BrokerRequest) error {
	if len(data) < 4 {
		return ErrShortBuffer
	}
	m.TargetProcessID = binary.LittleEndian.Uint32(data[0:4])
	return nil
}

func marshalBrokerResponse(m *BrokerResponse) []byte {
	buf := make([]byte, 8)
	if m.Success {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[4:8], uint32(m.Errno))
	return buf
}

func unmarshalBrokerResponse(data []byte, m *BrokerResponse) error {
	if len(data) < 8 {
		return ErrShortBuffer
	}
	m.Success = data[0] != 0
	m.Errno = int32(binary.LittleEndian.Uint32(data[4:8]))
	return nil
}

func marshalSetTracerPID(m *SetTracerPID) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], m.TracerProcessID)
	return buf
}

func unmarshalSetTracerPID(data []byte, m *SetTracerPID) error {
	if len(data) < 4 {
		return ErrShortBuffer
	}
	m.TracerProcessID = binary.LittleEndian.Uint32(data[0:4])
	return nil
}

func marshalExceptionInformation(m *ExceptionInformation) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], m.ThreadID)
	binary.LittleEndian.PutUint64(buf[4:12], m.ContextAddress)
	return buf
}

func unmarshalExceptionInformation(data []byte, m *ExceptionInformation) error {
	if len(data) < 12 {
		return ErrShortBuffer
	}
	m.ThreadID = binary.LittleEndian.Uint32(data[0:4])
	m.ContextAddress = binary.LittleEndian.Uint64(data[4:12])
	return nil
}

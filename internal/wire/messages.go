package wire

// RegisterRequest is sent by a client stub immediately after it connects to
// the handler, before any fault can occur. exception_info_address points at
// the process-stable ExceptionInformation block the client populates on
// fault.
type RegisterRequest struct {
	ClientProcessID      uint32
	ExceptionInfoAddress uint64
}

// RegisterResponse carries the handle the client signals to request a dump.
// On 64-bit clients the 32-bit handle value is sign-extended to pointer
// width by the caller, not by this struct.
type RegisterResponse struct {
	RequestDumpEventHandle uint32
}

// ClientInfo is the embedded descriptor block of a CrashDumpRequest.
type ClientInfo struct {
	ExceptionInfoAddress     uint64
	SanitizationInfoAddress  uint64 // 0 if no sanitization policy is active
}

// CrashDumpRequest is sent by the client stub's fault interceptor once it
// has populated ExceptionInformation at ExceptionInfoAddress.
type CrashDumpRequest struct {
	StackPointer uint64
	ThreadID     uint32
	ClientInfo   ClientInfo
}

// DumpComplete acknowledges a successful capture; the client is now free to
// terminate.
type DumpComplete struct {
	ReportUUID UUID
}

// DumpFailed acknowledges a capture failure; the client still terminates.
type DumpFailed struct {
	Reason string
}

// Shutdown requests the handler's event loop to drain and return. It is
// honored only when Token matches the server's randomly generated startup
// token.
type Shutdown struct {
	Token uint64
}

// BrokerRequest asks a privileged peer to perform a ptrace attach on behalf
// of an unprivileged handler (Linux-specific fan-out, see
// util/linux/ptrace_broker.cc in the original implementation).
type BrokerRequest struct {
	TargetProcessID uint32
}

// BrokerResponse carries the result of a BrokerRequest.
type BrokerResponse struct {
	Success bool
	Errno   int32
}

// SetTracerPID names the pid a client should allow to ptrace it under
// Linux Yama ptrace_scope rules. Only the message and its encoding are
// defined here; internal/ipcserver does not send it.
type SetTracerPID struct {
	TracerProcessID uint32
}

// ExceptionInformation is the small, process-stable structure the client
// stub populates in its own address space on fault. The handler reads it
// read-only through the Process Reader; it never writes to client memory.
type ExceptionInformation struct {
	// ThreadID is the faulting thread's kernel-level id.
	ThreadID uint32
	// ContextAddress points at the OS-supplied exception/register context
	// (ucontext_t on Linux, CONTEXT on Windows, mcontext on Darwin).
	ContextAddress uint64
}

// Package crashcore ties together the database, snapshot, handler-server,
// upload/prune workers, and client stub into the out-of-process crash
// capture and reporting core.
package crashcore

import (
	"errors"
	"fmt"
	"syscall"
)

// Code is the high-level error taxonomy every layer surfaces through.
type Code string

const (
	CodeIOError           Code = "io error"
	CodeNotFound          Code = "not found"
	CodeBusy              Code = "busy"
	CodeCorrupt           Code = "corrupt"
	CodeProtocolError     Code = "protocol error"
	CodePermissionDenied  Code = "permission denied"
	CodeTransportError    Code = "transport error"
	CodeInternal          Code = "internal error"
)

// Error is a structured error carrying the failing operation, an error
// code, and an optional wrapped errno/cause. It implements errors.Is/As so
// callers can match on Code without string comparison.
type Error struct {
	Op    string        // e.g. "Database.PrepareNewReport"
	Code  Code          // high-level category
	Errno syscall.Errno // kernel errno, 0 if not applicable
	Msg   string        // human-readable detail
	Inner error         // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		if e.Errno != 0 {
			return fmt.Sprintf("crashcore: %s: %s (errno=%d)", e.Op, msg, e.Errno)
		}
		return fmt.Sprintf("crashcore: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("crashcore: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is comparisons against another *Error: the two match
// when their Codes are equal.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// New creates a structured error with the given operation, code, and
// message.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// Wrap attaches an operation name to an existing error, preserving its code
// if it is already a *Error and mapping syscall.Errno to a code otherwise.
func Wrap(op string, err error) *Error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*Error); ok {
		return &Error{Op: op, Code: ce.Code, Errno: ce.Errno, Msg: ce.Msg, Inner: ce.Inner}
	}
	if errno, ok := err.(syscall.Errno); ok {
		return &Error{Op: op, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: err}
	}
	return &Error{Op: op, Code: CodeIOError, Msg: err.Error(), Inner: err}
}

func mapErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.ENOENT:
		return CodeNotFound
	case syscall.EBUSY, syscall.EAGAIN:
		return CodeBusy
	case syscall.EPERM, syscall.EACCES:
		return CodePermissionDenied
	case syscall.EINVAL, syscall.E2BIG:
		return CodeProtocolError
	default:
		return CodeIOError
	}
}

// IsCode reports whether err's chain contains a *Error with the given code.
func IsCode(err error, code Code) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// Sentinel convenience errors for the most common database outcomes; they
// carry no operation context and are meant to be wrapped with Wrap at the
// call site that knows which operation failed.
var (
	ErrNotFound         = New("", CodeNotFound, "report not found")
	ErrBusy             = New("", CodeBusy, "report lease held elsewhere")
	ErrCorrupt          = New("", CodeCorrupt, "settings or report metadata failed validation")
	ErrNotImplemented   = New("", CodeInternal, "not implemented on this platform")
)

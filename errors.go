package nsaas

import (
	"errors"
	"fmt"
)

// Error is a structured nsaas error with operation context and an
// ErrorCode drawn from the taxonomy the controller protocol and the
// datapath distinguish between.
type Error struct {
	Op    string    // operation that failed (e.g. "Attach", "SendMsg", "Connect")
	Code  ErrorCode // high-level error category
	Msg   string    // human-readable detail
	Inner error     // wrapped error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Inner != nil {
		msg = e.Inner.Error()
	}
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("nsaas: %s: %s (%s)", e.Op, msg, e.Code)
	}
	return fmt.Sprintf("nsaas: %s (%s)", msg, e.Code)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is lets callers compare by category: errors.Is(err, nsaas.ResourceExhausted).
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if code, ok := target.(ErrorCode); ok {
		return e.Code == code
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode is the error taxonomy exposed across the library's boundary:
// the controller RPC, the in-channel control ring, and the datapath all
// report failures in terms of one of these categories.
type ErrorCode string

func (c ErrorCode) Error() string { return string(c) }

const (
	// InvalidArgument means the caller passed a value the API rejects
	// outright (oversized message, malformed address, zero-length send).
	InvalidArgument ErrorCode = "invalid argument"

	// ResourceExhausted means a bounded resource ran out: the buffer
	// pool had too few free buffers, or a ring was full.
	ResourceExhausted ErrorCode = "resource exhausted"

	// ControllerUnavailable means the controller process could not be
	// reached (socket connect/register failure) or stopped answering
	// control-ring requests within the retry budget.
	ControllerUnavailable ErrorCode = "controller unavailable"

	// ProtocolViolation means a response did not match what the wire
	// protocol guarantees (id mismatch, malformed header, unknown
	// opcode) — something the controller should never send.
	ProtocolViolation ErrorCode = "protocol violation"

	// Fatal means the shared-memory segment's invariants were found to
	// be broken (buffer magic mismatch, copied-bytes accounting
	// mismatch). This code
	// exists for callers that catch the resulting panic (internal/fault
	// and internal/segment abort directly rather than returning an
	// error the caller could mistake for recoverable) and still want to
	// classify it.
	Fatal ErrorCode = "fatal"
)

// NewError builds a structured error with no wrapped cause.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// WrapError re-wraps inner under op, preserving inner's code when it is
// already a *Error, otherwise defaulting to ProtocolViolation for
// unrecognized causes (a syscall error from a transport the caller did
// not expect to fail that way).
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ne, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: ne.Code, Msg: ne.Msg, Inner: ne.Inner}
	}
	return &Error{Op: op, Code: ProtocolViolation, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is a *Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

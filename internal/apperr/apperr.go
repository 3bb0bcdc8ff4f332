// Package apperr holds the user-facing error taxonomy shared by the
// workflow stages. Every kind is recoverable in place; defects in stage
// guard enforcement panic through Invariant instead.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindDeviceUnavailable Kind = "device_unavailable"
	KindTransport         Kind = "transport"
	KindRemoteRejection   Kind = "remote_rejection"
)

const genericTransportMessage = "failed to reach the evaluator"

// Error is a user-facing failure. Error() returns only the message meant for
// the candidate; the wrapped cause stays reachable through errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: k})
// works as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func DeviceUnavailable(err error) *Error {
	msg := "camera or microphone is unavailable"
	if err != nil {
		msg = fmt.Sprintf("%s: %s", msg, err)
	}
	return &Error{Kind: KindDeviceUnavailable, Message: msg, Err: err}
}

// Transport surfaces the transport error verbatim, falling back to a generic
// message when there is nothing to show.
func Transport(err error) *Error {
	e := &Error{Kind: KindTransport, Err: err}
	if err == nil || err.Error() == "" {
		e.Message = genericTransportMessage
	}
	return e
}

// Rejection builds a remote rejection. An empty detail falls back to the
// HTTP status text.
func Rejection(status int, detail string) *Error {
	if detail == "" {
		detail = fmt.Sprintf("evaluator rejected the request: %d %s", status, http.StatusText(status))
	}
	return &Error{Kind: KindRemoteRejection, Message: detail, Status: status}
}

// KindOf returns the kind of the first *Error in the chain, or "" when the
// error is not part of the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// InvariantViolation is the panic value raised by Invariant.
type InvariantViolation struct {
	Message string
}

func (v InvariantViolation) Error() string {
	return "invariant violation: " + v.Message
}

// Invariant panics. It marks states that stage guards must make unreachable.
func Invariant(format string, args ...any) {
	panic(InvariantViolation{Message: fmt.Sprintf(format, args...)})
}

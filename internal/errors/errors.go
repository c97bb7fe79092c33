// Package herrors defines the fatal error taxonomy shared by every H6
// component. Every error the core raises while decoding, linking or
// running a module is one of these kinds; the interpreter never
// recovers from one, it only surfaces it to the host.
package herrors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is one of the fatal error categories the core can raise.
type Kind string

const (
	MalformedModule Kind = "MalformedModule"
	TypeMismatch    Kind = "TypeMismatch"
	StackUnderflow  Kind = "StackUnderflow"
	Arithmetic      Kind = "Arithmetic"
	DsoMissing      Kind = "DsoMissing"
	DsoUnresolved   Kind = "DsoUnresolved"
	UnsupportedOp   Kind = "UnsupportedOp"
	HostError       Kind = "HostError"
)

// Error is a fatal H6 runtime or link error. Name carries the one piece
// of context the spec calls out as worth surfacing verbatim — a missing
// DSO symbol name — and is empty otherwise.
type Error struct {
	Kind    Kind
	Message string
	Name    string
	cause   error
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s: %q", e.Kind, e.Message, e.Name)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the captured stack trace to errors.Is/As and to any
// %+v formatting performed by github.com/pkg/errors.
func (e *Error) Unwrap() error { return e.cause }

// StackTrace returns the call stack captured when the error was created.
func (e *Error) StackTrace() pkgerrors.StackTrace {
	if st, ok := e.cause.(interface{ StackTrace() pkgerrors.StackTrace }); ok {
		return st.StackTrace()
	}
	return nil
}

// New builds a fatal error of the given kind with a stack trace attached.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: pkgerrors.WithStack(fmt.Errorf("%s", message))}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// WithName attaches a symbol/identifier name to an error (used by
// DsoUnresolved to surface the missing global's name to the host).
func WithName(kind Kind, message, name string) *Error {
	e := New(kind, message)
	e.Name = name
	return e
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if pkgerrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

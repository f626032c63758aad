// Package fault defines the error kinds shared by the geomask components.
//
// Every error produced by a component carries one Kind. Callers test for a
// kind with errors.Is against the matching sentinel:
//
//	if errors.Is(err, fault.ErrInputRejected) {
//		// show err.Error() to the user
//	}
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the caller should react to it
type Kind int

const (
	// InputRejected covers unsupported files and incomplete calibration.
	InputRejected Kind = iota + 1
	// ProcessingTimeout means normalization exceeded its time bound.
	ProcessingTimeout
	// ProcessingFailure is a decode or encode error outside the timeout path.
	ProcessingFailure
	// ValidationFailure is raised for an empty mask.
	ValidationFailure
	// TransformError is raised by the geocoding transform on degenerate input.
	TransformError
)

func (k Kind) String() string {
	switch k {
	case InputRejected:
		return "input rejected"
	case ProcessingTimeout:
		return "processing timeout"
	case ProcessingFailure:
		return "processing failure"
	case ValidationFailure:
		return "validation failure"
	case TransformError:
		return "transform error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is
var (
	ErrInputRejected = &Error{Kind: InputRejected}
	ErrTimeout       = &Error{Kind: ProcessingTimeout}
	ErrProcessing    = &Error{Kind: ProcessingFailure}
	ErrValidation    = &Error{Kind: ValidationFailure}
	ErrTransform     = &Error{Kind: TransformError}
)

// Error is a classified failure
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a classified error
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err under kind
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind carried by err, or 0 if it has none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

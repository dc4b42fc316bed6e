// Package errs defines the typed error kinds surfaced by familiar's core.
// Callers branch on kind with errors.Is against the sentinels or with KindOf.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	Other Kind = iota
	NotFound
	InvalidOperation
	AmbiguousState
	CorruptRecord
	InvalidArgument
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case InvalidOperation:
		return "invalid operation"
	case AmbiguousState:
		return "ambiguous state"
	case CorruptRecord:
		return "corrupt record"
	case InvalidArgument:
		return "invalid argument"
	default:
		return "error"
	}
}

// Sentinels for errors.Is.
var (
	ErrNotFound         = &Error{Kind: NotFound}
	ErrInvalidOperation = &Error{Kind: InvalidOperation}
	ErrAmbiguousState   = &Error{Kind: AmbiguousState}
	ErrCorruptRecord    = &Error{Kind: CorruptRecord}
	ErrInvalidArgument  = &Error{Kind: InvalidArgument}
)

// Error is a kinded error. Op names the failing operation, ID the record it
// concerned.
type Error struct {
	Kind Kind
	Op   string
	ID   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg = e.Msg
	}
	if e.ID != "" {
		msg = fmt.Sprintf("%s %q", msg, e.ID)
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

// Is matches any *Error of the same kind, so sentinels work through wraps.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds a kinded error.
func E(kind Kind, op, id, msg string) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Msg: msg}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, op, id string, err error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Other.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

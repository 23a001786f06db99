// Package errs defines the tagged error taxonomy shared by every core
// package. Callers branch on Kind rather than parsing messages.
package errs

import "fmt"

// Kind tags the category of failure a core operation reports.
type Kind int

const (
	Internal Kind = iota
	Unauthenticated
	Forbidden
	NotFound
	Conflict
	BadRequest
	Timeout
	ScriptError
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case BadRequest:
		return "bad_request"
	case Timeout:
		return "timeout"
	case ScriptError:
		return "script_error"
	default:
		return "internal"
	}
}

// Error is the single error type returned across component boundaries.
// It carries a stable Kind plus a caller-facing message, and optionally
// wraps an underlying cause (e.g. a database driver error) that is never
// exposed in Msg.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an *Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an *Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and caller-facing message to an underlying error
// without leaking the underlying error's text to the caller.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Internalf wraps err as Internal, used for database/driver failures that
// should never reach the caller verbatim.
func Internalf(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: Internal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else Internal.
func KindOf(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is (or wraps) an *Error with the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

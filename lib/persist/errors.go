package persist

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// ErrCode classifies store errors
type ErrCode uint64

const (
	ErrCUnknown             ErrCode = iota // 0: Unclassified failure.
	ErrCNotFound                           // 1: No snapshot exists or the parent directory is missing.
	ErrCIOFailure                          // 2: A file or archive operation failed.
	ErrCApplicationQuitting                // 3: The executor is stopping and rejected new work.
	ErrCCancelled                          // 4: A superseded flush timer. Never surfaced as a failure.
	ErrCClosed                             // 5: The store was closed.
)

func (c ErrCode) String() string {
	switch c {
	case ErrCNotFound:
		return "NotFound"
	case ErrCIOFailure:
		return "IOFailure"
	case ErrCApplicationQuitting:
		return "ApplicationQuitting"
	case ErrCCancelled:
		return "Cancelled"
	case ErrCClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is. A *Error matches the sentinel of its code.
var (
	ErrNotFound            = &Error{Code: ErrCNotFound}
	ErrIOFailure           = &Error{Code: ErrCIOFailure}
	ErrApplicationQuitting = &Error{Code: ErrCApplicationQuitting}
	ErrCancelled           = &Error{Code: ErrCCancelled}
	ErrClosed              = &Error{Code: ErrCClosed}
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type of the store. It carries a code, the failed
// operation, the affected path and the underlying cause.
type Error struct {
	Code ErrCode
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("persist (code %s)", e.Code)
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors with the same code, so every *Error matches its sentinel
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// newError creates an error and attaches a stack trace to the cause
func newError(code ErrCode, op, path string, cause error) *Error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Code: code, Op: op, Path: path, Err: cause}
}

// ioError wraps a filesystem failure
func ioError(op, path string, cause error) *Error {
	return newError(ErrCIOFailure, op, path, cause)
}

// CodeOf returns the code of the first *Error in err's chain
func CodeOf(err error) (ErrCode, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return ErrCUnknown, false
	}
	return e.Code, true
}

func hasCode(err error, code ErrCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsNotFound reports whether err means that no snapshot exists
func IsNotFound(err error) bool {
	return hasCode(err, ErrCNotFound)
}

// IsIOFailure reports whether err is a filesystem or archive failure
func IsIOFailure(err error) bool {
	return hasCode(err, ErrCIOFailure)
}

// IsApplicationQuitting reports whether err was caused by a stopping executor
func IsApplicationQuitting(err error) bool {
	return hasCode(err, ErrCApplicationQuitting)
}

// IsClosed reports whether err was returned because the store was closed
func IsClosed(err error) bool {
	return hasCode(err, ErrCClosed)
}

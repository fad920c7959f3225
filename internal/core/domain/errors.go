package domain

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind tags a pipeline failure. Retry and abort decisions are made on the
// kind, never on the error text.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindDataNotFound
	KindTransient
	KindCorruption
	KindCircuitOpen
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindDataNotFound:
		return "DataNotFoundError"
	case KindTransient:
		return "TransientServiceError"
	case KindCorruption:
		return "CorruptionError"
	case KindCircuitOpen:
		return "CircuitBreakerTripped"
	default:
		return "UnknownError"
	}
}

// ParseKind is the inverse of Kind.String. Unrecognised names map to KindUnknown.
func ParseKind(s string) Kind {
	for k := KindValidation; k <= KindCircuitOpen; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindUnknown
}

// Error is the single failure type that crosses step boundaries.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	// Err is the underlying cause, if any.
	Err error

	trace error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// StackTrace renders the call stack captured when the error was created.
func (e *Error) StackTrace() string {
	if e.trace == nil {
		return ""
	}
	return eris.ToString(e.trace, true)
}

// WithMessage returns a copy of e carrying a different message and retry flag.
// The kind, cause and captured stack are preserved.
func (e *Error) WithMessage(msg string, retryable bool) *Error {
	cp := *e
	cp.Message = msg
	cp.Retryable = retryable
	return &cp
}

func newError(kind Kind, retryable bool, cause error, msg string) *Error {
	var trace error
	if cause != nil {
		trace = eris.Wrap(cause, msg)
	} else {
		trace = eris.New(msg)
	}
	return &Error{Kind: kind, Message: msg, Retryable: retryable, Err: cause, trace: trace}
}

// NewValidation reports input or output that violates a contract.
func NewValidation(format string, args ...any) *Error {
	return newError(KindValidation, false, nil, fmt.Sprintf(format, args...))
}

// NewDataNotFound reports that required external data is unavailable.
func NewDataNotFound(format string, args ...any) *Error {
	return newError(KindDataNotFound, false, nil, fmt.Sprintf(format, args...))
}

// NewTransient reports a temporary external-service failure.
func NewTransient(format string, args ...any) *Error {
	return newError(KindTransient, true, nil, fmt.Sprintf(format, args...))
}

// NewCorruption reports an artifact that is missing, empty or unparseable.
func NewCorruption(format string, args ...any) *Error {
	return newError(KindCorruption, false, nil, fmt.Sprintf(format, args...))
}

// NewCircuitOpen reports that the circuit breaker tripped.
func NewCircuitOpen(format string, args ...any) *Error {
	return newError(KindCircuitOpen, false, nil, fmt.Sprintf(format, args...))
}

// Wrap tags cause with kind. Retryability follows the kind's default.
func Wrap(kind Kind, cause error, msg string) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	} else if cause != nil {
		msg = msg + ": " + cause.Error()
	}
	return newError(kind, kind == KindTransient, cause, msg)
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// IsRetryable reports whether err is a domain error flagged retryable.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	return ok && e.Retryable
}

// IsFatal reports whether err is a corruption or a breaker trip. Neither is
// retried.
func IsFatal(err error) bool {
	k := KindOf(err)
	return k == KindCorruption || k == KindCircuitOpen
}

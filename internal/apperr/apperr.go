// Package apperr carries the error taxonomy shared by the server and the
// client: every domain error has a Kind that decides how callers react
// (surface, retry, or treat as done) and a stable wire Code.
package apperr

import "errors"

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindPermission
	KindConflict
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

func ParseKind(s string) Kind {
	switch s {
	case "validation":
		return KindValidation
	case "not_found":
		return KindNotFound
	case "permission":
		return KindPermission
	case "conflict":
		return KindConflict
	case "transient":
		return KindTransient
	default:
		return KindUnknown
	}
}

// Error is a coded domain error. Two errors with the same Code are
// considered equal by errors.Is, so an error decoded off the wire
// matches the sentinel it was produced from.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the wire code of err, or "INTERNAL" when err carries none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}

// Transient wraps err (typically a network or timeout failure) as a
// transient error while keeping the cause in the chain.
func Transient(op string, err error) error {
	return &wrapped{
		coded: &Error{Kind: KindTransient, Code: "TRANSIENT", Message: op + ": " + err.Error()},
		cause: err,
	}
}

type wrapped struct {
	coded *Error
	cause error
}

func (w *wrapped) Error() string   { return w.coded.Message }
func (w *wrapped) Unwrap() []error { return []error{w.coded, w.cause} }

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

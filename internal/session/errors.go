package session

import "errors"

// Kind is a stable machine-readable error category surfaced to callers.
type Kind string

const (
	KindNotOwner           Kind = "NOT_OWNER"
	KindInvalidSlot        Kind = "INVALID_SLOT"
	KindDuplicateSession   Kind = "DUPLICATE_SESSION"
	KindNotFoundOrClosed   Kind = "SESSION_NOT_FOUND_OR_CLOSED"
	KindSessionNotOpen     Kind = "SESSION_NOT_OPEN"
	KindStudentNotEligible Kind = "STUDENT_NOT_ELIGIBLE"
	KindAlreadyMarked      Kind = "ALREADY_MARKED"
	KindInvalidToken       Kind = "INVALID_TOKEN"
	KindValidation         Kind = "VALIDATION"
	KindUnavailable        Kind = "UNAVAILABLE"
)

// Error pairs a Kind with a human message. Validation, ownership, conflict and
// not-found errors are surfaced synchronously and never retried; UNAVAILABLE
// marks transient infrastructure failures the caller may retry.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a categorized error.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap attaches a cause to a categorized error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the Kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }

// ErrNotFound is the store-level sentinel for a missing session or record.
var ErrNotFound = errors.New("not found")

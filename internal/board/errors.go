package board

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure. The gateway uses it to decide
// what (if anything) goes back to the requesting session; kinds are
// never broadcast.
type Kind int

const (
	// KindValidation covers malformed input: empty text, unknown
	// column or card id format, bad sort order.
	KindValidation Kind = iota + 1

	// KindNotFound means the referenced card does not exist.
	KindNotFound

	// KindPermission means the requester is not allowed to perform
	// the operation (deleting another author's card).
	KindPermission

	// KindConflict means a color is already claimed by another live
	// session.
	KindConflict

	// KindDuplicateName means the display name is already in use by
	// another active session.
	KindDuplicateName
)

// String returns the kind as a short identifier.
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
	case KindDuplicateName:
		return "duplicate_name"
	default:
		return "unknown"
	}
}

// Error is a structured board error with a kind and a human-readable
// message suitable for sending to the offending client verbatim.
type Error struct {
	Kind    Kind
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Validationf builds a KindValidation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Permissionf builds a KindPermission error.
func Permissionf(format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a KindConflict error.
func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// DuplicateNamef builds a KindDuplicateName error.
func DuplicateNamef(format string, args ...any) *Error {
	return &Error{Kind: KindDuplicateName, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or 0 if err is not a board error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return 0
}

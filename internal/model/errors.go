package model

import "errors"

// Kind classifies a failure for the client. Every error returned by a
// component carries exactly one kind.
type Kind string

const (
	// KindAccessDenied: identity check failed; the connection stays
	// unauthenticated.
	KindAccessDenied Kind = "access_denied"
	// KindValidation: malformed or out-of-range input; state unchanged.
	KindValidation Kind = "validation"
	// KindStateConflict: the request does not fit the current state.
	KindStateConflict Kind = "state_conflict"
	// KindNotFound: the target entity is absent or offline.
	KindNotFound Kind = "not_found"
)

// Error is a classified domain error. Components declare sentinel values of
// this type and wrap them with context using fmt.Errorf("%w").
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

// NewError creates a classified sentinel error.
func NewError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

func (e *Error) Error() string { return e.Msg }

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified errors are reported as validation failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindValidation
}

// CodeOf returns the stable code of the first classified error in err's
// chain, or "Invalid" for unclassified errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "Invalid"
}

var (
	// ErrEmptyMessage is returned when a chat line is blank after trimming.
	ErrEmptyMessage = NewError(KindValidation, "EmptyMessage", "chat: message is empty")

	// ErrNotLoggedIn is returned for events sent before a successful login.
	ErrNotLoggedIn = NewError(KindStateConflict, "NotLoggedIn", "session: not logged in")
)

package registry

import "errors"

// Kind enumerates the error taxonomy surfaced to registry callers. Each
// maps to a fixed HTTP disposition in pkg/api.
type Kind string

const (
	KindAlreadyExists  Kind = "AlreadyExists"
	KindEntityNotFound Kind = "EntityNotFound"
	KindInvalidKind    Kind = "InvalidKind"
	KindCycleDetected  Kind = "CycleDetected"
	KindInUse          Kind = "InUse"
	KindNotLeader      Kind = "NotLeader"
	KindNoLeader       Kind = "NoLeader"
	KindUnauthorized   Kind = "Unauthorized"
	KindForbidden      Kind = "Forbidden"
	KindStorageError   Kind = "StorageError"
	KindConflict       Kind = "Conflict"
)

// Error is a typed registry error. Its Kind drives the HTTP status the API
// layer assigns to it; its Is method lets callers match against the
// sentinel values below with errors.Is.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the sentinel for e's Kind, so callers can
// write errors.Is(err, registry.ErrAlreadyExists).
func (e *Error) Is(target error) bool {
	s, ok := target.(*Error)
	if !ok {
		return false
	}
	return s.Kind == e.Kind && s.Message == ""
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Sentinel values usable with errors.Is(err, registry.ErrXxx). They carry no
// message, so Error.Is matches any *Error of the same Kind against them.
var (
	ErrAlreadyExists  = &Error{Kind: KindAlreadyExists}
	ErrEntityNotFound = &Error{Kind: KindEntityNotFound}
	ErrInvalidKind    = &Error{Kind: KindInvalidKind}
	ErrCycleDetected  = &Error{Kind: KindCycleDetected}
	ErrInUse          = &Error{Kind: KindInUse}
	ErrNotLeader      = &Error{Kind: KindNotLeader}
	ErrNoLeader       = &Error{Kind: KindNoLeader}
	ErrUnauthorized   = &Error{Kind: KindUnauthorized}
	ErrForbidden      = &Error{Kind: KindForbidden}
	ErrStorageError   = &Error{Kind: KindStorageError}
	ErrConflict       = &Error{Kind: KindConflict}
)

// KindOf extracts the Kind from err if it is (or wraps) a *Error, or the
// empty Kind otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

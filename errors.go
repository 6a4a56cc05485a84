package statehub

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures surfaced by statehub.
//
// Transport failures are always translated into one of these kinds before
// they reach a caller; raw HTTP or network errors are kept only as the
// wrapped cause of an [*Error].
type Kind int

const (
	// KindNetwork means a request failed, timed out, or got an unexpected
	// response from the backend.
	KindNetwork Kind = iota + 1

	// KindNotFound means a looked-up entity does not exist.
	KindNotFound

	// KindMutationFailed means the confirming request of an optimistic
	// mutation failed. The local change has already been rolled back when
	// a caller sees this kind.
	KindMutationFailed

	// KindInvalid means the caller supplied unusable input.
	KindInvalid
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindNotFound:
		return "not_found"
	case KindMutationFailed:
		return "mutation_failed"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Sentinel errors for use with errors.Is. An [*Error] matches the sentinel of
// its kind.
var (
	ErrNetwork        = errors.New("network error")
	ErrNotFound       = errors.New("not found")
	ErrMutationFailed = errors.New("mutation failed")
	ErrInvalid        = errors.New("invalid input")
)

// Error is the domain error returned by every statehub operation that can
// fail.
type Error struct {
	Kind       Kind
	Op         string // operation, e.g. "add", "lookup", "load"
	Collection string
	ID         string // entity ID, if the operation targeted one
	Msg        string // user-facing message; defaults to a generic text
	Err        error  // underlying cause
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	msg := fmt.Sprintf("%s %s", e.Collection, e.Op)
	if e.ID != "" {
		msg += " " + e.ID
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrMutationFailed:
		return e.Kind == KindMutationFailed
	case ErrInvalid:
		return e.Kind == KindInvalid
	}
	return false
}

// KindOf returns the kind of the first [*Error] in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// HTTPStatus maps an error to the HTTP status the mirror server responds
// with.
func HTTPStatus(err error) int {
	if errors.Is(err, ErrBusy) {
		return http.StatusConflict
	}
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalid:
		return http.StatusBadRequest
	case KindNetwork, KindMutationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

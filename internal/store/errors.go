package store

import (
	"errors"
	"fmt"

	"github.com/roach88/rxvault/internal/model"
)

// ErrorKind classifies a store failure.
type ErrorKind string

const (
	// KindInvalidState is returned when a write would break an entity
	// invariant, such as negative stock or a missing required field.
	KindInvalidState ErrorKind = "INVALID_STATE"

	// KindInvalidTransition is returned when a write would move an entity
	// backwards in its lifecycle.
	KindInvalidTransition ErrorKind = "INVALID_TRANSITION"

	// KindNotFound is returned when the addressed entity does not exist.
	KindNotFound ErrorKind = "NOT_FOUND"

	// KindConflict is returned when a write collides with another row's
	// unique key (a second medicine with the same name).
	KindConflict ErrorKind = "CONFLICT"
)

// ErrNotFound matches any *Error of kind KindNotFound via errors.Is.
var ErrNotFound = errors.New("not found")

// Error is the error type returned by store writes and lookups.
type Error struct {
	Kind       ErrorKind
	Collection model.Collection
	ID         string
	Message    string
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("[%s] %s %q: %s", e.Kind, e.Collection, e.ID, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Collection, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match not-found store errors.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

func invalidState(c model.Collection, id, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Collection: c, ID: id, Message: fmt.Sprintf(format, args...)}
}

func invalidTransition(c model.Collection, id, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Collection: c, ID: id, Message: fmt.Sprintf(format, args...)}
}

func notFound(c model.Collection, id string) *Error {
	return &Error{Kind: KindNotFound, Collection: c, ID: id, Message: "no such record"}
}

func conflict(c model.Collection, id, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Collection: c, ID: id, Message: fmt.Sprintf(format, args...)}
}

func hasKind(err error, kind ErrorKind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// IsInvalidState checks if an error is an invalid-state store error.
func IsInvalidState(err error) bool {
	return hasKind(err, KindInvalidState)
}

// IsInvalidTransition checks if an error is an invalid-transition store error.
func IsInvalidTransition(err error) bool {
	return hasKind(err, KindInvalidTransition)
}

// IsNotFound checks if an error is a not-found store error.
func IsNotFound(err error) bool {
	return hasKind(err, KindNotFound)
}

// IsConflict checks if an error is a unique-key conflict.
func IsConflict(err error) bool {
	return hasKind(err, KindConflict)
}

// IsInvariantViolation reports whether err is a store error the caller
// cannot fix by retrying: invalid state, invalid transition or conflict.
// The sync engine uses it to tell rejected inbound deltas from I/O failures.
func IsInvariantViolation(err error) bool {
	return IsInvalidState(err) || IsInvalidTransition(err) || IsConflict(err)
}

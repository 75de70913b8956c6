package domain

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes ledger errors into a closed set of tagged kinds.
// Callers branch on the kind rather than on error strings.
type ErrorKind string

// The full error taxonomy of the ledger core.
const (
	// KindValidation indicates malformed or missing input; no mutation was attempted.
	KindValidation ErrorKind = "validation"
	// KindDuplicateID indicates a registration collision on an existing unit id.
	KindDuplicateID ErrorKind = "duplicate_id"
	// KindNotFound indicates an operation on an unknown unit id.
	KindNotFound ErrorKind = "not_found"
	// KindInvalidTransition indicates the operation is not legal in the unit's
	// current lifecycle state.
	KindInvalidTransition ErrorKind = "invalid_transition"
	// KindUnparseablePayload indicates a codec decode failure on malformed,
	// truncated, or non-conforming input.
	KindUnparseablePayload ErrorKind = "unparseable_payload"
	// KindStorageUnavailable indicates persistence exhausted its retry budget.
	KindStorageUnavailable ErrorKind = "storage_unavailable"
	// KindConflict indicates an optimistic-concurrency loser; the caller
	// should re-read and retry.
	KindConflict ErrorKind = "conflict"
)

// Error is the tagged error type carried through all registry operations.
type Error struct {
	Kind    ErrorKind
	Entity  EntityType
	ID      string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.ID != "" && e.Message != "":
		return fmt.Sprintf("%s: %s %s: %s", e.Kind, e.Entity, e.ID, e.Message)
	case e.ID != "":
		return fmt.Sprintf("%s: %s %s", e.Kind, e.Entity, e.ID)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// NewError constructs a tagged error for the given kind.
func NewError(kind ErrorKind, entity EntityType, id, message string) *Error {
	return &Error{Kind: kind, Entity: entity, ID: id, Message: message}
}

// ValidationError reports malformed input before any state is touched.
func ValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// NotFoundError reports an operation against an unknown unit.
func NotFoundError(id string) *Error {
	return &Error{Kind: KindNotFound, Entity: EntityUnit, ID: id}
}

// DuplicateIDError reports a registration collision.
func DuplicateIDError(id string) *Error {
	return &Error{Kind: KindDuplicateID, Entity: EntityUnit, ID: id}
}

// KindOf extracts the error kind from err, unwrapping as needed. Returns the
// empty kind when err is not a tagged ledger error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind, unwrapping as needed.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool { return IsKind(err, KindConflict) }

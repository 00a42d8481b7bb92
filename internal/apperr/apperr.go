// Package apperr defines the error taxonomy shared by every component:
// a single Error type carrying a Kind, an opaque correlation id, and an
// optional wrapped cause. Handlers map kinds to HTTP statuses and return
// only the generic message plus the id; internal detail stays in the logs.
package apperr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies a failure for propagation and retry policy.
type Kind int

const (
	// KindInternal is an unexpected server-side failure.
	KindInternal Kind = iota
	// KindInvalidRequest is malformed input; the caller's fault, no retry.
	KindInvalidRequest
	// KindPermissionDenied is an authorization gate denial. It must not
	// leak existence information beyond "denied".
	KindPermissionDenied
	// KindNotFound marks a missing entity or binding.
	KindNotFound
	// KindCyclicGroup marks a group edge that would make the graph cyclic.
	KindCyclicGroup
	// KindDuplicateBinding marks a group that already holds the secret.
	KindDuplicateBinding
	// KindOrphanedSecret marks an edit that would leave a secret with no
	// admin-capable reachable identity.
	KindOrphanedSecret
	// KindMultiOrganization marks a secret whose bindings would span more
	// than one top-level organization.
	KindMultiOrganization
	// KindRetryableConflict wraps a storage serialization failure or
	// deadlock; the caller retries the entire operation from scratch.
	KindRetryableConflict
	// KindTransactionBusy marks concurrent use of one transaction token.
	KindTransactionBusy
	// KindRateLimited marks a throttled request.
	KindRateLimited
)

// String returns the stable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindCyclicGroup:
		return "cyclic_group"
	case KindDuplicateBinding:
		return "duplicate_binding"
	case KindOrphanedSecret:
		return "orphaned_secret"
	case KindMultiOrganization:
		return "multi_organization"
	case KindRetryableConflict:
		return "retryable_conflict"
	case KindTransactionBusy:
		return "transaction_busy"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error is the one error type crossing component boundaries.
type Error struct {
	Kind Kind
	// ID is an opaque correlation id returned to the caller and logged
	// server-side alongside the full detail.
	ID  string
	Msg string
	// Code is an optional machine-readable detail, e.g. the authorization
	// denial reason. Metrics label on it; user-facing text never does.
	Code string
	Err  error
}

// WithCode attaches a machine-readable detail code and returns the error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// New builds an Error of the given kind with a generated correlation id.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, ID: uuid.NewString(), Msg: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, ID: uuid.NewString(), Msg: msg, Err: err}
}

// Error implements the error interface with the full internal detail.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.ID, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.ID, e.Msg)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// UserMessage is the only text ever returned to a caller: the generic
// message without wrapped internal detail.
func (e *Error) UserMessage() string { return e.Msg }

// KindOf extracts the Kind from any error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the whole operation should be replayed from a
// fresh snapshot.
func Retryable(err error) bool {
	return IsKind(err, KindRetryableConflict)
}

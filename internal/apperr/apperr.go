// Package apperr defines the error taxonomy shared by every domain
// component, following the teacher's persistence/objectstore sentinel
// style but generalized to a single Kind-tagged type so call sites can
// branch on errors.Is against the exported sentinels regardless of
// which entity or store produced the failure.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers (job queue, HTTP layer, workers)
// can decide whether to retry, surface to the user, or page an operator.
type Kind int

const (
	// KindNotFound means the requested entity does not exist.
	KindNotFound Kind = iota
	// KindVersionConflict means an optimistic-concurrency check failed
	// (CAS write-op on a stale script_rev, CRDT update replay).
	KindVersionConflict
	// KindPermissionDenied means the caller does not own the resource.
	KindPermissionDenied
	// KindValidation means caller-supplied input failed a precondition.
	KindValidation
	// KindDependencyTransient means a downstream dependency (LLM,
	// embedding endpoint, database) failed in a way worth retrying.
	KindDependencyTransient
	// KindDependencyFatal means a downstream dependency failed in a way
	// retrying will not fix (bad API key, malformed response schema).
	KindDependencyFatal
	// KindInternalInvariant means code encountered a state it assumed
	// could not happen.
	KindInternalInvariant
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindVersionConflict:
		return "version_conflict"
	case KindPermissionDenied:
		return "permission_denied"
	case KindValidation:
		return "validation"
	case KindDependencyTransient:
		return "dependency_transient"
	case KindDependencyFatal:
		return "dependency_fatal"
	case KindInternalInvariant:
		return "internal_invariant"
	default:
		return "unknown"
	}
}

// Sentinels for the common case where callers only need errors.Is against
// the kind, not the entity/ID detail. Mirrors objectstore.ErrNotFound /
// persistence.ErrNotFound in shape: one var per failure mode, comparable
// with errors.Is regardless of the wrapping *Error's Entity/ID/Message.
var (
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrVersionConflict     = &Error{Kind: KindVersionConflict, Message: "version conflict"}
	ErrPermissionDenied    = &Error{Kind: KindPermissionDenied, Message: "permission denied"}
	ErrValidation          = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrDependencyTransient = &Error{Kind: KindDependencyTransient, Message: "dependency unavailable"}
	ErrDependencyFatal     = &Error{Kind: KindDependencyFatal, Message: "dependency failed"}
	ErrInternalInvariant   = &Error{Kind: KindInternalInvariant, Message: "internal invariant violated"}
)

// Error is the concrete type every component returns for a classified
// failure. Entity and ID are optional context (e.g. Entity="scene",
// ID="sc_42") used for logging; Err is the wrapped cause, if any.
type Error struct {
	Kind    Kind
	Entity  string
	ID      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Entity != "" {
		if e.ID != "" {
			msg = fmt.Sprintf("%s: %s %s", msg, e.Entity, e.ID)
		} else {
			msg = fmt.Sprintf("%s: %s", msg, e.Entity)
		}
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports equality by Kind only, so errors.Is(err, apperr.ErrNotFound)
// matches any *Error of that kind regardless of Entity/ID/Message/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a classified error with entity/ID context and an optional
// wrapped cause.
func New(kind Kind, entity, id, message string, cause error) *Error {
	return &Error{Kind: kind, Entity: entity, ID: id, Message: message, Err: cause}
}

// NotFound builds a KindNotFound error for the given entity/ID.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Message: "not found"}
}

// VersionConflict builds a KindVersionConflict error, used by the CAS
// writer and CRDT persistence when an expected revision has moved on.
func VersionConflict(entity, id string, cause error) *Error {
	return &Error{Kind: KindVersionConflict, Entity: entity, ID: id, Message: "version conflict", Err: cause}
}

// PermissionDenied builds a KindPermissionDenied error.
func PermissionDenied(entity, id string) *Error {
	return &Error{Kind: KindPermissionDenied, Entity: entity, ID: id, Message: "permission denied"}
}

// Validation builds a KindValidation error from a message describing
// which precondition failed.
func Validation(entity, message string) *Error {
	return &Error{Kind: KindValidation, Entity: entity, Message: message}
}

// Transient wraps cause as a KindDependencyTransient error, the kind the
// LLM client's retry loop retries.
func Transient(entity string, cause error) *Error {
	return &Error{Kind: KindDependencyTransient, Entity: entity, Message: "dependency unavailable", Err: cause}
}

// Fatal wraps cause as a KindDependencyFatal error, the kind the LLM
// client's retry loop does not retry. The job queue does not look at the
// kind: a background job failing with it is requeued like any other
// failure until its attempts run out, then dead-lettered.
func Fatal(entity string, cause error) *Error {
	return &Error{Kind: KindDependencyFatal, Entity: entity, Message: "dependency failed", Err: cause}
}

// Invariant builds a KindInternalInvariant error for a state the caller
// believed could not occur.
func Invariant(message string) *Error {
	return &Error{Kind: KindInternalInvariant, Message: message}
}

// Is classifies err by Kind without requiring callers to import Kind
// constants, mirroring errors.Is(err, ErrNotFound) but allowing a plain
// wrapped stdlib error to be tested too (returns false for those).
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind of err, defaulting to KindInternalInvariant
// when err is not an *Error — an untyped error reaching this far is
// itself a sign something was not properly classified upstream.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternalInvariant
}

// Retryable reports whether err's kind is worth retrying with backoff.
func Retryable(err error) bool {
	return Is(err, KindDependencyTransient)
}

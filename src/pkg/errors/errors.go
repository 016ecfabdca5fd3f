// Package errors provides the error taxonomy used across the sync agent,
// generalizing the spec's §7 error kinds into a Categorized interface that
// callers use to decide retry/abort/fatal handling.
package errors

import (
	"errors"
	"fmt"
)

// Category classifies an error for handling purposes. These map directly
// onto spec.md §7's "Error taxonomy (kinds, not types)".
type Category string

const (
	// CategoryTransientIO covers timeouts, connection refused, broker
	// disconnects. Always safe to retry with backoff; never fatal.
	CategoryTransientIO Category = "transient_io"
	// CategoryProtocol covers undecodable messages and schema mismatches.
	// The message is dropped and counted; the connection stays open.
	CategoryProtocol Category = "protocol"
	// CategoryCausality covers clock skew beyond bound and tombstone
	// compaction invariant violations. The operation aborts; the agent
	// stays live.
	CategoryCausality Category = "causality"
	// CategoryPersistence covers durable-write failures and snapshot
	// checksum mismatches. Fatal: the agent must stop publishing to avoid
	// divergence.
	CategoryPersistence Category = "persistence"
	// CategoryUpstreamModel covers 4xx responses from an egress patch.
	// Logged and abandoned for that change; never retried, never alters
	// CRDT state.
	CategoryUpstreamModel Category = "upstream_model"
	// CategoryDuplicate covers identical delta_id with identical payload
	// (silently ignored). See also ForgedDelta for the differing-payload
	// case.
	CategoryDuplicate Category = "duplicate"
)

// Categorized is an error that knows how it should be handled.
type Categorized interface {
	error
	Category() Category
}

func hasCategory(err error, want Category) bool {
	var cat Categorized
	if errors.As(err, &cat) {
		return cat.Category() == want
	}
	return false
}

// IsRetryable reports whether err should trigger a retry (transient I/O).
func IsRetryable(err error) bool { return hasCategory(err, CategoryTransientIO) }

// IsProtocol reports whether err is a decode/schema failure.
func IsProtocol(err error) bool { return hasCategory(err, CategoryProtocol) }

// IsCausality reports whether err is a clock or causal-invariant failure.
func IsCausality(err error) bool { return hasCategory(err, CategoryCausality) }

// IsPersistence reports whether err is a fatal durability failure.
func IsPersistence(err error) bool { return hasCategory(err, CategoryPersistence) }

// IsUpstreamModel reports whether err is a permanent 4xx-class egress error.
func IsUpstreamModel(err error) bool { return hasCategory(err, CategoryUpstreamModel) }

// IsDuplicate reports whether err represents an identical-payload replay.
func IsDuplicate(err error) bool { return hasCategory(err, CategoryDuplicate) }

// Wrap adds context to an error.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf adds formatted context to an error.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// New creates a simple error.
func New(msg string) error { return errors.New(msg) }

// Newf creates a formatted error.
func Newf(format string, args ...any) error { return fmt.Errorf(format, args...) }

// Is is errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is errors.As.
func As(err error, target any) bool { return errors.As(err, target) }

// Join combines multiple errors into one.
func Join(errs ...error) error { return errors.Join(errs...) }

// TransientError wraps a transient I/O failure (timeout, refused connection,
// broker disconnect).
type TransientError struct {
	Operation string
	Cause     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error in %s: %v", e.Operation, e.Cause)
}
func (e *TransientError) Category() Category { return CategoryTransientIO }
func (e *TransientError) Unwrap() error      { return e.Cause }

// NewTransientError creates a new transient I/O error.
func NewTransientError(operation string, cause error) *TransientError {
	return &TransientError{Operation: operation, Cause: cause}
}

// ProtocolError wraps an undecodable message or schema mismatch.
type ProtocolError struct {
	Reason string
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Reason)
}
func (e *ProtocolError) Category() Category { return CategoryProtocol }
func (e *ProtocolError) Unwrap() error      { return e.Cause }

// NewProtocolError creates a new protocol error.
func NewProtocolError(reason string, cause error) *ProtocolError {
	return &ProtocolError{Reason: reason, Cause: cause}
}

// PersistenceError wraps a fatal durability failure.
type PersistenceError struct {
	Operation string
	Cause     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error in %s: %v", e.Operation, e.Cause)
}
func (e *PersistenceError) Category() Category { return CategoryPersistence }
func (e *PersistenceError) Unwrap() error      { return e.Cause }

// NewPersistenceError creates a new persistence error.
func NewPersistenceError(operation string, cause error) *PersistenceError {
	return &PersistenceError{Operation: operation, Cause: cause}
}

// UpstreamModelError wraps a permanent 4xx response from the upstream AAS
// server during an egress patch.
type UpstreamModelError struct {
	StatusCode int
	Path       string
}

func (e *UpstreamModelError) Error() string {
	return fmt.Sprintf("upstream rejected patch at %s: status %d", e.Path, e.StatusCode)
}
func (e *UpstreamModelError) Category() Category { return CategoryUpstreamModel }

// NewUpstreamModelError creates a new upstream model error.
func NewUpstreamModelError(path string, statusCode int) *UpstreamModelError {
	return &UpstreamModelError{Path: path, StatusCode: statusCode}
}

// DuplicateError represents a replayed delta with identical payload.
type DuplicateError struct {
	DeltaID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate delta %s", e.DeltaID)
}
func (e *DuplicateError) Category() Category { return CategoryDuplicate }

// NewDuplicateError creates a new duplicate-delta error.
func NewDuplicateError(deltaID string) *DuplicateError {
	return &DuplicateError{DeltaID: deltaID}
}

// ForgedDelta represents a delta_id collision with a differing payload — a
// security event distinct from an ordinary Duplicate (spec §7), logged
// and rejected rather than silently ignored.
type ForgedDelta struct {
	DeltaID string
}

func (e *ForgedDelta) Error() string {
	return fmt.Sprintf("forged delta: %s collides with a different payload", e.DeltaID)
}
func (e *ForgedDelta) Category() Category { return CategoryProtocol }

// NewForgedDelta creates a new forged-delta security error.
func NewForgedDelta(deltaID string) *ForgedDelta {
	return &ForgedDelta{DeltaID: deltaID}
}

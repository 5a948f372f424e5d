package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation.
var (
	ErrMissingName      = errors.New("name is required")
	ErrMissingMode      = errors.New("rag mode is required")
	ErrMissingSourceURI = errors.New("source uri is required")
	ErrMissingContent   = errors.New("content is required")
	ErrMissingRole      = errors.New("role is required")
)

// Sentinel errors for entity lookups.
var (
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrSnapshotNotFound  = errors.New("rag config snapshot not found")
	ErrSessionNotFound   = errors.New("chat session not found")
	ErrMessageNotFound   = errors.New("chat message not found")
)

// ErrConfigImmutable is returned on any attempt to mutate a RagConfigSnapshot.
// Snapshots are append-only: created once with their workspace, deleted with it.
var ErrConfigImmutable = errors.New("rag config snapshot is immutable")

// ErrResourceConflict indicates a duplicate provisioning or deletion request.
// Callers resolve it idempotently; it is never surfaced as a failure.
var ErrResourceConflict = errors.New("resource operation already in progress")

// ErrDuplicateKey indicates a unique constraint violation (maps to HTTP 409 Conflict).
var ErrDuplicateKey = errors.New("duplicate key")

// ErrInvalidTransition indicates a document status update that would regress
// the lifecycle state machine.
var ErrInvalidTransition = errors.New("invalid document status transition")

// ErrFieldTooLong returns an error indicating a field exceeds its maximum length.
func ErrFieldTooLong(field string, maxLen int) error {
	return fmt.Errorf("%s exceeds maximum length of %d", field, maxLen)
}

// permanentError marks an error as non-retryable for the bus delivery policy.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that IsPermanent reports true. Bus consumers route
// permanent failures straight to the dead-letter topic without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// Permanentf is shorthand for Permanent(fmt.Errorf(...)).
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// IsPermanent reports whether err (or any error it wraps) was marked permanent.
func IsPermanent(err error) bool {
	var pe *permanentError

	return errors.As(err, &pe)
}

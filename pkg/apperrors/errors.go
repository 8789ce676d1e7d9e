package apperrors

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrIndexNotReady is returned by schema search before the first
	// successful index build.
	ErrIndexNotReady = errors.New("schema index has not been built yet")

	// ErrRebuildInProgress is returned when a rebuild is requested while
	// another rebuild is still running.
	ErrRebuildInProgress = errors.New("index rebuild already in progress")

	// ErrUnexpectedWrite is returned when a statement submitted through the
	// read-only path turns out to mutate state.
	ErrUnexpectedWrite = errors.New("statement is not read-only")

	// ErrStaleConfirmation is returned when a confirmation decision references
	// a pending operation that does not exist, expired, or was superseded.
	ErrStaleConfirmation = errors.New("pending operation is no longer available")

	// ErrConfirmationPending is returned when a new message arrives for a
	// session that still has an unresolved pending operation.
	ErrConfirmationPending = errors.New("session has an unresolved pending operation")

	ErrInvalidRole = errors.New("invalid role")
)

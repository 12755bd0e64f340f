package session

import "errors"

var (
	// ErrSessionLimitExceeded is returned when a non-exempt user already has
	// maxSessions active sessions. The login is rejected and the remote
	// record is left unchanged.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")

	// ErrUnauthenticated is returned when an administrative operation is
	// invoked without an authenticated caller.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrPermissionDenied is returned when the caller's role does not allow
	// the administrative operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidArgument is returned for empty or malformed identifiers.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRecordNotFound is returned when no record exists for the uid.
	ErrRecordNotFound = errors.New("session record not found")

	// ErrSessionNotFound is returned by heartbeat writes when the session
	// entry has already been removed (logout or reconciliation).
	ErrSessionNotFound = errors.New("session not found")

	// ErrInternal covers store failures that survived transaction retry.
	ErrInternal = errors.New("internal")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidSessionName indicates an empty or whitespace-containing session name.
	ErrInvalidSessionName = errors.New("invalid session name")
	// ErrSessionNotFound indicates a session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionBusy indicates another client is already attached.
	ErrSessionBusy = errors.New("session already has a terminal attached")
	// ErrNotAttached indicates no client is attached to the session.
	ErrNotAttached = errors.New("session not attached")
	// ErrDaemonUnavailable indicates the daemon socket could not be reached.
	ErrDaemonUnavailable = errors.New("daemon unavailable")
	// ErrInvalidTTL indicates a malformed time-to-live override.
	ErrInvalidTTL = errors.New("invalid ttl")
)

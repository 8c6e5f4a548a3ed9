package schema

import "time"

// SessionEventType identifies a session lifecycle transition.
type SessionEventType string

const (
	// SessionCreated is emitted when a new session shell is spawned.
	SessionCreated SessionEventType = "created"
	// SessionAttached is emitted when a client binds to a session.
	SessionAttached SessionEventType = "attached"
	// SessionReattached is emitted when a client binds to an existing session.
	SessionReattached SessionEventType = "reattached"
	// SessionDetached is emitted when a client is unbound from a session.
	SessionDetached SessionEventType = "detached"
	// SessionBusy is emitted when an attach is refused because another client holds the session.
	SessionBusy SessionEventType = "busy"
	// SessionExited is emitted when the session shell exits.
	SessionExited SessionEventType = "exited"
	// SessionKilled is emitted when a session is terminated by request or ttl.
	SessionKilled SessionEventType = "killed"
)

// SessionEvent is a lifecycle notification delivered to hooks.
type SessionEvent struct {
	Type     SessionEventType
	Session  SessionName
	Client   ClientID
	ExitCode int
	At       time.Time
}

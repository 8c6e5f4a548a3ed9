package schema

import "time"

// SessionName identifies a daemon-hosted session.
type SessionName string

// ClientID identifies a single attach connection.
type ClientID string

// SessionEnvVar is exported into every session shell with the session name.
const SessionEnvVar = "SHELLKEEP_SESSION_NAME"

// TtySize is a terminal geometry snapshot. It is replaced wholesale on resize.
type TtySize struct {
	Rows   uint16 `json:"rows"`
	Cols   uint16 `json:"cols"`
	XPixel uint16 `json:"xpixel,omitempty"`
	YPixel uint16 `json:"ypixel,omitempty"`
}

// IsZero reports whether no geometry is known.
func (s TtySize) IsZero() bool {
	return s.Rows == 0 && s.Cols == 0
}

// SessionInfo describes a session for listing.
type SessionInfo struct {
	Name            SessionName `json:"name"`
	StartedAt       time.Time   `json:"started_at"`
	LastConnectedAt time.Time   `json:"last_connected_at,omitzero"`
	Attached        bool        `json:"attached"`
	RestoreBytes    int         `json:"restore_bytes"`
	RestoreBudget   int         `json:"restore_budget"`
	Command         string      `json:"command,omitempty"`
	PID             int         `json:"pid,omitempty"`
}

package schema

// Attach.

// AttachRequest describes a request to bind a client terminal to a session.
// The session is created when it does not exist yet.
type AttachRequest struct {
	Name SessionName `json:"name"`
	// Force detaches any client already attached to the session.
	Force bool `json:"force,omitempty"`
	// TTL arms a timer that kills the session (see ParseTTL).
	TTL string `json:"ttl,omitempty"`
	// Cmd replaces the configured shell when the session is created.
	Cmd  string  `json:"cmd,omitempty"`
	Size TtySize `json:"size"`
	// Term is the client's TERM value, exported into new sessions.
	Term string `json:"term,omitempty"`
	// Env carries extra client-side variables for new sessions.
	Env map[string]string `json:"env,omitempty"`
}

// Detach.

// DetachRequest describes a request to unbind clients from sessions.
type DetachRequest struct {
	Names []SessionName `json:"names"`
}

// DetachResult reports names that could not be detached.
type DetachResult struct {
	NotFound    []SessionName `json:"not_found,omitempty"`
	NotAttached []SessionName `json:"not_attached,omitempty"`
}

// OK reports whether every requested session was detached.
func (r DetachResult) OK() bool {
	return len(r.NotFound) == 0 && len(r.NotAttached) == 0
}

// Kill.

// KillRequest describes a request to terminate sessions.
type KillRequest struct {
	Names []SessionName `json:"names"`
}

// KillResult reports names that could not be killed.
type KillResult struct {
	NotFound []SessionName `json:"not_found,omitempty"`
}

// List.

// ListResponse reports all sessions hosted by the daemon.
type ListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// AttachOptions carries the per-invocation overrides forwarded to attach.
type AttachOptions struct {
	Force bool
	TTL   string
	Cmd   string
}

package core

import "pkt.systems/shellkeep/schema"

// EventSink receives session lifecycle events from the core service.
// Implementations must not block.
type EventSink interface {
	OnSessionEvent(event schema.SessionEvent)
}

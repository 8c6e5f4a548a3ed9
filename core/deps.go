package core

import (
	"time"

	"pkt.systems/pslog"
)

// ServiceDeps captures optional dependencies for the core service.
type ServiceDeps struct {
	Spawner   Spawner
	EventSink EventSink
	Logger    pslog.Logger
	// Now overrides the clock used for session timestamps.
	Now func() time.Time
}

package shellkeep

import (
	"time"

	"pkt.systems/shellkeep/core"
	"pkt.systems/shellkeep/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnSessionEvent(event schema.SessionEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnSessionEvent(event)
	}
}

func secondsToDuration(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

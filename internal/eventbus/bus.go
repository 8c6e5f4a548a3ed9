// Package eventbus fans session lifecycle events out to subscribers without
// blocking the session service.
package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/shellkeep/schema"
)

// Bus delivers session events to every subscriber. Subscribers that fall
// behind lose events rather than stalling the publisher.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan schema.SessionEvent]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[chan schema.SessionEvent]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel func.
// The channel is closed by cancel.
func (b *Bus) Subscribe() (<-chan schema.SessionEvent, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan schema.SessionEvent, b.depth)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	b.log.Debug("eventbus subscribe", "subs", count)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
			b.log.Debug("eventbus unsubscribe")
		})
	}
}

// OnSessionEvent implements core.EventSink.
func (b *Bus) OnSessionEvent(event schema.SessionEvent) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) == 0 {
		return
	}
	dropped := 0
	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.log.With("session", event.Session).Warn("eventbus dropped", "event", event.Type, "count", dropped)
	}
}

// Package restore implements session restore spools: per-session output
// buffers that produce the byte sequence replayed to a reattaching client.
//
// A spool is built once per session from the daemon's restore policy (see
// ParseBudget) and fed every chunk of pty output. Spools are not safe for
// concurrent use; the owning session serializes Process, Resize and
// RestoreBuffer.
package restore

import (
	"context"
	"fmt"

	"pkt.systems/pslog"
	"pkt.systems/shellkeep/schema"
)

// Spool captures session output for replay on reattach.
type Spool interface {
	// Resize informs the spool of a terminal geometry change.
	Resize(size schema.TtySize)
	// Process ingests a chunk of raw pty output.
	Process(p []byte)
	// RestoreBuffer returns the bytes to replay to a reattaching client.
	// It never mutates the spool and the returned slice is owned by the caller.
	RestoreBuffer() []byte
}

// Sizer is implemented by spools that retain output.
type Sizer interface {
	Len() int
	Budget() int
}

// NullSpool retains nothing. Reattaching clients only get a redraw from the
// shell's reaction to the resize that accompanies every attach.
type NullSpool struct{}

// Resize is a no-op.
func (NullSpool) Resize(schema.TtySize) {}

// Process is a no-op.
func (NullSpool) Process([]byte) {}

// RestoreBuffer always returns an empty sequence.
func (NullSpool) RestoreBuffer() []byte { return []byte{} }

// BoundedSpool keeps the most recent output bytes up to a fixed budget.
// Eviction is byte-granular and oldest-first; an escape sequence straddling
// the eviction point is cut and replayed partially.
type BoundedSpool struct {
	budget int
	// data grows up to budget and is then used as a circular buffer.
	data []byte
	// start is the index of the oldest byte once data is full.
	start int
}

// NewBoundedSpool returns a spool retaining at most budget bytes.
// It panics if budget is not positive; use New to get a NullSpool for 0.
func NewBoundedSpool(budget int) *BoundedSpool {
	if budget <= 0 {
		panic(fmt.Sprintf("restore: bounded spool budget must be positive, got %d", budget))
	}
	return &BoundedSpool{budget: budget}
}

// Resize is a no-op; the spool stores raw bytes, not a screen model.
func (s *BoundedSpool) Resize(schema.TtySize) {}

// Process appends p and evicts the oldest bytes beyond the budget.
func (s *BoundedSpool) Process(p []byte) {
	if len(p) == 0 {
		return
	}
	if len(p) >= s.budget {
		s.data = append(s.data[:0], p[len(p)-s.budget:]...)
		s.start = 0
		return
	}
	if room := s.budget - len(s.data); room > 0 {
		n := min(room, len(p))
		s.data = append(s.data, p[:n]...)
		p = p[n:]
	}
	for len(p) > 0 {
		n := copy(s.data[s.start:], p)
		p = p[n:]
		s.start = (s.start + n) % s.budget
	}
}

// RestoreBuffer returns a copy of the retained bytes in arrival order.
func (s *BoundedSpool) RestoreBuffer() []byte {
	out := make([]byte, len(s.data))
	n := copy(out, s.data[s.start:])
	copy(out[n:], s.data[:s.start])
	return out
}

// Len returns the number of retained bytes.
func (s *BoundedSpool) Len() int { return len(s.data) }

// Budget returns the configured capacity.
func (s *BoundedSpool) Budget() int { return s.budget }

// New builds the spool selected by policy. The size is the session's initial
// geometry; neither current variant uses it. On a parse error no spool is
// returned.
func New(ctx context.Context, policy string, size schema.TtySize) (Spool, error) {
	budget, err := ParseBudget(policy)
	if err != nil {
		return nil, err
	}
	log := pslog.Ctx(ctx)
	if budget == 0 {
		log.Debug("restore spool selected", "kind", "null", "rows", size.Rows, "cols", size.Cols)
		return NullSpool{}, nil
	}
	log.Debug("restore spool selected", "kind", "bounded", "budget", budget, "rows", size.Rows, "cols", size.Cols)
	return NewBoundedSpool(budget), nil
}

package core

import (
	"sync"

	"pkt.systems/shellkeep/schema"
)

// EndReason explains why an attachment finished.
type EndReason string

const (
	// EndDetached means the client was detached by request.
	EndDetached EndReason = "detached"
	// EndReplaced means another client force-attached to the session.
	EndReplaced EndReason = "replaced"
	// EndExited means the session program exited.
	EndExited EndReason = "exited"
)

// End describes how an attachment finished.
type End struct {
	Reason   EndReason
	ExitCode int
}

// Attachment binds one client to a session. The restore sequence captured at
// attach time precedes every chunk delivered on Output.
type Attachment struct {
	id      schema.ClientID
	session *session
	restore []byte
	created bool
	output  chan []byte
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	end     End
}

const attachmentBacklog = 64

func newAttachment(sess *session, id schema.ClientID, restore []byte) *Attachment {
	return &Attachment{
		id:      id,
		session: sess,
		restore: restore,
		output:  make(chan []byte, attachmentBacklog),
		done:    make(chan struct{}),
	}
}

// ID returns the client id assigned at attach time.
func (a *Attachment) ID() schema.ClientID { return a.id }

// Session returns the attached session name.
func (a *Attachment) Session() schema.SessionName { return a.session.name }

// Created reports whether the attach started a new session.
func (a *Attachment) Created() bool { return a.created }

// Restore returns the restore sequence to replay before live output.
func (a *Attachment) Restore() []byte { return a.restore }

// Output delivers live session output. The channel is never closed; watch Done.
func (a *Attachment) Output() <-chan []byte { return a.output }

// Done is closed when the attachment finishes.
func (a *Attachment) Done() <-chan struct{} { return a.done }

// End reports why the attachment finished. It is meaningful after Done is closed.
func (a *Attachment) End() End {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.end
}

// Write forwards client input to the session program.
func (a *Attachment) Write(p []byte) (int, error) {
	select {
	case <-a.done:
		return 0, schema.ErrNotAttached
	default:
	}
	return a.session.proc.Write(p)
}

// Resize applies the client's terminal geometry to the session.
func (a *Attachment) Resize(size schema.TtySize) error {
	select {
	case <-a.done:
		return schema.ErrNotAttached
	default:
	}
	return a.session.resize(size)
}

// Close detaches the client from the session.
func (a *Attachment) Close() {
	a.session.release(a)
}

func (a *Attachment) deliver(chunk []byte) {
	select {
	case a.output <- chunk:
	case <-a.done:
	}
}

func (a *Attachment) finish(end End) bool {
	finished := false
	a.once.Do(func() {
		a.mu.Lock()
		a.end = end
		a.mu.Unlock()
		close(a.done)
		finished = true
	})
	return finished
}

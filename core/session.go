package core

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"syscall"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/shellkeep/internal/restore"
	"pkt.systems/shellkeep/schema"
)

var errSessionGone = errors.New("session exited")

const readChunkSize = 32 * 1024

type session struct {
	name      schema.SessionName
	argv      []string
	proc      Process
	startedAt time.Time
	log       pslog.Logger

	mu            sync.Mutex
	spool         restore.Spool
	size          schema.TtySize
	attached      *Attachment
	lastConnected time.Time
	exited        bool
	killed        bool
	exitCode      int
	ttl           *time.Timer
	exitCh        chan struct{}
}

func newSession(name schema.SessionName, argv []string, proc Process, spool restore.Spool, size schema.TtySize, now time.Time, log pslog.Logger) *session {
	return &session{
		name:      name,
		argv:      argv,
		proc:      proc,
		startedAt: now,
		log:       log,
		spool:     spool,
		size:      size,
		exitCh:    make(chan struct{}),
	}
}

// attach registers a new client and snapshots the restore buffer in the same
// critical section as output ingestion.
func (s *session) attach(id schema.ClientID, force bool, now time.Time) (*Attachment, *Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return nil, nil, errSessionGone
	}
	var replaced *Attachment
	if s.attached != nil {
		if !force {
			return nil, nil, schema.ErrSessionBusy
		}
		replaced = s.attached
	}
	att := newAttachment(s, id, s.spool.RestoreBuffer())
	s.attached = att
	s.lastConnected = now
	return att, replaced, nil
}

// release detaches att if it is still the attached client.
func (s *session) release(att *Attachment) bool {
	s.mu.Lock()
	current := s.attached == att
	if current {
		s.attached = nil
	}
	s.mu.Unlock()
	att.finish(End{Reason: EndDetached})
	return current
}

// detachCurrent detaches whichever client is attached.
func (s *session) detachCurrent() *Attachment {
	s.mu.Lock()
	att := s.attached
	s.attached = nil
	s.mu.Unlock()
	if att != nil {
		att.finish(End{Reason: EndDetached})
	}
	return att
}

func (s *session) resize(size schema.TtySize) error {
	if size.IsZero() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return errSessionGone
	}
	s.size = size
	s.spool.Resize(size)
	return s.proc.Resize(size)
}

func (s *session) armTTL(d time.Duration, expire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return
	}
	if s.ttl != nil {
		s.ttl.Stop()
	}
	s.ttl = time.AfterFunc(d, expire)
}

func (s *session) isExited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

func (s *session) info() schema.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := schema.SessionInfo{
		Name:            s.name,
		StartedAt:       s.startedAt,
		LastConnectedAt: s.lastConnected,
		Attached:        s.attached != nil,
		Command:         strings.Join(s.argv, " "),
		PID:             s.proc.PID(),
	}
	if sizer, ok := s.spool.(restore.Sizer); ok {
		info.RestoreBytes = sizer.Len()
		info.RestoreBudget = sizer.Budget()
	}
	return info
}

// kill sends SIGHUP to the session and escalates to SIGKILL after grace.
func (s *session) kill(grace time.Duration, cancel <-chan struct{}) {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return
	}
	s.killed = true
	s.mu.Unlock()

	if err := s.proc.Signal(syscall.SIGHUP); err != nil {
		s.log.Debug("session hangup failed", "err", err)
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-s.exitCh:
		return
	case <-cancel:
		return
	case <-timer.C:
	}
	s.log.Warn("session ignored hangup", "grace", grace)
	if err := s.proc.Signal(syscall.SIGKILL); err != nil {
		s.log.Debug("session kill failed", "err", err)
	}
	select {
	case <-s.exitCh:
	case <-cancel:
	}
}

// pump copies program output into the spool and the attached client until the
// program exits. It returns the exit code and whether the exit was requested.
func (s *session) pump() (int, bool) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.proc.Read(buf)
		if n > 0 {
			chunk := bytes.Clone(buf[:n])
			s.mu.Lock()
			s.spool.Process(chunk)
			att := s.attached
			s.mu.Unlock()
			if att != nil {
				att.deliver(chunk)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("session read ended", "err", err)
			}
			break
		}
	}
	code, err := s.proc.Wait()
	if err != nil {
		s.log.Warn("session wait failed", "err", err)
	}
	if err := s.proc.Close(); err != nil {
		s.log.Debug("session close failed", "err", err)
	}

	s.mu.Lock()
	s.exited = true
	s.exitCode = code
	att := s.attached
	s.attached = nil
	killed := s.killed
	if s.ttl != nil {
		s.ttl.Stop()
	}
	s.mu.Unlock()
	close(s.exitCh)
	if att != nil {
		att.finish(End{Reason: EndExited, ExitCode: code})
	}
	return code, killed
}

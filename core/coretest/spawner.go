// Package coretest provides in-memory session programs for tests that run the
// session service without a real pty.
package coretest

import (
	"context"
	"io"
	"sync"
	"syscall"

	"pkt.systems/shellkeep/core"
	"pkt.systems/shellkeep/schema"
)

// Process is a session program backed by a pipe. Output written with Emit is
// read by the session pump; input from clients is recorded.
type Process struct {
	pr  *io.PipeReader
	pw  *io.PipeWriter
	pid int

	mu    sync.Mutex
	input []byte
	sizes []schema.TtySize

	once   sync.Once
	exited chan struct{}
	code   int
}

// NewProcess returns a running fake program.
func NewProcess(pid int) *Process {
	pr, pw := io.Pipe()
	return &Process{pr: pr, pw: pw, pid: pid, exited: make(chan struct{})}
}

// Emit writes program output and blocks until the session has read it.
func (p *Process) Emit(data string) error {
	_, err := p.pw.Write([]byte(data))
	return err
}

// Exit ends the program with code.
func (p *Process) Exit(code int) {
	p.once.Do(func() {
		p.code = code
		_ = p.pw.Close()
		close(p.exited)
	})
}

// Input returns everything clients have typed.
func (p *Process) Input() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.input)
}

// Sizes returns the resize history.
func (p *Process) Sizes() []schema.TtySize {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schema.TtySize(nil), p.sizes...)
}

func (p *Process) Read(b []byte) (int, error) { return p.pr.Read(b) }

func (p *Process) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input = append(p.input, b...)
	return len(b), nil
}

func (p *Process) Resize(size schema.TtySize) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sizes = append(p.sizes, size)
	return nil
}

// Signal ends the program for any signal.
func (p *Process) Signal(sig syscall.Signal) error {
	p.Exit(128 + int(sig))
	return nil
}

func (p *Process) Wait() (int, error) {
	<-p.exited
	return p.code, nil
}

func (p *Process) Close() error { return p.pr.Close() }

func (p *Process) PID() int { return p.pid }

// Spawner hands out Process values and remembers them by session name.
type Spawner struct {
	mu    sync.Mutex
	procs map[string]*Process
	specs map[string]core.SpawnSpec
	next  int
}

// Spawn implements core.Spawner.
func (s *Spawner) Spawn(_ context.Context, spec core.SpawnSpec) (core.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.procs == nil {
		s.procs = make(map[string]*Process)
		s.specs = make(map[string]core.SpawnSpec)
	}
	s.next++
	proc := NewProcess(1000 + s.next)
	name := sessionName(spec.Env)
	s.procs[name] = proc
	s.specs[name] = spec
	return proc, nil
}

// Process returns the latest program spawned for a session.
func (s *Spawner) Process(name schema.SessionName) *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[string(name)]
}

// Spec returns the spawn request for a session.
func (s *Spawner) Spec(name schema.SessionName) core.SpawnSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.specs[string(name)]
}

func sessionName(env []string) string {
	prefix := schema.SessionEnvVar + "="
	for _, kv := range env {
		if len(kv) > len(prefix) && kv[:len(prefix)] == prefix {
			return kv[len(prefix):]
		}
	}
	return ""
}

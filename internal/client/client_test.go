package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"pkt.systems/shellkeep/core"
	"pkt.systems/shellkeep/core/coretest"
	"pkt.systems/shellkeep/internal/sessiongrpc"
	"pkt.systems/shellkeep/internal/switcher"
	"pkt.systems/shellkeep/schema"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type daemon struct {
	svc      *core.Service
	spawner  *coretest.Spawner
	listener *bufconn.Listener
}

func startDaemon(t *testing.T, policy string) *daemon {
	t.Helper()
	spawner := &coretest.Spawner{}
	svc, err := core.NewService(schema.ServiceConfig{RestorePolicy: policy, Shell: "sh"}, core.ServiceDeps{Spawner: spawner})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	listener := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = sessiongrpc.NewServer(svc, nil).Serve(ctx, listener)
	}()
	t.Cleanup(func() {
		cancel()
		<-served
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer closeCancel()
		_ = svc.CloseAll(closeCtx)
	})
	return &daemon{svc: svc, spawner: spawner, listener: listener}
}

// terminal is a client wired to in-memory stdio.
type terminal struct {
	client *Client
	stdin  *io.PipeWriter
	stdout *syncBuffer
	stderr *syncBuffer
}

func (d *daemon) terminal(t *testing.T, current schema.SessionName) *terminal {
	t.Helper()
	rpc, err := sessiongrpc.NewClient("passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return d.listener.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("new rpc client: %v", err)
	}
	stdinR, stdinW := io.Pipe()
	term := &terminal{stdin: stdinW, stdout: &syncBuffer{}, stderr: &syncBuffer{}}
	term.client = New(rpc, WithTerminal(stdinR, term.stdout, term.stderr), WithCurrentSession(current))
	t.Cleanup(func() {
		_ = stdinW.Close()
		_ = term.client.Close()
	})
	return term
}

func (d *daemon) attached(name schema.SessionName) bool {
	for _, info := range d.svc.List(context.Background()) {
		if info.Name == name {
			return info.Attached
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for attach to return")
		return nil
	}
}

func TestAttachCopiesOutputAndInput(t *testing.T) {
	d := startDaemon(t, "1KB")
	term := d.terminal(t, "")
	errCh := make(chan error, 1)
	go func() {
		errCh <- term.client.Attach(context.Background(), "work", schema.AttachOptions{})
	}()
	waitFor(t, "attach", func() bool { return d.attached("work") })
	proc := d.spawner.Process("work")
	if err := proc.Emit("$ "); err != nil {
		t.Fatalf("emit: %v", err)
	}
	waitFor(t, "output", func() bool { return term.stdout.String() == "$ " })
	if _, err := term.stdin.Write([]byte("echo hi\r")); err != nil {
		t.Fatalf("type: %v", err)
	}
	waitFor(t, "input", func() bool { return proc.Input() == "echo hi\r" })
	spec := d.spawner.Spec("work")
	found := false
	for _, kv := range spec.Env {
		if kv == "SHELLKEEP_SESSION_NAME=work" {
			found = true
		}
	}
	if !found {
		t.Fatalf("session env missing name: %v", spec.Env)
	}

	other := d.terminal(t, "")
	if err := other.client.Detach(context.Background(), []schema.SessionName{"work"}); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !strings.Contains(term.stderr.String(), "detached from session 'work'") {
		t.Fatalf("missing detach notice: %q", term.stderr.String())
	}
}

func TestAttachReplaysRestoreFirst(t *testing.T) {
	d := startDaemon(t, "1KB")
	first := d.terminal(t, "")
	errCh := make(chan error, 1)
	go func() {
		errCh <- first.client.Attach(context.Background(), "work", schema.AttachOptions{})
	}()
	waitFor(t, "attach", func() bool { return d.attached("work") })
	proc := d.spawner.Process("work")
	if err := proc.Emit("history"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	waitFor(t, "output", func() bool { return first.stdout.String() == "history" })
	_ = first.stdin.Close()
	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("attach: %v", err)
	}
	waitFor(t, "detach", func() bool { return !d.attached("work") })

	second := d.terminal(t, "")
	go func() {
		errCh <- second.client.Attach(context.Background(), "work", schema.AttachOptions{})
	}()
	waitFor(t, "reattach", func() bool { return d.attached("work") })
	if err := proc.Emit("+live"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	waitFor(t, "restore then live", func() bool { return second.stdout.String() == "history+live" })
}

func TestAttachReportsExit(t *testing.T) {
	d := startDaemon(t, "0")
	term := d.terminal(t, "")
	errCh := make(chan error, 1)
	go func() {
		errCh <- term.client.Attach(context.Background(), "work", schema.AttachOptions{})
	}()
	waitFor(t, "attach", func() bool { return d.attached("work") })
	d.spawner.Process("work").Exit(2)
	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !strings.Contains(term.stderr.String(), "session 'work' exited with status 2") {
		t.Fatalf("missing exit notice: %q", term.stderr.String())
	}
}

func TestAttachRefusesSelf(t *testing.T) {
	d := startDaemon(t, "0")
	term := d.terminal(t, "work")
	if err := term.client.Attach(context.Background(), "work", schema.AttachOptions{}); !errors.Is(err, ErrSelfAttach) {
		t.Fatalf("expected self attach error, got %v", err)
	}
}

func TestAttachBusy(t *testing.T) {
	d := startDaemon(t, "0")
	first := d.terminal(t, "")
	go func() {
		_ = first.client.Attach(context.Background(), "work", schema.AttachOptions{})
	}()
	waitFor(t, "attach", func() bool { return d.attached("work") })
	second := d.terminal(t, "")
	if err := second.client.Attach(context.Background(), "work", schema.AttachOptions{}); !errors.Is(err, schema.ErrSessionBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
}

func TestDetachWithoutNamesUsesCurrentSession(t *testing.T) {
	d := startDaemon(t, "0")
	outside := d.terminal(t, "")
	if err := outside.client.Detach(context.Background(), nil); err == nil {
		t.Fatalf("expected error outside a session")
	}

	holder := d.terminal(t, "")
	errCh := make(chan error, 1)
	go func() {
		errCh <- holder.client.Attach(context.Background(), "work", schema.AttachOptions{})
	}()
	waitFor(t, "attach", func() bool { return d.attached("work") })

	inside := d.terminal(t, "work")
	if err := inside.client.Detach(context.Background(), nil); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("attach: %v", err)
	}
	err := inside.client.Detach(context.Background(), []schema.SessionName{"work", "ghost"})
	if !errors.Is(err, schema.ErrNotAttached) || !errors.Is(err, schema.ErrSessionNotFound) {
		t.Fatalf("expected joined errors, got %v", err)
	}
}

func TestKillReportsUnknownNames(t *testing.T) {
	d := startDaemon(t, "0")
	term := d.terminal(t, "")
	if err := term.client.Kill(context.Background(), []schema.SessionName{"ghost"}); !errors.Is(err, schema.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSwitchMovesBetweenSessions(t *testing.T) {
	d := startDaemon(t, "0")
	outer := d.terminal(t, "")
	outerErr := make(chan error, 1)
	go func() {
		outerErr <- outer.client.Attach(context.Background(), "a", schema.AttachOptions{})
	}()
	waitFor(t, "attach a", func() bool { return d.attached("a") })

	inner := d.terminal(t, "a")
	var status syncBuffer
	coordinator := &switcher.Coordinator{Attacher: inner.client, Detacher: inner.client, Status: &status}
	type result struct {
		outcome switcher.Outcome
		err     error
	}
	switchDone := make(chan result, 1)
	go func() {
		outcome, err := coordinator.Run(context.Background(), switcher.Intent{Current: "a", Target: "b"})
		switchDone <- result{outcome: outcome, err: err}
	}()

	if err := waitErr(t, outerErr); err != nil {
		t.Fatalf("outer attach: %v", err)
	}
	waitFor(t, "attach b", func() bool { return d.attached("b") })
	if d.attached("a") {
		t.Fatalf("session a should be detached")
	}
	if err := outer.client.Detach(context.Background(), []schema.SessionName{"b"}); err != nil {
		t.Fatalf("detach b: %v", err)
	}
	select {
	case res := <-switchDone:
		if res.err != nil || res.outcome != switcher.OutcomeSwitched {
			t.Fatalf("unexpected switch result %v %v", res.outcome, res.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("switch did not finish")
	}
	out := status.String()
	if !strings.Contains(out, "detaching from session 'a'...") || !strings.Contains(out, "attaching to session 'b'...") {
		t.Fatalf("unexpected status %q", out)
	}
}

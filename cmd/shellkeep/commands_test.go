package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/shellkeep"
	"pkt.systems/shellkeep/core"
	"pkt.systems/shellkeep/core/coretest"
	"pkt.systems/shellkeep/internal/appconfig"
	"pkt.systems/shellkeep/schema"
	"pkt.systems/shellkeep/sshserver"
)

type daemonHarness struct {
	socket string
	config string
	srv    shellkeep.Server
}

func startDaemon(t *testing.T) *daemonHarness {
	t.Helper()
	dir, err := os.MkdirTemp("", "skcli")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "d.sock")
	srv, err := shellkeep.New(
		shellkeep.ServerConfig{SocketPath: socket, Service: schema.ServiceConfig{RestorePolicy: "4KB", Shell: "sh"}},
		shellkeep.ServerDeps{ServiceDeps: core.ServiceDeps{Spawner: &coretest.Spawner{}}},
		shellkeep.WithSocket(),
	)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(socket); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("daemon socket never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return &daemonHarness{socket: socket, config: filepath.Join(dir, "absent.yaml"), srv: srv}
}

func (h *daemonHarness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"-c", h.config, "-s", h.socket}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestListJSON(t *testing.T) {
	h := startDaemon(t)
	att, err := h.srv.Service().Attach(context.Background(), schema.AttachRequest{Name: "work"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer att.Close()

	out, err := h.run(t, "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var sessions []schema.SessionInfo
	if err := json.Unmarshal([]byte(out), &sessions); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(sessions) != 1 || sessions[0].Name != "work" || !sessions[0].Attached {
		t.Fatalf("unexpected sessions %+v", sessions)
	}
	if sessions[0].RestoreBudget != 4096 {
		t.Fatalf("unexpected restore budget %d", sessions[0].RestoreBudget)
	}
}

func TestListEmptyJSON(t *testing.T) {
	h := startDaemon(t)
	out, err := h.run(t, "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty array, got %q", out)
	}
}

func TestKillCommand(t *testing.T) {
	h := startDaemon(t)
	att, err := h.srv.Service().Attach(context.Background(), schema.AttachRequest{Name: "work"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer att.Close()
	if _, err := h.run(t, "kill", "work"); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-att.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("session was not killed")
	}
	if _, err := h.run(t, "kill", "ghost"); err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("expected not-found error naming ghost, got %v", err)
	}
}

func TestDetachCommand(t *testing.T) {
	h := startDaemon(t)
	att, err := h.srv.Service().Attach(context.Background(), schema.AttachRequest{Name: "work"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer att.Close()
	if _, err := h.run(t, "detach", "work"); err != nil {
		t.Fatalf("detach: %v", err)
	}
	select {
	case <-att.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("client was not detached")
	}
	if att.End().Reason != core.EndDetached {
		t.Fatalf("unexpected end %+v", att.End())
	}
}

func TestSwitchRejectsInvalidTarget(t *testing.T) {
	h := startDaemon(t)
	if _, err := h.run(t, "switch", "bad name"); err == nil {
		t.Fatalf("expected invalid target error")
	}
	if sessions := h.srv.Service().List(context.Background()); len(sessions) != 0 {
		t.Fatalf("no session should be created, got %+v", sessions)
	}
}

func TestSwitchAlreadyInSession(t *testing.T) {
	h := startDaemon(t)
	t.Setenv(schema.SessionEnvVar, "work")
	out, err := h.run(t, "switch", "work")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if !strings.Contains(out, "already in session 'work'") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSwitchDeclined(t *testing.T) {
	h := startDaemon(t)
	t.Setenv(schema.SessionEnvVar, "work")
	att, err := h.srv.Service().Attach(context.Background(), schema.AttachRequest{Name: "work"})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer att.Close()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader("n\n"))
	root.SetArgs([]string{"-c", h.config, "-s", h.socket, "switch", "--confirm", "other"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if !strings.Contains(out.String(), "switch cancelled") {
		t.Fatalf("unexpected output %q", out.String())
	}
	select {
	case <-att.Done():
		t.Fatalf("declined switch must not detach")
	default:
	}
}

func TestDoctorReportsRunningDaemon(t *testing.T) {
	h := startDaemon(t)
	out, err := h.run(t, "doctor")
	if err != nil && !strings.Contains(out, "FAIL  shell") {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok    daemon") || !strings.Contains(out, "session_restore=4KB") {
		t.Fatalf("expected daemon check, got %q", out)
	}
	if !strings.Contains(out, "ok    session_restore  disabled") {
		t.Fatalf("expected restore check, got %q", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"-c", path, "config", "init"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"-c", path, "config", "init"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"-c", path, "-s", "/tmp/override.sock", "config", "show"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out.String(), "session_restore: \"0\"") && !strings.Contains(out.String(), "session_restore: '0'") {
		t.Fatalf("unexpected config output %q", out.String())
	}
	if !strings.Contains(out.String(), "socket_path: /tmp/override.sock") {
		t.Fatalf("socket override missing from %q", out.String())
	}
}

func TestWriteSessionTable(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	sessions := []schema.SessionInfo{
		{Name: "build", StartedAt: now.Add(-2 * time.Hour), RestoreBytes: 1536, RestoreBudget: 4096, PID: 41, Command: "make watch"},
		{Name: "work", StartedAt: now.Add(-time.Minute), Attached: true, PID: 42, Command: "/bin/zsh"},
	}
	var out bytes.Buffer
	if err := writeSessionTable(&out, sessions, "work", now); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("unexpected table %q", out.String())
	}
	if !strings.HasPrefix(lines[0], "NAME") {
		t.Fatalf("missing header: %q", lines[0])
	}
	for _, want := range []string{"build", "disconnected", "2 hours ago", "1.5 KiB/4.0 KiB", "make watch"} {
		if !strings.Contains(lines[1], want) {
			t.Fatalf("row %q missing %q", lines[1], want)
		}
	}
	for _, want := range []string{"work *", "attached", "1 minute ago", "off"} {
		if !strings.Contains(lines[2], want) {
			t.Fatalf("row %q missing %q", lines[2], want)
		}
	}
}

func TestCheckSSHHostKey(t *testing.T) {
	dir := t.TempDir()
	authorized := filepath.Join(dir, "authorized_keys")
	if err := os.WriteFile(authorized, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	var cfg appconfig.Config
	cfg.SSH.Addr = "127.0.0.1:2222"
	cfg.SSH.AuthorizedKeysPath = authorized
	cfg.SSH.HostKeyPath = filepath.Join(dir, "host_key")

	detail, err := checkSSH(context.Background(), cfg)
	if err != nil || !strings.Contains(detail, "generated on first start") {
		t.Fatalf("missing key: detail=%q err=%v", detail, err)
	}
	if _, err := os.Stat(cfg.SSH.HostKeyPath); !os.IsNotExist(err) {
		t.Fatalf("doctor must not create the host key")
	}

	key, err := sshserver.LoadHostKey(cfg.SSH.HostKeyPath)
	if err != nil {
		t.Fatalf("load host key: %v", err)
	}
	detail, err = checkSSH(context.Background(), cfg)
	if err != nil || !strings.Contains(detail, key.Fingerprint()) {
		t.Fatalf("existing key: detail=%q err=%v", detail, err)
	}

	if err := os.Chmod(cfg.SSH.HostKeyPath, 0o644); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if _, err := checkSSH(context.Background(), cfg); !errors.Is(err, sshserver.ErrHostKeyExposed) {
		t.Fatalf("expected exposed key error, got %v", err)
	}
}

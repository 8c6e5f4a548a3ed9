package appconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/shellkeep/internal/restore"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SessionRestore != "0" || cfg.ConfigVersion != CurrentConfigVersion {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadReadsValues(t *testing.T) {
	t.Setenv("SK_TEST_DIR", "/tmp/sk")
	path := writeConfig(t, `
config_version: 1
session_restore: 5mb
socket_path: $SK_TEST_DIR/daemon.sock
shell: /bin/zsh -l
env:
  EDITOR: vi
  GOPATH: $SK_TEST_DIR/go
aliases:
  sw: switch
ssh:
  enabled: true
  addr: 127.0.0.1:2222
hooks:
  command: notify-send shellkeep
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SessionRestore != "5mb" {
		t.Fatalf("unexpected restore %q", cfg.SessionRestore)
	}
	if cfg.SocketPath != "/tmp/sk/daemon.sock" {
		t.Fatalf("expected env expansion, got %q", cfg.SocketPath)
	}
	if cfg.Env["EDITOR"] != "vi" || cfg.Env["GOPATH"] != "/tmp/sk/go" {
		t.Fatalf("env keys must keep their case: %v", cfg.Env)
	}
	if cfg.Aliases["sw"] != "switch" {
		t.Fatalf("unexpected aliases %v", cfg.Aliases)
	}
	if !cfg.SSH.Enabled || cfg.SSH.Addr != "127.0.0.1:2222" {
		t.Fatalf("unexpected ssh %+v", cfg.SSH)
	}
	if cfg.Hooks.Command != "notify-send shellkeep" || cfg.Hooks.TimeoutSeconds != 10 {
		t.Fatalf("unexpected hooks %+v", cfg.Hooks)
	}
}

func TestLoadAcceptsBareZeroRestore(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
session_restore: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SessionRestore != "0" {
		t.Fatalf("unexpected restore %q", cfg.SessionRestore)
	}
}

func TestLoadRejectsInvalidRestorePolicy(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
session_restore: 5TB
`)
	_, err := Load(path)
	var parseErr *restore.ConfigParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected restore parse error, got %v", err)
	}
	if !strings.Contains(err.Error(), "session_restore") {
		t.Fatalf("error should name the key: %v", err)
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 9
session_restore: 1MB
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRejectsBadAlias(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
aliases:
  sw: ""
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "aliases") {
		t.Fatalf("expected alias error, got %v", err)
	}
}

func TestLoadRequiresSSHAddrWhenEnabled(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
ssh:
  enabled: true
  addr: ""
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "ssh.addr") {
		t.Fatalf("expected ssh.addr error, got %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") || strings.Contains(value, "$GID") {
		t.Fatalf("expected UID/GID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("written default should load: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
}

func TestWatchReportsValidChanges(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
session_restore: 1MB
`)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan Config, 4)
	if err := Watch(ctx, path, func(cfg Config) { changes <- cfg }); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := os.WriteFile(path, []byte("config_version: 1\nsession_restore: 2MB\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.SessionRestore == "2MB" {
				return
			}
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

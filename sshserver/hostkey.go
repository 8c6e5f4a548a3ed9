package sshserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ErrHostKeyExposed is returned for a host key file that group or others can
// access. sshd refuses such keys too.
var ErrHostKeyExposed = errors.New("ssh host key is accessible by group or others")

// HostKey is the daemon's SSH identity.
type HostKey struct {
	Signer ssh.Signer
	Path   string
	// Generated is set when the key was created by this call.
	Generated bool
}

// Fingerprint returns the SHA256 fingerprint clients see on first connect.
func (k HostKey) Fingerprint() string {
	return ssh.FingerprintSHA256(k.Signer.PublicKey())
}

// LoadHostKey reads the host key at path, creating an ed25519 key when the
// file does not exist yet.
func LoadHostKey(path string) (HostKey, error) {
	if strings.TrimSpace(path) == "" {
		return HostKey{}, errors.New("ssh host key path is required")
	}
	key, err := ReadHostKey(path)
	if !errors.Is(err, fs.ErrNotExist) {
		return key, err
	}
	signer, err := generateHostKey(path)
	if errors.Is(err, fs.ErrExist) {
		// Another daemon start won the race; use its key.
		return ReadHostKey(path)
	}
	if err != nil {
		return HostKey{}, err
	}
	return HostKey{Signer: signer, Path: path, Generated: true}, nil
}

// ReadHostKey reads an existing host key without creating one. Keys that are
// not private to the owner are rejected with ErrHostKeyExposed.
func ReadHostKey(path string) (HostKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return HostKey{}, fmt.Errorf("ssh host key: %w", err)
	}
	if !info.Mode().IsRegular() {
		return HostKey{}, fmt.Errorf("ssh host key %s is not a regular file", path)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return HostKey{}, fmt.Errorf("%w: %s has mode %#o, want 0600", ErrHostKeyExposed, path, perm)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return HostKey{}, fmt.Errorf("ssh host key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return HostKey{}, fmt.Errorf("parse ssh host key %s: %w", path, err)
	}
	return HostKey{Signer: signer, Path: path}, nil
}

// generateHostKey writes a fresh key next to path and links it into place, so
// a partially written key is never visible and an existing key is never
// replaced.
func generateHostKey(path string) (ssh.Signer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create host key dir: %w", err)
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, hostKeyComment())
	if err != nil {
		return nil, fmt.Errorf("marshal host key: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".hostkey-*")
	if err != nil {
		return nil, fmt.Errorf("write host key: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write host key: %w", err)
	}
	if err := pem.Encode(tmp, block); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write host key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("write host key: %w", err)
	}
	if err := os.Link(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("install host key: %w", err)
	}
	return ssh.NewSignerFromKey(priv)
}

func hostKeyComment() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return "shellkeep@" + host
	}
	return "shellkeep"
}

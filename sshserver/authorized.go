package sshserver

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// AuthorizedKeys checks client keys against an OpenSSH authorized_keys file.
// The file is re-read on every check so edits apply without a restart.
type AuthorizedKeys struct {
	Path string
}

// Allowed reports whether key appears in the file.
func (a AuthorizedKeys) Allowed(key ssh.PublicKey) (bool, error) {
	if strings.TrimSpace(a.Path) == "" {
		return false, errors.New("authorized keys path is required")
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return false, fmt.Errorf("read authorized keys: %w", err)
	}
	want := key.Marshal()
	for len(bytes.TrimSpace(data)) > 0 {
		candidate, _, _, rest, err := ssh.ParseAuthorizedKey(data)
		if err != nil {
			// ParseAuthorizedKey skips unparsable lines itself; an error means
			// no further keys were found.
			break
		}
		if bytes.Equal(candidate.Marshal(), want) {
			return true, nil
		}
		data = rest
	}
	return false, nil
}

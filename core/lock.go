package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrDaemonRunning is returned when another daemon holds the socket lock.
var ErrDaemonRunning = errors.New("another daemon is already serving this socket")

// DaemonLock guards a socket path against concurrent daemons.
type DaemonLock struct {
	lock *flock.Flock
}

// LockPath returns the lock file used for socketPath.
func LockPath(socketPath string) string {
	return socketPath + ".lock"
}

// AcquireLock takes the daemon lock for socketPath without blocking.
func AcquireLock(socketPath string) (*DaemonLock, error) {
	path := LockPath(socketPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrDaemonRunning, path)
	}
	return &DaemonLock{lock: lock}, nil
}

// Release drops the lock. It is safe to call more than once.
func (l *DaemonLock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}

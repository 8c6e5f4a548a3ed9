package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"pkt.systems/shellkeep/schema"
)

// SpawnSpec describes the program started for a new session.
type SpawnSpec struct {
	Argv []string
	Env  []string
	Dir  string
	Size schema.TtySize
}

// Process is a running session program behind a pseudo terminal.
type Process interface {
	io.ReadWriter
	Resize(size schema.TtySize) error
	Signal(sig syscall.Signal) error
	// Wait blocks until the program exits and returns its exit code.
	Wait() (int, error)
	Close() error
	PID() int
}

// Spawner starts session programs.
type Spawner interface {
	Spawn(ctx context.Context, spec SpawnSpec) (Process, error)
}

// PTYSpawner starts programs on a new pseudo terminal in their own session.
type PTYSpawner struct{}

// Spawn starts spec.Argv on a fresh pty.
func (PTYSpawner) Spawn(_ context.Context, spec SpawnSpec) (Process, error) {
	if len(spec.Argv) == 0 {
		return nil, errors.New("spawn: empty command")
	}
	path, err := exec.LookPath(spec.Argv[0])
	if err != nil {
		return nil, fmt.Errorf("spawn %q: %w", spec.Argv[0], err)
	}
	cmd := exec.Command(path, spec.Argv[1:]...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	f, err := pty.StartWithSize(cmd, winsize(spec.Size))
	if err != nil {
		return nil, fmt.Errorf("spawn %q: %w", spec.Argv[0], err)
	}
	return &ptyProcess{cmd: cmd, tty: f}, nil
}

type ptyProcess struct {
	cmd *exec.Cmd
	tty *os.File
}

func (p *ptyProcess) Read(b []byte) (int, error) {
	n, err := p.tty.Read(b)
	// Linux reports EIO on the master once the last slave fd is closed.
	if err != nil && errors.Is(err, syscall.EIO) {
		err = io.EOF
	}
	return n, err
}

func (p *ptyProcess) Write(b []byte) (int, error) {
	return p.tty.Write(b)
}

func (p *ptyProcess) Resize(size schema.TtySize) error {
	if size.IsZero() {
		return nil
	}
	return pty.Setsize(p.tty, winsize(size))
}

// Signal delivers sig to the whole process group of the session leader.
func (p *ptyProcess) Signal(sig syscall.Signal) error {
	pid := p.PID()
	if pid <= 0 {
		return os.ErrProcessDone
	}
	if err := unix.Kill(-pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

func (p *ptyProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (p *ptyProcess) Close() error {
	return p.tty.Close()
}

func (p *ptyProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func winsize(size schema.TtySize) *pty.Winsize {
	if size.IsZero() {
		size = schema.TtySize{Rows: 24, Cols: 80}
	}
	return &pty.Winsize{Rows: size.Rows, Cols: size.Cols, X: size.XPixel, Y: size.YPixel}
}

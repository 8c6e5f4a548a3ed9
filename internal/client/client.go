// Package client is the terminal side of shellkeep: it binds the local tty
// to a daemon session and issues management calls.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"pkt.systems/pslog"
	"pkt.systems/shellkeep/internal/sessiongrpc"
	"pkt.systems/shellkeep/schema"
)

// ErrSelfAttach is returned when a session tries to attach to itself.
var ErrSelfAttach = errors.New("cannot attach to the session you are in")

// Client binds a terminal to the daemon.
type Client struct {
	rpc     *sessiongrpc.Client
	in      io.Reader
	out     io.Writer
	status  io.Writer
	current schema.SessionName
	term    string
	env     map[string]string
}

// Option customizes a Client.
type Option func(*Client)

// WithTerminal replaces stdin, stdout and stderr.
func WithTerminal(in io.Reader, out, status io.Writer) Option {
	return func(c *Client) {
		c.in = in
		c.out = out
		c.status = status
	}
}

// WithCurrentSession sets the session this process runs in.
func WithCurrentSession(name schema.SessionName) Option {
	return func(c *Client) {
		c.current = name
	}
}

// WithEnv forwards variables into sessions created by attach.
func WithEnv(env map[string]string) Option {
	return func(c *Client) {
		c.env = env
	}
}

// New wraps an existing daemon connection.
func New(rpc *sessiongrpc.Client, opts ...Option) *Client {
	c := &Client{
		rpc:     rpc,
		in:      os.Stdin,
		out:     os.Stdout,
		status:  os.Stderr,
		current: schema.SessionName(os.Getenv(schema.SessionEnvVar)),
		term:    os.Getenv("TERM"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to the daemon socket.
func Dial(ctx context.Context, socketPath string, opts ...Option) (*Client, error) {
	rpc, err := sessiongrpc.Dial(ctx, socketPath)
	if err != nil {
		return nil, err
	}
	return New(rpc, opts...), nil
}

// Close releases the daemon connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) (sessiongrpc.PingResponse, error) {
	return c.rpc.Ping(ctx)
}

// List returns all sessions.
func (c *Client) List(ctx context.Context) ([]schema.SessionInfo, error) {
	return c.rpc.List(ctx)
}

// Kill terminates sessions and reports names the daemon did not know.
func (c *Client) Kill(ctx context.Context, names []schema.SessionName) error {
	result, err := c.rpc.Kill(ctx, names)
	if err != nil {
		return err
	}
	if len(result.NotFound) > 0 {
		return fmt.Errorf("%w: %s", schema.ErrSessionNotFound, joinNames(result.NotFound))
	}
	return nil
}

// Detach unbinds clients from sessions. Without names it detaches the
// session this process runs in.
func (c *Client) Detach(ctx context.Context, names []schema.SessionName) error {
	if len(names) == 0 {
		if c.current == "" {
			return errors.New("no session names given and not inside a session")
		}
		names = []schema.SessionName{c.current}
	}
	result, err := c.rpc.Detach(ctx, names)
	if err != nil {
		return err
	}
	var errs []error
	if len(result.NotFound) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", schema.ErrSessionNotFound, joinNames(result.NotFound)))
	}
	if len(result.NotAttached) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", schema.ErrNotAttached, joinNames(result.NotAttached)))
	}
	return errors.Join(errs...)
}

// Attach binds the terminal to name until the client is detached, the
// session exits, or ctx is cancelled.
func (c *Client) Attach(ctx context.Context, name schema.SessionName, opts schema.AttachOptions) error {
	if err := schema.ValidateSessionName(name); err != nil {
		return err
	}
	if c.current != "" && c.current == name {
		return fmt.Errorf("%w (%s)", ErrSelfAttach, name)
	}
	log := pslog.Ctx(ctx).With("session", name)
	fd, isTerm := terminalFD(c.in)
	req := schema.AttachRequest{
		Name:  name,
		Force: opts.Force,
		TTL:   opts.TTL,
		Cmd:   opts.Cmd,
		Term:  c.term,
		Env:   c.env,
	}
	if isTerm {
		req.Size = terminalSize(fd)
	}

	attachCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := c.rpc.Attach(attachCtx, req)
	if err != nil {
		return err
	}
	log.Debug("client attached", "client", stream.Client(), "created", stream.Created(), "restore_bytes", len(stream.Restore()))

	restoreTerminal := func() {}
	if isTerm {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("set terminal raw mode: %w", err)
		}
		var once sync.Once
		restoreTerminal = func() { once.Do(func() { _ = term.Restore(fd, state) }) }
		defer restoreTerminal()
		stopResize := forwardResize(attachCtx, fd, stream, log)
		defer stopResize()
	}

	if restore := stream.Restore(); len(restore) > 0 {
		if _, err := c.out.Write(restore); err != nil {
			return fmt.Errorf("write restore sequence: %w", err)
		}
	}
	go c.forwardInput(stream, log)

	end, err := c.copyOutput(stream)
	restoreTerminal()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	c.reportEnd(name, end)
	return nil
}

func (c *Client) copyOutput(stream *sessiongrpc.AttachStream) (*sessiongrpc.EndFrame, error) {
	for {
		data, end, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return end, nil
		}
		if err != nil {
			return nil, err
		}
		if _, err := c.out.Write(data); err != nil {
			return nil, fmt.Errorf("write output: %w", err)
		}
	}
}

// forwardInput runs until stdin fails; a blocked terminal read is abandoned
// when the process exits.
func (c *Client) forwardInput(stream *sessiongrpc.AttachStream, log pslog.Logger) {
	buf := make([]byte, 4096)
	for {
		n, err := c.in.Read(buf)
		if n > 0 {
			if sendErr := stream.SendInput(append([]byte(nil), buf[:n]...)); sendErr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("client input ended", "err", err)
			}
			_ = stream.CloseSend()
			return
		}
	}
}

func (c *Client) reportEnd(name schema.SessionName, end *sessiongrpc.EndFrame) {
	if c.status == nil {
		return
	}
	reason := ""
	if end != nil {
		reason = end.Reason
	}
	switch reason {
	case "exited":
		if end.ExitCode != 0 {
			fmt.Fprintf(c.status, "\nsession '%s' exited with status %d\n", name, end.ExitCode)
			return
		}
		fmt.Fprintf(c.status, "\nsession '%s' exited\n", name)
	case "replaced":
		fmt.Fprintf(c.status, "\nsession '%s' was attached elsewhere\n", name)
	default:
		fmt.Fprintf(c.status, "\ndetached from session '%s'\n", name)
	}
}

func forwardResize(ctx context.Context, fd int, stream *sessiongrpc.AttachStream, log pslog.Logger) func() {
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, unix.SIGWINCH)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-winch:
				size := terminalSize(fd)
				if size.IsZero() {
					continue
				}
				if err := stream.SendResize(size); err != nil {
					log.Debug("client resize failed", "err", err)
					return
				}
			}
		}
	}()
	return func() { signal.Stop(winch) }
}

func terminalFD(r io.Reader) (int, bool) {
	f, ok := r.(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

func terminalSize(fd int) schema.TtySize {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		cols, rows, err := term.GetSize(fd)
		if err != nil {
			return schema.TtySize{}
		}
		return schema.TtySize{Rows: uint16(rows), Cols: uint16(cols)}
	}
	return schema.TtySize{Rows: ws.Row, Cols: ws.Col, XPixel: ws.Xpixel, YPixel: ws.Ypixel}
}

func joinNames(names []schema.SessionName) string {
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = string(name)
	}
	return strings.Join(parts, ", ")
}

// Package hooks runs a user command for session lifecycle events.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"pkt.systems/shellkeep/internal/logx"
	"pkt.systems/shellkeep/schema"
)

// DefaultTimeout bounds a hook run when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Config configures the hook runner.
type Config struct {
	Command string
	Timeout time.Duration
}

// Runner executes the hook command once per event, in event order.
type Runner struct {
	argv    []string
	timeout time.Duration
}

// New parses the hook command line. It returns nil when no command is set.
func New(cfg Config) (*Runner, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, nil
	}
	argv, err := shlex.Split(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("hook command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("hook command is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{argv: argv, timeout: timeout}, nil
}

// Run consumes events until the channel closes or ctx is done.
func (r *Runner) Run(ctx context.Context, events <-chan schema.SessionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			_ = r.Fire(ctx, event)
		}
	}
}

// Fire runs the hook for a single event and waits for it to finish.
func (r *Runner) Fire(ctx context.Context, event schema.SessionEvent) error {
	log := logx.WithSession(ctx, event.Session).With("event", event.Type)
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.argv[0], r.argv[1:]...)
	cmd.Env = append(os.Environ(), Env(event)...)
	start := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("hook timed out after %s: %w", r.timeout, err)
		}
		log.Warn("hook failed", "err", err, "output", logx.Preview(out))
		return err
	}
	log.Debug("hook ok", "duration", time.Since(start))
	return nil
}

// Env returns the variables describing event.
func Env(event schema.SessionEvent) []string {
	env := []string{
		"SHELLKEEP_EVENT=" + string(event.Type),
		schema.SessionEnvVar + "=" + string(event.Session),
	}
	if event.Client != "" {
		env = append(env, "SHELLKEEP_CLIENT_ID="+string(event.Client))
	}
	if event.Type == schema.SessionExited || event.Type == schema.SessionKilled {
		env = append(env, "SHELLKEEP_EXIT_CODE="+strconv.Itoa(event.ExitCode))
	}
	return env
}

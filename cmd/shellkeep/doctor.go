package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/shellkeep/core"
	"pkt.systems/shellkeep/internal/appconfig"
	"pkt.systems/shellkeep/internal/restore"
	"pkt.systems/shellkeep/internal/sessiongrpc"
	"pkt.systems/shellkeep/schema"
	"pkt.systems/shellkeep/sshserver"
)

type doctorCheck struct {
	name string
	run  func(ctx context.Context, cfg appconfig.Config) (string, error)
}

func newDoctorCmd(opts *globalOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run shellkeep diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, path, err := opts.load()
			if err != nil {
				return err
			}
			logger.Info("doctor start", "config", path)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runDoctor(ctx, cmd.OutOrStdout(), cfg, doctorChecks(cfg))
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "overall time limit for the checks")
	return cmd
}

func doctorChecks(cfg appconfig.Config) []doctorCheck {
	checks := []doctorCheck{
		{name: "session_restore", run: checkRestorePolicy},
		{name: "shell", run: checkShell},
		{name: "daemon", run: checkDaemon},
	}
	if cfg.SSH.Enabled {
		checks = append(checks, doctorCheck{name: "ssh", run: checkSSH})
	}
	return checks
}

func runDoctor(ctx context.Context, out io.Writer, cfg appconfig.Config, checks []doctorCheck) error {
	failed := 0
	for _, check := range checks {
		detail, err := check.run(ctx, cfg)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL  %-16s %v\n", check.name, err)
			continue
		}
		fmt.Fprintf(out, "ok    %-16s %s\n", check.name, detail)
	}
	if failed > 0 {
		return fmt.Errorf("doctor: %d check(s) failed", failed)
	}
	return nil
}

func checkRestorePolicy(_ context.Context, cfg appconfig.Config) (string, error) {
	budget, err := restore.ParseBudget(cfg.SessionRestore)
	if err != nil {
		return "", err
	}
	if budget == 0 {
		return "disabled", nil
	}
	return humanize.IBytes(uint64(budget)) + " per session", nil
}

func checkShell(_ context.Context, cfg appconfig.Config) (string, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg.ServiceConfig())
	if err != nil {
		return "", err
	}
	argv, err := shlex.Split(normalized.Shell)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", normalized.Shell, err)
	}
	if len(argv) == 0 {
		return "", errors.New("shell is empty")
	}
	resolved, err := exec.LookPath(argv[0])
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// checkDaemon reports a running daemon, or a free socket ready for one.
func checkDaemon(ctx context.Context, cfg appconfig.Config) (string, error) {
	rpc, err := sessiongrpc.Dial(ctx, cfg.SocketPath)
	if err == nil {
		defer func() { _ = rpc.Close() }()
		pong, pingErr := rpc.Ping(ctx)
		if pingErr == nil {
			return fmt.Sprintf("running pid=%d version=%s session_restore=%s", pong.PID, pong.Version, pong.RestorePolicy), nil
		}
		err = pingErr
	}
	if !errors.Is(err, schema.ErrDaemonUnavailable) {
		return "", err
	}
	lock, lockErr := core.AcquireLock(cfg.SocketPath)
	if lockErr != nil {
		return "", fmt.Errorf("daemon not answering but socket is locked: %w", lockErr)
	}
	_ = lock.Release()
	return "not running (" + cfg.SocketPath + ")", nil
}

func checkSSH(_ context.Context, cfg appconfig.Config) (string, error) {
	if _, err := os.Stat(cfg.SSH.AuthorizedKeysPath); err != nil {
		return "", fmt.Errorf("authorized keys: %w", err)
	}
	key, err := sshserver.ReadHostKey(cfg.SSH.HostKeyPath)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg.SSH.Addr + " host key generated on first start", nil
	}
	if err != nil {
		return "", err
	}
	return strings.Join([]string{cfg.SSH.Addr, key.Fingerprint()}, " "), nil
}

package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/shellkeep"
	"pkt.systems/shellkeep/core"
)

// stopSlack is added to the kill grace when waiting for sessions on shutdown.
const stopSlack = 5 * time.Second

func newDaemonCmd(opts *globalOptions) *cobra.Command {
	var withSSH bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the session daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, path, err := opts.load()
			if err != nil {
				return err
			}
			if withSSH {
				cfg.SSH.Enabled = true
			}

			serverOpts := []shellkeep.ServerOption{shellkeep.WithSocket()}
			if cfg.SSH.Enabled {
				serverOpts = append(serverOpts, shellkeep.WithSSH())
			}
			if _, err := os.Stat(path); err == nil {
				serverOpts = append(serverOpts, shellkeep.WithConfigWatch())
			} else {
				logger.Info("config file absent, using defaults", "config", path)
			}

			srv, err := shellkeep.New(
				shellkeep.ConfigFromApp(cfg, path),
				shellkeep.ServerDeps{ServiceDeps: core.ServiceDeps{Logger: logger}},
				serverOpts...,
			)
			if err != nil {
				return err
			}
			if err := srv.Start(cmd.Context()); err != nil {
				return err
			}
			waitErr := srv.Wait()

			grace := time.Duration(cfg.KillGraceSeconds) * time.Second
			stopCtx, cancel := context.WithTimeout(context.Background(), grace+stopSlack)
			defer cancel()
			if err := srv.Stop(stopCtx); err != nil && waitErr == nil {
				return err
			}
			return waitErr
		},
	}
	cmd.Flags().BoolVar(&withSSH, "ssh", false, "enable the SSH front door regardless of ssh.enabled")
	return cmd
}

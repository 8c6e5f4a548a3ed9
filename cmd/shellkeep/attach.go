package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/shellkeep/internal/client"
	"pkt.systems/shellkeep/schema"
)

func addAttachFlags(cmd *cobra.Command, attach *schema.AttachOptions) {
	cmd.Flags().BoolVarP(&attach.Force, "force", "f", false, "detach any client already attached to the session")
	cmd.Flags().StringVar(&attach.TTL, "ttl", "", "kill the session after this long (e.g. 90m, 12h, 3d)")
	cmd.Flags().StringVar(&attach.Cmd, "cmd", "", "command to run instead of the shell when the session is created")
}

func newAttachCmd(opts *globalOptions) *cobra.Command {
	var attach schema.AttachOptions
	cmd := &cobra.Command{
		Use:   "attach NAME",
		Short: "Attach to a session, creating it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := opts.dial(cmd.Context(), client.WithCurrentSession(currentSession()))
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()
			return cl.Attach(cmd.Context(), schema.SessionName(args[0]), attach)
		},
	}
	addAttachFlags(cmd, &attach)
	return cmd
}

func newDetachCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detach [NAME...]",
		Short: "Detach clients from sessions (default: the current session)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := opts.dial(cmd.Context(), client.WithCurrentSession(currentSession()))
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()
			return cl.Detach(cmd.Context(), toSessionNames(args))
		},
	}
}

func newKillCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kill NAME...",
		Short: "Terminate sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()
			return cl.Kill(cmd.Context(), toSessionNames(args))
		},
	}
}

package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/shellkeep/internal/client"
	"pkt.systems/shellkeep/internal/switcher"
	"pkt.systems/shellkeep/schema"
)

func newSwitchCmd(opts *globalOptions) *cobra.Command {
	var attach schema.AttachOptions
	var confirm bool
	cmd := &cobra.Command{
		Use:   "switch NAME",
		Short: "Detach from the current session and attach to another",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			current := currentSession()
			cl, err := opts.dial(cmd.Context(), client.WithCurrentSession(current))
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()

			coordinator := &switcher.Coordinator{
				Attacher:  cl,
				Detacher:  cl,
				Confirmer: switcher.PromptConfirmer{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()},
				Status:    cmd.ErrOrStderr(),
			}
			outcome, err := coordinator.Run(cmd.Context(), switcher.Intent{
				Current: current,
				Target:  schema.SessionName(args[0]),
				Confirm: confirm,
				Options: attach,
			})
			pslog.Ctx(cmd.Context()).Debug("switch finished", "outcome", outcome)
			return err
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "ask before detaching from the current session")
	addAttachFlags(cmd, &attach)
	return cmd
}

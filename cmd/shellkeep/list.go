package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkt.systems/shellkeep/schema"
)

func newListCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = cl.Close() }()
			sessions, err := cl.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if sessions == nil {
					sessions = []schema.SessionInfo{}
				}
				return enc.Encode(sessions)
			}
			return writeSessionTable(cmd.OutOrStdout(), sessions, currentSession(), time.Now())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print sessions as JSON")
	return cmd
}

func writeSessionTable(w io.Writer, sessions []schema.SessionInfo, current schema.SessionName, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tSTARTED\tRESTORE\tPID\tCOMMAND")
	for _, info := range sessions {
		name := string(info.Name)
		if info.Name == current {
			name += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			name,
			sessionStatus(info),
			humanize.RelTime(info.StartedAt, now, "ago", "from now"),
			restoreUsage(info),
			info.PID,
			info.Command,
		)
	}
	return tw.Flush()
}

func sessionStatus(info schema.SessionInfo) string {
	if info.Attached {
		return "attached"
	}
	return "disconnected"
}

func restoreUsage(info schema.SessionInfo) string {
	if info.RestoreBudget == 0 {
		return "off"
	}
	return humanize.IBytes(uint64(info.RestoreBytes)) + "/" + humanize.IBytes(uint64(info.RestoreBudget))
}

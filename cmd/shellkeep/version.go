package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/shellkeep/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			build := version.Read()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", build.Module, build)
			return err
		},
	}
}

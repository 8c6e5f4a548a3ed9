package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"
	"pkt.systems/shellkeep/internal/appconfig"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	args := applyArgv0Alias(os.Args)
	root := newRootCmd()
	args = applyConfigAliases(args, root, configAliases(args))
	root.SetArgs(args[1:])

	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("shellkeep command failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "shellkeep",
		Short:         "Persistent named shell sessions you can detach from and reattach to",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.shellkeep/config.yaml)")
	root.PersistentFlags().StringVarP(&opts.socket, "socket", "s", "", "daemon socket path (overrides socket_path)")

	root.AddCommand(newDaemonCmd(opts))
	root.AddCommand(newAttachCmd(opts))
	root.AddCommand(newDetachCmd(opts))
	root.AddCommand(newSwitchCmd(opts))
	root.AddCommand(newListCmd(opts))
	root.AddCommand(newKillCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newDoctorCmd(opts))
	root.AddCommand(newVersionCmd())

	return root
}

func argv0Alias(base string) string {
	switch base {
	case "skswitch":
		return "switch"
	default:
		return ""
	}
}

func applyArgv0Alias(args []string) []string {
	if len(args) == 0 {
		return args
	}
	alias := argv0Alias(filepath.Base(args[0]))
	if alias == "" {
		return args
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0], alias)
	out = append(out, args[1:]...)
	return out
}

// configAliases loads the aliases map from the config named on the command
// line, or the default config. Errors are left for the command to report.
func configAliases(args []string) map[string]string {
	cfg, err := appconfig.Load(configPathFromArgs(args))
	if err != nil {
		return nil
	}
	return cfg.Aliases
}

func configPathFromArgs(args []string) string {
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			return ""
		case arg == "-c" || arg == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config=")
		case strings.HasPrefix(arg, "-c") && len(arg) > 2:
			return strings.TrimPrefix(arg, "-c")
		}
	}
	return ""
}

// applyConfigAliases expands the first positional argument when it names a
// config alias. Built-in commands always win over aliases.
func applyConfigAliases(args []string, root *cobra.Command, aliases map[string]string) []string {
	if len(aliases) == 0 || len(args) < 2 {
		return args
	}
	idx := firstPositional(args)
	if idx < 0 {
		return args
	}
	name := args[idx]
	if cmd, _, err := root.Find([]string{name}); err == nil && cmd != root {
		return args
	}
	target, ok := aliases[name]
	if !ok {
		return args
	}
	expansion, err := shlex.Split(target)
	if err != nil || len(expansion) == 0 {
		return args
	}
	out := make([]string, 0, len(args)+len(expansion))
	out = append(out, args[:idx]...)
	out = append(out, expansion...)
	out = append(out, args[idx+1:]...)
	return out
}

// firstPositional skips the global flags that may precede the subcommand.
func firstPositional(args []string) int {
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-c" || arg == "--config" || arg == "-s" || arg == "--socket":
			i++
		case strings.HasPrefix(arg, "-"):
		default:
			return i
		}
	}
	return -1
}

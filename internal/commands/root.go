package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCommand assembles the usagebar command tree.
func NewRootCommand() *cobra.Command {
	opts := &GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "usagebar",
		Short: "Claude subscription usage monitor",
		Long: `Poll the Claude usage endpoint, show the 5-hour and weekly limits,
and warn when usage gets close to a limit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "Path to the config file (default $USAGEBAR_CONFIG or ~/.config/usagebar/config.yaml)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Override the log level: debug, info, warn, error")
	flags.BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		NewMonitorCommand(opts),
		NewWatchCommand(opts),
		NewStatusCommand(opts),
		NewConfigCommand(opts),
		NewVersionCommand(),
	)
	return rootCmd
}

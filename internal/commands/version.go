package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdpower/usagebar-go/internal/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, built %s)\n",
				version.AppName, version.Version, version.Commit, version.Date)
			return nil
		},
	}
}

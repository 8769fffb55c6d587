package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sdpower/usagebar-go/internal/monitor"
)

func NewMonitorCommand(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Show Claude usage limits in a live dashboard",
		Long: `Poll the Claude usage endpoint and show every limit in a live terminal dashboard.

Keys: r refresh, +/- change the refresh interval, n toggle notifications, q quit.
Logs are written to a file so they do not disturb the screen.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !monitor.IsTerminal() {
				return monitor.ErrNotTerminal
			}

			banner := monitor.NewSink()
			a, err := newApp(opts, appOptions{
				logToFile:    true,
				banner:       banner,
				watchNetwork: true,
			})
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			a.engine.Start(ctx)

			err = monitor.Run(ctx, a.engine, banner, monitor.Options{
				NoColor:           !opts.useColor(),
				OnSettingsChanged: a.saveSettings,
			})
			if err != nil {
				a.logger.Error("monitor stopped", zap.Error(err))
				return fmt.Errorf("monitor: %w", err)
			}
			return nil
		},
	}

	return cmd
}

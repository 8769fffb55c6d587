package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sdpower/usagebar-go/internal/output"
	"github.com/sdpower/usagebar-go/internal/poller"
	"github.com/sdpower/usagebar-go/internal/types"
)

// ErrStatusTimeout is returned when the first fetch does not finish in time.
var ErrStatusTimeout = errors.New("timed out waiting for usage data")

func NewStatusCommand(opts *GlobalOptions) *cobra.Command {
	var (
		format  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch usage once and print it",
		Long: `Fetch the current Claude usage limits once and print them as a table,
JSON or CSV. No notifications are sent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "table", "json", "csv":
			default:
				return fmt.Errorf("unknown output format %q", format)
			}

			disabled := false
			a, err := newApp(opts, appOptions{notificationsEnabled: &disabled})
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := waitFirstFetch(ctx, a.engine); err != nil {
				return err
			}

			formatter := output.NewFormatter(output.FormatterOptions{
				Format:  format,
				NoColor: !opts.useColor(),
			})
			report := output.BuildReport(a.engine, time.Now())
			out, err := formatter.FormatReport(report)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)

			if st := a.engine.State(); st.LastError != nil && st.Snapshot == nil {
				return statusError(st.LastError)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json, csv")
	cmd.Flags().DurationVar(&timeout, "timeout", 45*time.Second, "Maximum time to wait for the usage endpoint")

	return cmd
}

// waitFirstFetch starts engine and blocks until its first fetch completes.
func waitFirstFetch(ctx context.Context, engine *poller.Engine) error {
	updates, unsubscribe := engine.Subscribe()
	defer unsubscribe()

	engine.Start(ctx)
	for {
		st := engine.State()
		if !st.IsLoading && (st.LastUpdated != nil || st.LastError != nil) {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrStatusTimeout
			}
			return ctx.Err()
		case _, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
		}
	}
}

// statusError maps a failed first fetch to the error the command exits with.
func statusError(err error) error {
	if errors.Is(err, types.ErrCredentialNotFound) {
		return &types.APIError{Kind: types.KindCredentialNotFound, Err: err}
	}
	return err
}

package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sdpower/usagebar-go/internal/poller"
	"github.com/sdpower/usagebar-go/internal/server"
)

func NewWatchCommand(opts *GlobalOptions) *cobra.Command {
	var (
		addr     string
		noServer bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll usage in the background and serve it over HTTP",
		Long: `Poll the Claude usage endpoint without a terminal UI.

State changes are logged, high-usage warnings are delivered as notifications,
and the current state is served on /state with Prometheus metrics on /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, appOptions{watchNetwork: true})
			if err != nil {
				return err
			}
			defer a.close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			a.engine.Start(ctx)

			g.Go(func() error {
				logStateChanges(ctx, a.engine, a.logger.Named("state"))
				return nil
			})

			if !noServer {
				srv := server.New(a.engine, server.Options{
					Addr:            addr,
					ReadTimeout:     time.Duration(a.cfg.Server.ReadTimeoutSec) * time.Second,
					WriteTimeout:    time.Duration(a.cfg.Server.WriteTimeoutSec) * time.Second,
					ShutdownTimeout: time.Duration(a.cfg.Server.ShutdownSec) * time.Second,
					Gatherer:        a.registry,
					Logger:          a.logger.Named("server"),
				})
				g.Go(func() error {
					return srv.Run(ctx)
				})
			}

			g.Go(func() error {
				<-a.engine.Done()
				return nil
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address for the HTTP surface (default from config)")
	cmd.Flags().BoolVar(&noServer, "no-server", false, "Do not start the HTTP surface")

	return cmd
}

// logStateChanges logs each completed fetch until ctx is done or the engine
// closes.
func logStateChanges(ctx context.Context, engine *poller.Engine, logger *zap.Logger) {
	updates, unsubscribe := engine.Subscribe()
	defer unsubscribe()

	var lastUpdated time.Time
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
		}

		st := engine.State()
		if st.IsLoading {
			continue
		}
		switch {
		case st.LastError != nil && st.LastError != lastErr:
			lastErr = st.LastError
			logger.Warn("usage fetch failed", zap.Error(st.LastError))
		case st.LastUpdated != nil && !st.LastUpdated.Equal(lastUpdated):
			lastUpdated = *st.LastUpdated
			lastErr = nil
			top := engine.MaxDisplayUsage()
			logger.Info("usage updated",
				zap.String("highest", top.Name),
				zap.Int("percentage", top.Percentage),
				zap.String("status", top.Status.String()),
				zap.String("resets_in", top.RemainingTime),
			)
		}
	}
}

// ABOUTME: Daemon command that keeps the mirror fresh on a fixed interval
// ABOUTME: Optionally serves the HTTP API and metrics alongside the scheduler
package cli

import (
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harperreed/gestor/sync"
	"github.com/harperreed/gestor/web"
)

func newDaemonCommand(a *app) *cobra.Command {
	var (
		interval    time.Duration
		initialFull bool
		skipInitial bool
		httpAddr    string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run syncs on a schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeDB, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			cfg := sync.SchedulerConfig{
				Interval:    a.cfg.Sync.Interval,
				InitialRun:  a.cfg.Sync.InitialRun && !skipInitial,
				InitialFull: a.cfg.Sync.InitialFull || initialFull,
			}
			if cmd.Flags().Changed("interval") {
				cfg.Interval = interval
			}
			scheduler, err := a.newScheduler(store, cfg)
			if err != nil {
				return err
			}

			a.logger.Info("daemon starting",
				"interval", scheduler.Interval(),
				"database", a.cfg.DatabasePath,
				"http", httpAddr)

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return scheduler.Run(ctx)
			})
			if httpAddr != "" {
				server := web.NewServer(store, scheduler, a.logger)
				g.Go(func() error {
					return server.Start(ctx, httpAddr)
				})
			}
			return g.Wait()
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&interval, "interval", sync.DefaultInterval, "Time between syncs (minimum 5m)")
	flags.BoolVar(&initialFull, "initial-full", false, "Make the first sync a full resync")
	flags.BoolVar(&skipInitial, "no-initial-run", false, "Wait one interval before the first sync")
	flags.StringVar(&httpAddr, "http-addr", "", "Also serve the HTTP API and /metrics on this address")
	return cmd
}

// ABOUTME: Serve command exposing the HTTP API and metrics without a schedule
// ABOUTME: POST /sync works when an upstream token is configured
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/harperreed/gestor/db"
	"github.com/harperreed/gestor/handlers"
	"github.com/harperreed/gestor/sync"
	"github.com/harperreed/gestor/web"
)

func newServeCommand(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the mirrored data over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeDB, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			if !cmd.Flags().Changed("addr") {
				addr = a.cfg.HTTP.Addr
			}
			return web.NewServer(store, a.optionalTrigger(cmd.Context(), store), a.logger).Start(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	return cmd
}

// optionalTrigger returns a scheduler for on-demand syncs, or nil when the
// upstream token is missing so read-only surfaces still start. Runs are bound
// to ctx, so a client hanging up does not cancel a run others have joined.
func (a *app) optionalTrigger(ctx context.Context, store *db.Store) handlers.SyncTrigger {
	scheduler, err := a.newScheduler(store, sync.SchedulerConfig{})
	if err != nil {
		a.logger.Warn("on-demand sync disabled", "error", err)
		return nil
	}
	scheduler.Bind(ctx)
	return scheduler
}

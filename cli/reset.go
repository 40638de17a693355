// ABOUTME: Reset command that clears sync cursors so the next run starts from scratch
// ABOUTME: Mirrored rows are kept; only the high-water marks are forgotten
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harperreed/gestor/models"
)

func newResetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "reset [resource]",
		Short:     "Clear the sync cursor of one resource, or all of them",
		Long:      "Clear stored sync cursors. Valid resources: " + strings.Join(models.Resources, ", ") + ".",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: models.Resources,
		RunE: func(cmd *cobra.Command, args []string) error {
			resources := models.Resources
			if len(args) == 1 {
				if !models.IsResource(args[0]) {
					return fmt.Errorf("unknown resource %q (valid: %s)", args[0], strings.Join(models.Resources, ", "))
				}
				resources = args[:1]
			}

			store, closeDB, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			out := cmd.OutOrStdout()
			for _, resource := range resources {
				if err := store.ResetSyncCursor(cmd.Context(), resource); err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Reset %s cursor\n", resource)
			}
			fmt.Fprintln(out, "\nThe next sync will refetch from the configured lookback window.")
			return nil
		},
	}
}

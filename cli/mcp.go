// ABOUTME: MCP server subcommand
// ABOUTME: Serves the query and sync tools over stdio for desktop assistants
package cli

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/harperreed/gestor/handlers"
	"github.com/harperreed/gestor/models"
)

func newMCPCommand(a *app, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeDB, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			// stdout carries the protocol, so logs must stay on stderr.
			a.logger.Info("starting MCP server", "database", a.cfg.DatabasePath)

			server := handlers.NewServer(version,
				handlers.NewQueryHandlers(store),
				handlers.NewSyncHandlers(store, a.optionalTrigger(cmd.Context(), store), models.TriggerMCP))
			return server.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}

// ABOUTME: Root cobra command and global flags for the gestor binary
// ABOUTME: Subcommands cover syncing, the daemon, status, cursor resets and the HTTP/MCP servers
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "gestor",
		Short: "Mirror companies, processes and deliveries from the Acessórias API into SQLite",
		Long: `gestor keeps a local SQLite mirror of an Acessórias practice-management
account. Run "gestor sync" once, "gestor daemon" to keep it fresh, and
"gestor serve" or "gestor mcp" to query it.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/gestor/config.yaml)")
	flags.StringVar(&a.dbPath, "db-path", "", "Database path (default: $XDG_DATA_HOME/gestor/gestor.db)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "Log format: text, json, logfmt")

	root.AddCommand(
		newSyncCommand(a),
		newDaemonCommand(a),
		newStatusCommand(a),
		newResetCommand(a),
		newServeCommand(a),
		newMCPCommand(a, version),
		newConfigCommand(a),
	)
	return root
}

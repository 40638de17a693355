// ABOUTME: Registers the gestor MCP tools on a server
// ABOUTME: Query tools are read-only; sync_now is the single write-path trigger
package handlers

import "github.com/modelcontextprotocol/go-sdk/mcp"

// NewServer builds the MCP server with every tool registered.
func NewServer(version string, queries *QueryHandlers, syncs *SyncHandlers) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "gestor",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_companies",
		Description: "Search mirrored companies by name, CNPJ/CPF or upstream id",
	}, queries.FindCompanies)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_processes",
		Description: "List processes filtered by company, normalized status, text or last change date",
	}, queries.FindProcesses)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_deliveries",
		Description: "List deliveries (fiscal obligations) filtered by company, process, type or date",
	}, queries.FindDeliveries)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Show per-resource sync cursors, the last runs and record counts",
	}, syncs.SyncStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_now",
		Description: "Run an incremental sync now (or a full resync with full=true) and wait for the result",
	}, syncs.SyncNow)

	return server
}

package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Vigil tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("vigil", "1.0.0")
	client := NewVigilClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolScreenTransaction, h.HandleScreenTransaction)
	s.AddTool(ToolGetInvestigations, h.HandleGetInvestigations)
	s.AddTool(ToolListTransactions, h.HandleListTransactions)
	s.AddTool(ToolGetPlatformMetrics, h.HandleGetPlatformMetrics)
	s.AddTool(ToolGenerateSAR, h.HandleGenerateSAR)

	return s
}

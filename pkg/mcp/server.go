package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/urmzd/homelink/pkg/central"
	"github.com/urmzd/homelink/pkg/connectivity"
	"github.com/urmzd/homelink/pkg/health"
	"github.com/urmzd/homelink/pkg/recovery"
)

// Connectivity is what the tools query and drive. *connectivity.Manager
// implements it.
type Connectivity interface {
	Interfaces() []string
	Status() connectivity.Status
	CentralState() central.State
	CentralHealth() health.CentralHealth
	CentralHistory() []central.StateChange
	Health(id string) (health.ConnectionHealth, error)
	Diagnostics(id string) (connectivity.Diagnostics, error)
	RecoverAllFailed(ctx context.Context) recovery.Summary
	RecoverClient(ctx context.Context, id string) (recovery.Summary, error)
}

// Server wraps the MCP server with homelink's connectivity tools
type Server struct {
	mcpServer *server.MCPServer
	conn      Connectivity
}

// NewServer creates a new MCP server over conn
func NewServer(conn Connectivity) *Server {
	s := &Server{conn: conn}

	s.mcpServer = server.NewMCPServer(
		"homelink",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// ServeStdio starts the MCP server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

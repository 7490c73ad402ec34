package mcp

import "github.com/mark3labs/mcp-go/mcp"

// registerTools registers all MCP tools with the server
func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("get_health",
			mcp.WithDescription("Get the overall connectivity health: central state, score and degraded interfaces"),
		),
		s.handleGetHealth,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_interfaces",
			mcp.WithDescription("List every monitored interface with its client state, circuits and health score"),
		),
		s.handleListInterfaces,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_interface_health",
			mcp.WithDescription("Get detailed diagnostics of one interface: health, state history, circuit metrics and recovery state"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Interface ID"),
			),
		),
		s.handleGetInterfaceHealth,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_central_state",
			mcp.WithDescription("Get the central connectivity state and its recent transitions"),
			mcp.WithNumber("history",
				mcp.Description("Number of most recent transitions to return (default 20, 0 for all)"),
			),
		),
		s.handleGetCentralState,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("recover_all",
			mcp.WithDescription("Run one recovery attempt for every failed interface"),
		),
		s.handleRecoverAll,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("recover_interface",
			mcp.WithDescription("Run one recovery attempt for one interface. Connected interfaces report NOOP"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Interface ID"),
			),
		),
		s.handleRecoverInterface,
	)
}

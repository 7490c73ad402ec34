package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/urmzd/homelink/pkg/central"
	"github.com/urmzd/homelink/pkg/recovery"
)

const defaultHistory = 20

func (s *Server) handleGetHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.conn.Status()

	status := "healthy"
	if st.CentralState != central.Running {
		status = "unhealthy"
	}

	out := GetHealthOutput{
		Status:             status,
		CentralState:       st.CentralState,
		Score:              st.Score,
		Interfaces:         len(s.conn.Interfaces()),
		DegradedInterfaces: st.DegradedInterfaces,
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
	}

	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleListInterfaces(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids := s.conn.Interfaces()
	infos := make([]InterfaceInfo, 0, len(ids))
	for _, id := range ids {
		h, err := s.conn.Health(id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to get health of %s: %s", id, err)), nil
		}
		infos = append(infos, InterfaceToInfo(h))
	}

	out := ListInterfacesOutput{
		Interfaces: infos,
		Count:      len(infos),
	}

	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleGetInterfaceHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	diag, err := s.conn.Diagnostics(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("interface not found: %s", err)), nil
	}

	out := GetInterfaceHealthOutput{
		Interface:   InterfaceToInfo(diag.Health),
		Diagnostics: diag,
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleGetCentralState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := defaultHistory
	if v, ok := request.GetArguments()["history"]; ok {
		if f, ok := v.(float64); ok && f >= 0 {
			limit = int(f)
		}
	}

	history := s.conn.CentralHistory()
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	out := GetCentralStateOutput{
		State:   s.conn.CentralState(),
		Score:   s.conn.CentralHealth().OverallScore(),
		History: history,
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleRecoverAll(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary := s.conn.RecoverAllFailed(ctx)
	return mcp.NewToolResultText(formatJSON(recoverOutput(summary))), nil
}

func (s *Server) handleRecoverInterface(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	summary, err := s.conn.RecoverClient(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to recover interface: %s", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(recoverOutput(summary))), nil
}

func recoverOutput(summary recovery.Summary) RecoverOutput {
	out := RecoverOutput{Summary: summary}
	switch {
	case summary.InProgress:
		out.Message = "A recovery pass is already running"
	case len(summary.Results) == 0:
		out.Message = "No failed interfaces to recover"
	}
	if out.Summary.Results == nil {
		out.Summary.Results = []recovery.InterfaceResult{}
	}
	return out
}

// --- helpers ---

func requiredString(request mcp.CallToolRequest, key string) (string, error) {
	args := request.GetArguments()
	v, ok := args[key]
	if !ok || v == nil {
		return "", fmt.Errorf("required parameter %q is missing", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func formatJSON(v any) string {
	b, err := encodeJSON(v)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response: %s"}`, err)
	}
	return string(b)
}

func encodeJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

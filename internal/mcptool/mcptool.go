// Package mcptool exposes the bridge's diagnostic surface to external
// debugging clients over MCP: log queries, packet search, connection
// state and aggregate metrics.
package mcptool

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ble-mcp-test/ble-bridge/internal/lifecycle"
	"github.com/ble-mcp-test/ble-bridge/internal/logring"
)

// Service wires the diagnostic tools onto an MCP server.
type Service struct {
	bridge  *lifecycle.Bridge
	ring    *logring.Buffer
	log     *slog.Logger
	mcp     *server.MCPServer
	started time.Time

	// defaultClientID backs the "last" cursor for MCP clients that do not
	// name themselves; one id per process keeps the cursor stable across
	// tool calls within a debugging session.
	defaultClientID string
}

// New builds the MCP server and registers the diagnostic tools.
func New(bridge *lifecycle.Bridge, ring *logring.Buffer, log *slog.Logger) *Service {
	s := &Service{
		bridge:          bridge,
		ring:            ring,
		log:             log,
		started:         time.Now(),
		defaultClientID: "mcp-" + uuid.NewString(),
	}

	m := server.NewMCPServer("ble-bridge", "1.0.0", server.WithToolCapabilities(false))

	m.AddTool(mcp.NewTool("get_logs",
		mcp.WithDescription("Fetch diagnostic log entries from the bridge's ring buffer."),
		mcp.WithString("since", mcp.Description(`Cutoff: "last" to resume after this client's cursor, a duration like "30s", or an RFC 3339 timestamp.`)),
		mcp.WithNumber("limit", mcp.Description("Maximum entries to return (default 100).")),
		mcp.WithString("client_id", mcp.Description("Client identity for cursor tracking. Defaults to a per-process id.")),
	), s.handleGetLogs)

	m.AddTool(mcp.NewTool("search_packets",
		mcp.WithDescription("Search log payloads, newest first. Hex patterns match ignoring whitespace."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Substring or hex byte pattern.")),
		mcp.WithNumber("limit", mcp.Description("Maximum matches to return (default 100).")),
	), s.handleSearchPackets)

	m.AddTool(mcp.NewTool("get_connection_state",
		mcp.WithDescription("Report the bridge's connection state, device and cooldown."),
	), s.handleConnectionState)

	m.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Aggregate bridge metrics: connections, rejections, bytes, pressure counters."),
	), s.handleStatus)

	s.mcp = m
	return s
}

// HTTPHandler returns the streamable-HTTP binding for mounting on the
// bridge's mux.
func (s *Service) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

// ServeStdio runs the MCP server on stdin/stdout. Blocks until EOF.
func (s *Service) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Service) handleGetLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	since := req.GetString("since", "30s")
	limit := req.GetInt("limit", 100)
	clientID := req.GetString("client_id", s.defaultClientID)

	entries, err := s.ring.Query(since, limit, clientID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.log.Debug("mcp get_logs", "since", since, "count", len(entries), "client", clientID)
	return jsonResult(entries)
}

func (s *Service) handleSearchPackets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := req.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", 100)
	matches := s.ring.Search(pattern, limit)
	s.log.Debug("mcp search_packets", "pattern", pattern, "matches", len(matches))
	return jsonResult(matches)
}

func (s *Service) handleConnectionState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.bridge.Status())
}

func (s *Service) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := struct {
		Bridge        lifecycle.Status          `json:"bridge"`
		Counters      lifecycle.MetricsSnapshot `json:"counters"`
		LogEntries    int                       `json:"log_entries"`
		LogTotal      int64                     `json:"log_total"`
		LogCapacity   int                       `json:"log_capacity"`
		UptimeSeconds int64                     `json:"uptime_seconds"`
	}{
		Bridge:        s.bridge.Status(),
		Counters:      s.bridge.Metrics().Snapshot(),
		LogEntries:    s.ring.Len(),
		LogTotal:      s.ring.TotalAppended(),
		LogCapacity:   s.ring.Capacity(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	return jsonResult(out)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

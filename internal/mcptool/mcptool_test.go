package mcptool

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ble-mcp-test/ble-bridge/internal/config"
	"github.com/ble-mcp-test/ble-bridge/internal/lifecycle"
	"github.com/ble-mcp-test/ble-bridge/internal/logring"
	"github.com/ble-mcp-test/ble-bridge/internal/transport"
)

func newTestService(t *testing.T) (*Service, *logring.Buffer) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ring := logring.New(500)
	tr := transport.NewMock()
	cfg := config.Defaults().Lifecycle
	bridge := lifecycle.New(cfg, lifecycle.NewMutex(log, ring), lifecycle.NewMonitor(tr, cfg), ring, tr, log)
	return New(bridge, ring, log), ring
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

func TestGetLogsReturnsEntries(t *testing.T) {
	svc, ring := newTestService(t)
	ring.Infof("session opened for %s", "MockPeripheral")
	ring.Warnf("unexpected frame type %q", "ping")

	result, err := svc.handleGetLogs(context.Background(), callRequest("get_logs", map[string]interface{}{
		"since": "1h",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var entries []logring.Entry
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &entries))
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].Payload, "session opened")
	assert.Contains(t, entries[1].Payload, "unexpected frame")
}

func TestGetLogsCursorResumes(t *testing.T) {
	svc, ring := newTestService(t)
	ring.Infof("first")

	args := map[string]interface{}{"since": "last", "client_id": "harness-1"}

	result, err := svc.handleGetLogs(context.Background(), callRequest("get_logs", args))
	require.NoError(t, err)
	var entries []logring.Entry
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &entries))
	require.Len(t, entries, 1)

	// Nothing new since the cursor: empty result, not a replay.
	result, err = svc.handleGetLogs(context.Background(), callRequest("get_logs", args))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &entries))
	assert.Empty(t, entries)

	ring.Infof("second")
	result, err = svc.handleGetLogs(context.Background(), callRequest("get_logs", args))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &entries))
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Payload, "second")
}

func TestGetLogsRejectsBadSince(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.handleGetLogs(context.Background(), callRequest("get_logs", map[string]interface{}{
		"since": "yesterday",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSearchPackets(t *testing.T) {
	svc, ring := newTestService(t)
	ring.AppendData(logring.KindTX, []byte{0xa7, 0xb3, 0x01})
	ring.Infof("noise")

	result, err := svc.handleSearchPackets(context.Background(), callRequest("search_packets", map[string]interface{}{
		"pattern": "a7 b3",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var matches []logring.Entry
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, logring.KindTX, matches[0].Kind)
}

func TestSearchPacketsRequiresPattern(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.handleSearchPackets(context.Background(), callRequest("search_packets", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestConnectionState(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.handleConnectionState(context.Background(), callRequest("get_connection_state", nil))
	require.NoError(t, err)

	var status lifecycle.Status
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &status))
	assert.Equal(t, "idle", status.State)
	assert.True(t, status.Free)
}

func TestStatusAggregates(t *testing.T) {
	svc, ring := newTestService(t)
	ring.Infof("one entry")

	result, err := svc.handleStatus(context.Background(), callRequest("status", nil))
	require.NoError(t, err)

	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	for _, key := range []string{"bridge", "counters", "log_entries", "log_total", "log_capacity", "uptime_seconds"} {
		assert.Contains(t, out, key, "missing %s", key)
	}

	var count int
	require.NoError(t, json.Unmarshal(out["log_entries"], &count))
	assert.Equal(t, 1, count)
}

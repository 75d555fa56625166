package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ble-mcp-test/ble-bridge/internal/lifecycle"
	"github.com/ble-mcp-test/ble-bridge/internal/logring"
)

// HealthResponse is the JSON body returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	State     string `json:"state"`
	Free      bool   `json:"free"`
	Device    string `json:"device,omitempty"`
	Timestamp string `json:"timestamp"`
}

// MetricsResponse is the JSON body returned by GET /api/metrics.
type MetricsResponse struct {
	Bridge        lifecycle.Status          `json:"bridge"`
	Counters      lifecycle.MetricsSnapshot `json:"counters"`
	LogEntries    int                       `json:"log_entries"`
	LogTotal      int64                     `json:"log_total"`
	LogCapacity   int                       `json:"log_capacity"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := s.bridge.Status()
	resp := HealthResponse{
		Status:    "ok",
		State:     st.State,
		Free:      st.Free,
		Device:    st.Device,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	since := q.Get("since")
	if since == "" {
		since = "30s"
	}
	limit := parseIntParam(q.Get("limit"), 100)

	entries, err := s.ring.Query(since, limit, q.Get("client_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, entriesOrEmpty(entries))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	pattern := q.Get("pattern")
	if pattern == "" {
		http.Error(w, "pattern is required", http.StatusBadRequest)
		return
	}
	limit := parseIntParam(q.Get("limit"), 100)
	writeJSON(w, entriesOrEmpty(s.ring.Search(pattern, limit)))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := MetricsResponse{
		Bridge:        s.bridge.Status(),
		Counters:      s.bridge.Metrics().Snapshot(),
		LogEntries:    s.ring.Len(),
		LogTotal:      s.ring.TotalAppended(),
		LogCapacity:   s.ring.Capacity(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
	writeJSON(w, resp)
}

// handlePrometheus serves GET /metrics in Prometheus text format. The
// lightweight text format avoids pulling in the full prometheus client.
func (s *Server) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	st := s.bridge.Status()
	c := s.bridge.Metrics().Snapshot()

	counter := func(name, help string, v int64) {
		fmt.Fprintf(w, "# HELP blebridge_%s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE blebridge_%s counter\n", name)
		fmt.Fprintf(w, "blebridge_%s %d\n", name, v)
	}
	gauge := func(name, help string, v int64) {
		fmt.Fprintf(w, "# HELP blebridge_%s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE blebridge_%s gauge\n", name)
		fmt.Fprintf(w, "blebridge_%s %d\n", name, v)
	}

	counter("connections_total", "Total hardware connections established.", c.ConnectionsTotal)
	counter("disconnects_total", "Total session teardowns.", c.DisconnectsTotal)
	counter("rejected_busy_total", "Sessions rejected because the bridge was busy.", c.RejectedBusy)
	counter("rejected_cooldown_total", "Sessions rejected during cooldown.", c.RejectedCooldown)
	counter("rejected_invalid_total", "Sessions rejected for invalid parameters.", c.RejectedInvalid)
	counter("bytes_tx_total", "Bytes relayed to the device.", c.BytesTX)
	counter("bytes_rx_total", "Bytes relayed from the device.", c.BytesRX)
	counter("teardown_timeouts_total", "Teardowns that hit the hard timeout.", c.TeardownTimeouts)

	free := int64(0)
	if st.Free {
		free = 1
	}
	gauge("free", "Whether the bridge can accept a session.", free)
	gauge("pressure_listeners", "Host stack listener count.", int64(st.Pressure.Listeners))
	gauge("pressure_peripherals", "Host stack tracked peripheral count.", int64(st.Pressure.TrackedPeripherals))
	gauge("pressure_scans", "Host stack active scan count.", int64(st.Pressure.ActiveScans))
	gauge("log_entries", "Retained diagnostic log entries.", int64(s.ring.Len()))
	gauge("uptime_seconds", "Seconds since the server started.", int64(time.Since(s.startTime).Seconds()))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func parseIntParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func entriesOrEmpty(entries []logring.Entry) []logring.Entry {
	if entries == nil {
		return []logring.Entry{}
	}
	return entries
}

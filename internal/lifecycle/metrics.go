package lifecycle

import "sync/atomic"

// Metrics tracks counters for the status API, the metrics route and the
// MCP status tool.
type Metrics struct {
	ConnectionsTotal  atomic.Int64
	DisconnectsTotal  atomic.Int64
	RejectedBusy      atomic.Int64
	RejectedCooldown  atomic.Int64
	RejectedInvalid   atomic.Int64
	FramesTX          atomic.Int64
	FramesRX          atomic.Int64
	BytesTX           atomic.Int64
	BytesRX           atomic.Int64
	TeardownTimeouts  atomic.Int64
}

// MetricsSnapshot is the JSON-friendly view of Metrics.
type MetricsSnapshot struct {
	ConnectionsTotal int64 `json:"connections_total"`
	DisconnectsTotal int64 `json:"disconnects_total"`
	RejectedBusy     int64 `json:"rejected_busy"`
	RejectedCooldown int64 `json:"rejected_cooldown"`
	RejectedInvalid  int64 `json:"rejected_invalid"`
	FramesTX         int64 `json:"frames_tx"`
	FramesRX         int64 `json:"frames_rx"`
	BytesTX          int64 `json:"bytes_tx"`
	BytesRX          int64 `json:"bytes_rx"`
	TeardownTimeouts int64 `json:"teardown_timeouts"`
}

// Snapshot reads every counter once.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ConnectionsTotal: m.ConnectionsTotal.Load(),
		DisconnectsTotal: m.DisconnectsTotal.Load(),
		RejectedBusy:     m.RejectedBusy.Load(),
		RejectedCooldown: m.RejectedCooldown.Load(),
		RejectedInvalid:  m.RejectedInvalid.Load(),
		FramesTX:         m.FramesTX.Load(),
		FramesRX:         m.FramesRX.Load(),
		BytesTX:          m.BytesTX.Load(),
		BytesRX:          m.BytesRX.Load(),
		TeardownTimeouts: m.TeardownTimeouts.Load(),
	}
}

package lifecycle

import (
	"time"

	"github.com/ble-mcp-test/ble-bridge/internal/config"
	"github.com/ble-mcp-test/ble-bridge/internal/transport"
)

// Monitor turns the host stack's resource counters into a cooldown
// duration. A fixed cooldown is either too short under pressure (cascading
// hardware resets) or too long when the adapter is idle (slow test runs);
// sampling at disconnect time adapts the wait to observed load without a
// control loop.
type Monitor struct {
	tr  transport.Transport
	cfg config.LifecycleConfig
}

// NewMonitor creates a Monitor reading counters from tr.
func NewMonitor(tr transport.Transport, cfg config.LifecycleConfig) *Monitor {
	return &Monitor{tr: tr, cfg: cfg}
}

// Sample reads the counters fresh from the transport.
func (m *Monitor) Sample() transport.PressureSample {
	return m.tr.Counters()
}

// Penalty computes the pressure penalty for a sample: each counter over
// its threshold contributes penalty_per_unit per excess unit, and the
// result is the maximum of the per-signal penalties. Max, not sum: the
// three counters are correlated, and summing them makes the wait grow
// without bound when one underlying condition trips all three.
func (m *Monitor) Penalty(s transport.PressureSample) time.Duration {
	p := signalPenalty(s.Listeners, m.cfg.ListenerThreshold, m.cfg.PenaltyPerUnit)
	if q := signalPenalty(s.TrackedPeripherals, m.cfg.PeripheralThreshold, m.cfg.PenaltyPerUnit); q > p {
		p = q
	}
	if q := signalPenalty(s.ActiveScans, m.cfg.ScanThreshold, m.cfg.PenaltyPerUnit); q > p {
		p = q
	}
	if ceiling := m.cfg.CooldownMax - m.cfg.CooldownBase; p > ceiling {
		p = ceiling
	}
	return p
}

// Cooldown computes the full post-disconnect wait: the configured floor
// plus the pressure penalty, never exceeding the configured maximum.
func (m *Monitor) Cooldown(s transport.PressureSample) time.Duration {
	cd := m.cfg.CooldownBase + m.Penalty(s)
	if cd > m.cfg.CooldownMax {
		cd = m.cfg.CooldownMax
	}
	return cd
}

func signalPenalty(count, threshold int, perUnit time.Duration) time.Duration {
	if count <= threshold {
		return 0
	}
	return time.Duration(count-threshold) * perUnit
}

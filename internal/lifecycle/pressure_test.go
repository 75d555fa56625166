package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ble-mcp-test/ble-bridge/internal/config"
	"github.com/ble-mcp-test/ble-bridge/internal/transport"
)

func pressureConfig() config.LifecycleConfig {
	return config.LifecycleConfig{
		CooldownBase:        time.Second,
		CooldownMax:         10 * time.Second,
		ListenerThreshold:   10,
		PeripheralThreshold: 5,
		ScanThreshold:       1,
		PenaltyPerUnit:      time.Second,
	}
}

func TestCooldownIsBaseWhenIdle(t *testing.T) {
	m := NewMonitor(transport.NewMock(), pressureConfig())
	cd := m.Cooldown(transport.PressureSample{Listeners: 2, TrackedPeripherals: 1})
	assert.Equal(t, time.Second, cd)
}

func TestPenaltyMonotonicPerSignal(t *testing.T) {
	m := NewMonitor(transport.NewMock(), pressureConfig())

	grow := func(name string, sample func(int) transport.PressureSample) {
		prev := time.Duration(-1)
		for v := 0; v < 30; v++ {
			p := m.Penalty(sample(v))
			assert.GreaterOrEqual(t, p, prev, "%s penalty decreased at %d", name, v)
			prev = p
		}
	}
	grow("listeners", func(v int) transport.PressureSample { return transport.PressureSample{Listeners: v} })
	grow("peripherals", func(v int) transport.PressureSample { return transport.PressureSample{TrackedPeripherals: v} })
	grow("scans", func(v int) transport.PressureSample { return transport.PressureSample{ActiveScans: v} })
}

func TestPenaltyIsMaxNotSum(t *testing.T) {
	m := NewMonitor(transport.NewMock(), pressureConfig())
	// Each signal alone: listeners 12 -> 2s, peripherals 8 -> 3s,
	// scans 3 -> 2s. Together the penalty is the max, 3s, not 7s.
	p := m.Penalty(transport.PressureSample{Listeners: 12, TrackedPeripherals: 8, ActiveScans: 3})
	assert.Equal(t, 3*time.Second, p)
}

func TestCooldownClampedToMax(t *testing.T) {
	m := NewMonitor(transport.NewMock(), pressureConfig())
	cd := m.Cooldown(transport.PressureSample{Listeners: 1000})
	assert.Equal(t, 10*time.Second, cd)
}

func TestSampleReadsTransportCounters(t *testing.T) {
	mock := transport.NewMock()
	mock.SetCounters(transport.PressureSample{Listeners: 7, TrackedPeripherals: 3, ActiveScans: 1})
	m := NewMonitor(mock, pressureConfig())
	assert.Equal(t, transport.PressureSample{Listeners: 7, TrackedPeripherals: 3, ActiveScans: 1}, m.Sample())
}

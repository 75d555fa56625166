package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Mock is an in-memory Transport used by tests and by the bridge when no
// real hardware stack is wired in. Devices, failures, latencies and
// pressure counters are all scriptable.
type Mock struct {
	mu           sync.Mutex
	devices      []DeviceInfo
	connected    bool
	connectErr   error
	connectDelay time.Duration
	sendErr      error
	disconnectDelay time.Duration
	echo         bool
	sent         [][]byte
	onReceive    func([]byte)
	onDisconnect func(error)
	counters     PressureSample
}

// NewMock creates a mock transport with a single default device that
// matches any selector.
func NewMock() *Mock {
	return &Mock{
		devices: []DeviceInfo{{Name: "MockPeripheral", Address: "AA:BB:CC:DD:EE:FF"}},
	}
}

// AddDevice replaces the default device set with scripted ones. Connect
// matches the selector's device string as a name prefix.
func (m *Mock) AddDevice(name, address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.devices) == 1 && m.devices[0].Name == "MockPeripheral" {
		m.devices = nil
	}
	m.devices = append(m.devices, DeviceInfo{Name: name, Address: address})
}

// SetConnectError makes the next Connect calls fail with err.
func (m *Mock) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// SetConnectDelay makes Connect block for d before completing, to
// exercise the connect timeout path.
func (m *Mock) SetConnectDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectDelay = d
}

// SetDisconnectDelay makes Disconnect block for d, to exercise the
// teardown timeout path.
func (m *Mock) SetDisconnectDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectDelay = d
}

// SetSendError makes Send fail with err.
func (m *Mock) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetEcho makes the device echo every sent payload back on the notify
// path, which is what most loopback test firmware does.
func (m *Mock) SetEcho(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.echo = on
}

// SetCounters injects the pressure sample returned by Counters.
func (m *Mock) SetCounters(s PressureSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = s
}

// Sent returns a copy of every payload written so far.
func (m *Mock) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// Receive delivers inbound bytes as if the peripheral notified them.
func (m *Mock) Receive(data []byte) {
	m.mu.Lock()
	fn := m.onReceive
	m.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// DropConnection simulates the peripheral side going away.
func (m *Mock) DropConnection(err error) {
	m.mu.Lock()
	m.connected = false
	fn := m.onDisconnect
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (m *Mock) Connect(ctx context.Context, sel Selector) (DeviceInfo, error) {
	m.mu.Lock()
	delay := m.connectDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return DeviceInfo{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return DeviceInfo{}, m.connectErr
	}
	if m.connected {
		return DeviceInfo{}, fmt.Errorf("already connected")
	}
	for _, d := range m.devices {
		if strings.HasPrefix(d.Name, sel.Device) || d.Address == sel.Device {
			m.connected = true
			return d, nil
		}
	}
	return DeviceInfo{}, fmt.Errorf("no device matching %q found", sel.Device)
}

func (m *Mock) Send(data []byte) error {
	m.mu.Lock()
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return err
	}
	if !m.connected {
		m.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	cp := append([]byte(nil), data...)
	m.sent = append(m.sent, cp)
	echo := m.echo
	fn := m.onReceive
	m.mu.Unlock()

	if echo && fn != nil {
		go fn(cp)
	}
	return nil
}

func (m *Mock) OnReceive(fn func([]byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReceive = fn
}

func (m *Mock) OnDisconnect(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = fn
}

func (m *Mock) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	delay := m.disconnectDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *Mock) Counters() PressureSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

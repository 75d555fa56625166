// Package transport defines the contract between the bridge and the host
// Bluetooth stack. The bridge drives a peripheral purely through this
// interface; the only in-tree implementation is the mock used by tests and
// local development.
package transport

import "context"

// Selector identifies the peripheral and the GATT endpoints a session
// wants to talk to.
type Selector struct {
	Device  string // device name prefix or address
	Service string // GATT service UUID
	Write   string // write characteristic UUID
	Notify  string // notify characteristic UUID
}

// DeviceInfo describes the peripheral a Connect call landed on.
type DeviceInfo struct {
	Name    string
	Address string
}

// PressureSample holds the host-stack resource counters read when a
// cooldown is computed. Not persisted.
type PressureSample struct {
	Listeners          int `json:"listeners"`
	TrackedPeripherals int `json:"tracked_peripherals"`
	ActiveScans        int `json:"active_scans"`
}

// Transport is the capability the lifecycle manager drives. Receive and
// disconnect notifications are delivered on transport-owned goroutines;
// callbacks must be registered before Connect.
type Transport interface {
	Connect(ctx context.Context, sel Selector) (DeviceInfo, error)
	Send(data []byte) error
	OnReceive(fn func(data []byte))
	OnDisconnect(fn func(err error))
	Disconnect(ctx context.Context) error
	Counters() PressureSample
}

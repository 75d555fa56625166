// Package lifecycle implements the connection lifecycle manager: the
// single-slot claim on the BLE hardware, the state machine that drives a
// session from connect through teardown, and the pressure-scaled cooldown
// that protects the adapter between sessions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ble-mcp-test/ble-bridge/internal/config"
	"github.com/ble-mcp-test/ble-bridge/internal/logring"
	"github.com/ble-mcp-test/ble-bridge/internal/transport"
)

// SessionEvents delivers device-side events to the inbound session. Both
// callbacks run on bridge-owned goroutines and must not block.
type SessionEvents struct {
	OnData         func(data []byte) // bytes notified by the peripheral
	OnDisconnected func()            // the hardware side dropped
}

// Session is one client's live claim on the bridge, returned by Open.
type Session struct {
	b         *Bridge
	token     string
	events    SessionEvents
	closeOnce sync.Once
}

// Bridge is the connection lifecycle manager. One instance exists per
// process; the hardware cannot multiplex sessions, so everything funnels
// through its state machine. Dependencies are injected, never global.
type Bridge struct {
	cfg     config.LifecycleConfig
	mutex   *Mutex
	monitor *Monitor
	ring    *logring.Buffer
	tr      transport.Transport
	log     *slog.Logger
	metrics Metrics

	mu            sync.Mutex
	state         State
	deviceName    string
	cooldownUntil time.Time
	recovering    bool
	sess          *Session
	cooldownTimer *time.Timer
}

// New creates a Bridge in the Idle state.
func New(cfg config.LifecycleConfig, mutex *Mutex, monitor *Monitor, ring *logring.Buffer, tr transport.Transport, log *slog.Logger) *Bridge {
	return &Bridge{
		cfg:     cfg,
		mutex:   mutex,
		monitor: monitor,
		ring:    ring,
		tr:      tr,
		log:     log,
	}
}

// Metrics exposes the bridge's counters.
func (b *Bridge) Metrics() *Metrics { return &b.metrics }

// Status is the point-in-time view served to health probes, the metrics
// route and the MCP tools.
type Status struct {
	State              string                   `json:"state"`
	Device             string                   `json:"device,omitempty"`
	Free               bool                     `json:"free"`
	Recovering         bool                     `json:"recovering"`
	CooldownRemainingMS int64                   `json:"cooldown_remaining_ms"`
	Pressure           transport.PressureSample `json:"pressure"`
}

// Status reports the current lifecycle state.
func (b *Bridge) Status() Status {
	sample := b.monitor.Sample()
	b.mu.Lock()
	defer b.mu.Unlock()
	var remaining time.Duration
	if b.state == StateCoolingDown {
		if r := time.Until(b.cooldownUntil); r > 0 {
			remaining = r
		}
	}
	return Status{
		State:              b.state.String(),
		Device:             b.deviceName,
		Free:               b.state == StateIdle && b.mutex.IsFree(),
		Recovering:         b.recovering,
		CooldownRemainingMS: remaining.Milliseconds(),
		Pressure:           sample,
	}
}

// Open validates the selector, claims the hardware and connects. On
// success the returned Session relays bytes until either side closes.
// Rejections classify with errors.Is against ErrValidation, ErrBusy,
// ErrCoolingDown and ErrHardware.
func (b *Bridge) Open(ctx context.Context, sel transport.Selector, events SessionEvents) (*Session, error) {
	if err := validateSelector(sel); err != nil {
		b.metrics.RejectedInvalid.Add(1)
		b.ring.Warnf("session rejected: %v", err)
		return nil, err
	}

	token := uuid.NewString()

	b.mu.Lock()
	switch b.state {
	case StateIdle:
	case StateCoolingDown:
		remaining := time.Until(b.cooldownUntil).Round(time.Millisecond)
		b.mu.Unlock()
		b.metrics.RejectedCooldown.Add(1)
		b.ring.Warnf("session rejected: cooling down, %s remaining", remaining)
		return nil, fmt.Errorf("%w; retry in %s", ErrCoolingDown, remaining)
	default:
		st := b.state
		b.mu.Unlock()
		b.metrics.RejectedBusy.Add(1)
		b.ring.Warnf("session rejected: bridge %s", st)
		return nil, ErrBusy
	}
	if !b.mutex.TryClaim(token) {
		b.mu.Unlock()
		b.metrics.RejectedBusy.Add(1)
		return nil, ErrBusy
	}
	sess := &Session{b: b, token: token, events: events}
	b.sess = sess
	b.state = StateConnecting
	b.mu.Unlock()

	// Callbacks are registered before Connect so nothing notified during
	// setup is lost. They capture the session and are ignored once a newer
	// session owns the bridge.
	b.tr.OnReceive(func(data []byte) { b.handleReceive(sess, data) })
	b.tr.OnDisconnect(func(err error) { b.handleDeviceDisconnect(sess, err) })

	cctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()
	info, err := b.tr.Connect(cctx, sel)
	if err != nil {
		cause := transport.DescribeError(err)
		b.mu.Lock()
		b.state = StateIdle
		b.sess = nil
		b.mu.Unlock()
		if errors.Is(err, context.DeadlineExceeded) {
			// A hung connect may still hold hardware resources; the claim
			// must not survive it.
			b.mutex.ForceRelease()
		} else {
			b.mutex.Release(token)
		}
		b.ring.Errorf("connect failed: %s", cause)
		b.log.Error("connect failed", "device", sel.Device, "error", err)
		return nil, fmt.Errorf("%w: %s", ErrHardware, cause)
	}

	b.mu.Lock()
	if b.state != StateConnecting || b.sess != sess {
		// The session went away while the radio was connecting.
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: session closed during connect", ErrHardware)
	}
	b.state = StateConnected
	b.deviceName = info.Name
	b.mu.Unlock()

	b.metrics.ConnectionsTotal.Add(1)
	b.ring.Infof("connected to %s (%s)", info.Name, info.Address)
	b.log.Info("device connected", "device", info.Name, "address", info.Address, "token", token)
	return sess, nil
}

func validateSelector(sel transport.Selector) error {
	switch {
	case sel.Device == "":
		return fmt.Errorf("%w: missing device", ErrValidation)
	case sel.Service == "":
		return fmt.Errorf("%w: missing service", ErrValidation)
	case sel.Write == "":
		return fmt.Errorf("%w: missing write characteristic", ErrValidation)
	case sel.Notify == "":
		return fmt.Errorf("%w: missing notify characteristic", ErrValidation)
	}
	return nil
}

// Send relays session bytes to the device and records a TX entry.
func (s *Session) Send(data []byte) error {
	b := s.b
	b.mu.Lock()
	ok := b.sess == s && b.state == StateConnected
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: not connected", ErrHardware)
	}
	if err := b.tr.Send(data); err != nil {
		cause := transport.DescribeError(err)
		b.ring.Errorf("send failed: %s", cause)
		return fmt.Errorf("%w: %s", ErrHardware, cause)
	}
	b.ring.AppendData(logring.KindTX, data)
	b.metrics.FramesTX.Add(1)
	b.metrics.BytesTX.Add(int64(len(data)))
	return nil
}

// Device returns the connected device's display name, or "" after
// disconnect.
func (s *Session) Device() string {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.b.deviceName
}

// Close ends the session from the client side. Safe to call more than
// once and from any state; teardown proceeds in the background.
func (s *Session) Close() {
	s.closeOnce.Do(func() { s.b.closeSession(s, "session closed") })
}

func (b *Bridge) handleReceive(sess *Session, data []byte) {
	b.mu.Lock()
	ok := b.sess == sess && b.state == StateConnected
	b.mu.Unlock()
	if !ok {
		return
	}
	b.ring.AppendData(logring.KindRX, data)
	b.metrics.FramesRX.Add(1)
	b.metrics.BytesRX.Add(int64(len(data)))
	if sess.events.OnData != nil {
		sess.events.OnData(data)
	}
}

func (b *Bridge) handleDeviceDisconnect(sess *Session, err error) {
	b.mu.Lock()
	if b.sess != sess || (b.state != StateConnected && b.state != StateConnecting) {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if err != nil {
		b.ring.Warnf("device disconnected: %s", transport.DescribeError(err))
	} else {
		b.ring.Warnf("device disconnected")
	}
	if sess.events.OnDisconnected != nil {
		sess.events.OnDisconnected()
	}
	b.closeSession(sess, "device disconnected")
}

// closeSession moves the state machine to Disconnecting exactly once per
// session and runs teardown in the background. "Session closed" is a
// first-class event from every non-terminal state, so there is no
// separate cancellation token.
func (b *Bridge) closeSession(sess *Session, reason string) {
	b.mu.Lock()
	if b.sess != sess || b.state == StateDisconnecting || b.state == StateCoolingDown || b.state == StateIdle {
		b.mu.Unlock()
		return
	}
	b.state = StateDisconnecting
	b.deviceName = ""
	b.mu.Unlock()

	b.ring.Infof("disconnecting: %s", reason)
	b.log.Info("session teardown", "reason", reason, "token", sess.token)
	go b.teardown(sess)
}

// teardown closes the transport and always reaches CoolingDown, even when
// the hardware call errors or hangs. Teardown errors are logged and
// swallowed; the state machine must keep moving forward or the mutex
// wedges permanently.
func (b *Bridge) teardown(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.TeardownTimeout)
	defer cancel()

	if err := b.tr.Disconnect(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			b.metrics.TeardownTimeouts.Add(1)
			b.ring.Errorf("teardown timed out after %s, forcing release", b.cfg.TeardownTimeout)
			b.log.Error("teardown timed out", "timeout", b.cfg.TeardownTimeout)
			b.mutex.ForceRelease()
			b.mu.Lock()
			b.recovering = true
			b.mu.Unlock()
		} else {
			b.ring.Errorf("teardown error (continuing): %s", transport.DescribeError(err))
			b.log.Warn("teardown error", "error", err)
		}
	}

	b.metrics.DisconnectsTotal.Add(1)
	b.enterCooldown(sess.token)
}

func (b *Bridge) enterCooldown(token string) {
	sample := b.monitor.Sample()
	cd := b.monitor.Cooldown(sample)

	b.mu.Lock()
	b.state = StateCoolingDown
	b.cooldownUntil = time.Now().Add(cd)
	b.cooldownTimer = time.AfterFunc(cd, func() { b.finishCooldown(token) })
	b.mu.Unlock()

	b.ring.Infof("cooling down for %s (listeners=%d peripherals=%d scans=%d)",
		cd, sample.Listeners, sample.TrackedPeripherals, sample.ActiveScans)
	b.log.Info("cooldown started", "duration", cd,
		"listeners", sample.Listeners, "peripherals", sample.TrackedPeripherals, "scans", sample.ActiveScans)
}

func (b *Bridge) finishCooldown(token string) {
	b.mu.Lock()
	if b.state != StateCoolingDown {
		b.mu.Unlock()
		return
	}
	b.state = StateIdle
	b.recovering = false
	b.sess = nil
	b.cooldownUntil = time.Time{}
	b.mu.Unlock()

	// The teardown-timeout path already force-released the claim.
	if !b.mutex.IsFree() {
		b.mutex.Release(token)
	}
	b.ring.Infof("cooldown complete, bridge idle")
	b.log.Info("cooldown complete")
}

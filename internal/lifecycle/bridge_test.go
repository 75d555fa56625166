package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ble-mcp-test/ble-bridge/internal/config"
	"github.com/ble-mcp-test/ble-bridge/internal/logring"
	"github.com/ble-mcp-test/ble-bridge/internal/transport"
)

func bridgeConfig() config.LifecycleConfig {
	return config.LifecycleConfig{
		ConnectTimeout:      500 * time.Millisecond,
		TeardownTimeout:     200 * time.Millisecond,
		CooldownBase:        100 * time.Millisecond,
		CooldownMax:         400 * time.Millisecond,
		ListenerThreshold:   10,
		PeripheralThreshold: 5,
		ScanThreshold:       1,
		PenaltyPerUnit:      100 * time.Millisecond,
	}
}

func newTestBridge(t *testing.T, cfg config.LifecycleConfig) (*Bridge, *transport.Mock, *logring.Buffer) {
	t.Helper()
	ring := logring.New(1000)
	mock := transport.NewMock()
	log := testLogger()
	b := New(cfg, NewMutex(log, ring), NewMonitor(mock, cfg), ring, mock, log)
	return b, mock, ring
}

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func validSelector() transport.Selector {
	return transport.Selector{
		Device:  "MockPeripheral",
		Service: "9800",
		Write:   "9900",
		Notify:  "9901",
	}
}

func TestOpenRejectsMissingParams(t *testing.T) {
	b, _, _ := newTestBridge(t, bridgeConfig())

	for _, tc := range []struct {
		name string
		sel  transport.Selector
	}{
		{"device", transport.Selector{Service: "s", Write: "w", Notify: "n"}},
		{"service", transport.Selector{Device: "d", Write: "w", Notify: "n"}},
		{"write", transport.Selector{Device: "d", Service: "s", Notify: "n"}},
		{"notify", transport.Selector{Device: "d", Service: "s", Write: "w"}},
	} {
		_, err := b.Open(context.Background(), tc.sel, SessionEvents{})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("missing %s: err = %v, want ErrValidation", tc.name, err)
		}
	}

	// Validation happens before the claim; the mutex never saw a token.
	if !b.mutex.IsFree() {
		t.Error("mutex held after validation rejections")
	}
	if got := b.Metrics().RejectedInvalid.Load(); got != 4 {
		t.Errorf("RejectedInvalid = %d, want 4", got)
	}
}

func TestOpenConnectsAndRelaysBytes(t *testing.T) {
	b, mock, ring := newTestBridge(t, bridgeConfig())
	mock.SetEcho(true)

	received := make(chan []byte, 8)
	sess, err := b.Open(context.Background(), validSelector(), SessionEvents{
		OnData: func(data []byte) { received <- data },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	if got := sess.Device(); got != "MockPeripheral" {
		t.Errorf("Device = %q, want MockPeripheral", got)
	}
	if st := b.Status(); st.State != "connected" {
		t.Errorf("state = %q, want connected", st.State)
	}

	payload := []byte{0xa7, 0xb3, 0x01}
	if err := sess.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case echo := <-received:
		if string(echo) != string(payload) {
			t.Errorf("echo = %x, want %x", echo, payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no echo received")
	}

	if matches := ring.Search("a7b301", 10); len(matches) != 2 {
		t.Errorf("TX+RX ring entries = %d, want 2", len(matches))
	}
	m := b.Metrics().Snapshot()
	if m.BytesTX != 3 || m.BytesRX != 3 {
		t.Errorf("bytes tx/rx = %d/%d, want 3/3", m.BytesTX, m.BytesRX)
	}
	if m.ConnectionsTotal != 1 {
		t.Errorf("ConnectionsTotal = %d, want 1", m.ConnectionsTotal)
	}
}

func TestSecondSessionRejectedBusy(t *testing.T) {
	b, _, _ := newTestBridge(t, bridgeConfig())

	sess, err := b.Open(context.Background(), validSelector(), SessionEvents{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	_, err = b.Open(context.Background(), validSelector(), SessionEvents{})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("second open err = %v, want ErrBusy", err)
	}
	if got := b.Metrics().RejectedBusy.Load(); got != 1 {
		t.Errorf("RejectedBusy = %d, want 1", got)
	}
}

func TestCooldownRejectsThenRecovers(t *testing.T) {
	b, _, _ := newTestBridge(t, bridgeConfig())

	sess, err := b.Open(context.Background(), validSelector(), SessionEvents{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sess.Close()

	waitFor(t, time.Second, "cooling down", func() bool {
		return b.Status().State == "cooling_down"
	})

	_, err = b.Open(context.Background(), validSelector(), SessionEvents{})
	if !errors.Is(err, ErrCoolingDown) {
		t.Fatalf("open during cooldown err = %v, want ErrCoolingDown", err)
	}
	if got := b.Metrics().RejectedCooldown.Load(); got != 1 {
		t.Errorf("RejectedCooldown = %d, want 1", got)
	}

	waitFor(t, time.Second, "idle after cooldown", func() bool {
		st := b.Status()
		return st.State == "idle" && st.Free
	})

	sess2, err := b.Open(context.Background(), validSelector(), SessionEvents{})
	if err != nil {
		t.Fatalf("open after cooldown: %v", err)
	}
	sess2.Close()
}

func TestConnectFailureReleasesEverything(t *testing.T) {
	b, mock, _ := newTestBridge(t, bridgeConfig())
	mock.SetConnectError(fmt.Errorf("radio reports status 0x3e"))

	_, err := b.Open(context.Background(), validSelector(), SessionEvents{})
	if !errors.Is(err, ErrHardware) {
		t.Fatalf("err = %v, want ErrHardware", err)
	}
	// The known radio code is translated for the client.
	if want := "connection failed to be established"; !strings.Contains(err.Error(), want) {
		t.Errorf("err %q does not describe code 0x3e", err)
	}

	if st := b.Status(); st.State != "idle" || !st.Free {
		t.Errorf("status = %+v, want idle and free", st)
	}

	// No server-side retry; the next attempt is a fresh claim.
	mock.SetConnectError(nil)
	sess, err := b.Open(context.Background(), validSelector(), SessionEvents{})
	if err != nil {
		t.Fatalf("open after failure: %v", err)
	}
	sess.Close()
}

func TestConnectTimeoutForceReleases(t *testing.T) {
	b, mock, _ := newTestBridge(t, bridgeConfig())
	mock.SetConnectDelay(2 * time.Second)

	start := time.Now()
	_, err := b.Open(context.Background(), validSelector(), SessionEvents{})
	if !errors.Is(err, ErrHardware) {
		t.Fatalf("err = %v, want ErrHardware", err)
	}
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("connect not bounded by timeout, took %s", elapsed)
	}
	if !b.mutex.IsFree() {
		t.Error("mutex held after connect timeout")
	}
	if st := b.Status(); st.State != "idle" {
		t.Errorf("state = %q, want idle", st.State)
	}
}

func TestRemoteDisconnectDrivesTeardown(t *testing.T) {
	b, mock, ring := newTestBridge(t, bridgeConfig())

	dropped := make(chan struct{})
	_, err := b.Open(context.Background(), validSelector(), SessionEvents{
		OnDisconnected: func() { close(dropped) },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	mock.DropConnection(fmt.Errorf("link lost, status 0x08"))

	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("OnDisconnected not delivered")
	}

	waitFor(t, time.Second, "idle after remote disconnect", func() bool {
		return b.Status().State == "idle"
	})
	if matches := ring.Search("supervision timeout", 10); len(matches) == 0 {
		t.Error("ring has no translated disconnect reason")
	}
}

func TestTeardownTimeoutStillReachesCooldown(t *testing.T) {
	b, mock, _ := newTestBridge(t, bridgeConfig())
	mock.SetDisconnectDelay(time.Second) // well past the 200ms teardown timeout

	sess, err := b.Open(context.Background(), validSelector(), SessionEvents{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sess.Close()

	waitFor(t, 2*time.Second, "cooldown despite hung teardown", func() bool {
		return b.Status().State == "cooling_down"
	})
	if !b.mutex.IsFree() {
		t.Error("mutex not force-released after teardown timeout")
	}
	if got := b.Metrics().TeardownTimeouts.Load(); got != 1 {
		t.Errorf("TeardownTimeouts = %d, want 1", got)
	}
	if !b.Status().Recovering {
		t.Error("recovery flag not set during forced teardown cooldown")
	}

	waitFor(t, 2*time.Second, "idle after forced teardown", func() bool {
		st := b.Status()
		return st.State == "idle" && !st.Recovering
	})
}

func TestSendAfterCloseFails(t *testing.T) {
	b, _, _ := newTestBridge(t, bridgeConfig())
	sess, err := b.Open(context.Background(), validSelector(), SessionEvents{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sess.Close()
	if err := sess.Send([]byte{1}); err == nil {
		t.Error("Send after Close should fail")
	}
}

func TestCooldownReflectsPressureSample(t *testing.T) {
	b, mock, ring := newTestBridge(t, bridgeConfig())
	mock.SetCounters(transport.PressureSample{Listeners: 13})

	sess, err := b.Open(context.Background(), validSelector(), SessionEvents{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sess.Close()

	waitFor(t, time.Second, "cooldown entry", func() bool {
		return len(ring.Search("cooling down for", 10)) > 0
	})
	// 13 listeners over a threshold of 10 at 100ms per unit on a 100ms
	// base: the recorded wait is 400ms, and the sample is in the entry.
	matches := ring.Search("listeners=13", 10)
	if len(matches) != 1 {
		t.Fatalf("cooldown entry with sample = %d, want 1", len(matches))
	}
	if !strings.Contains(matches[0].Payload, "400ms") {
		t.Errorf("cooldown entry %q does not record 400ms", matches[0].Payload)
	}
}


// Package bridgeclient implements the harness side of the bridge wire
// protocol: dialing a session, and cooperative backoff when the bridge
// answers busy or cooling-down. The client has no visibility into the
// server's cooldown expiry, so it converges by retrying, not by waiting a
// server-told duration.
package bridgeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Frame is the wire envelope. It mirrors the bridge's frames; the client
// depends only on the wire protocol, not on the server's packages.
type Frame struct {
	Type      string          `json:"type"`
	Device    string          `json:"device,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Status    string          `json:"status,omitempty"`
	Free      *bool           `json:"free,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// DataBytes decodes a data frame's payload (a JSON array of numbers).
func (f Frame) DataBytes() ([]byte, error) {
	var nums []int
	if err := json.Unmarshal(f.Data, &nums); err != nil {
		return nil, fmt.Errorf("decode data frame: %w", err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return nil, fmt.Errorf("byte value %d out of range", n)
		}
		out[i] = byte(n)
	}
	return out, nil
}

// Config parameterizes ConnectWithRetry.
type Config struct {
	URL     string // bridge base URL, e.g. "ws://127.0.0.1:8080"
	Device  string
	Service string
	Write   string
	Notify  string

	InitialDelay  time.Duration // first backoff wait (default 1s)
	BackoffFactor float64       // delay multiplier per attempt (default 1.5)
	MaxAttempts   int           // total connection attempts (default 5)

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1.5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RetriesExhaustedError is the terminal failure after every attempt was
// rejected. Reason carries the last rejection text so callers can tell
// hardware unavailability from a genuine bridge failure.
type RetriesExhaustedError struct {
	Attempts int
	Reason   string
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("bridge connect failed after %d attempts: %s", e.Attempts, e.Reason)
}

// Session is an established bridge session.
type Session struct {
	ws     *websocket.Conn
	device string
	frames chan Frame
}

// ConnectWithRetry dials the bridge and waits for the connected frame.
// Busy and cooling-down rejections are retried with exponential backoff;
// any other rejection is terminal immediately.
func ConnectWithRetry(ctx context.Context, cfg Config) (*Session, error) {
	cfg.applyDefaults()

	sessionURL, err := buildSessionURL(cfg)
	if err != nil {
		return nil, err
	}

	delay := cfg.InitialDelay
	lastReason := "no attempts made"
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		sess, reason, err := dialOnce(ctx, sessionURL)
		if err != nil {
			return nil, fmt.Errorf("dial bridge: %w", err)
		}
		if sess != nil {
			cfg.Logger.Info("bridge connected", "device", sess.device, "attempt", attempt)
			return sess, nil
		}

		lastReason = reason
		if !isRetryableReason(reason) {
			cfg.Logger.Error("bridge rejected session", "reason", reason)
			return nil, fmt.Errorf("bridge rejected session: %s", reason)
		}

		cfg.Logger.Warn("bridge not ready, backing off",
			"reason", reason, "attempt", attempt, "max_attempts", cfg.MaxAttempts, "delay", delay)
		if attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
	}

	cfg.Logger.Error("bridge connect retries exhausted",
		"attempts", cfg.MaxAttempts, "reason", lastReason)
	return nil, &RetriesExhaustedError{Attempts: cfg.MaxAttempts, Reason: lastReason}
}

// dialOnce makes a single attempt. It returns a session on success, a
// rejection reason when the bridge answered with an error frame, or an
// error for network-level failures.
func dialOnce(ctx context.Context, sessionURL string) (*Session, string, error) {
	ws, _, err := websocket.Dial(ctx, sessionURL, nil)
	if err != nil {
		return nil, "", err
	}

	var first Frame
	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = wsjson.Read(rctx, ws, &first)
	cancel()
	if err != nil {
		ws.Close(websocket.StatusNormalClosure, "")
		return nil, "", fmt.Errorf("read first frame: %w", err)
	}

	switch first.Type {
	case "connected":
		sess := &Session{ws: ws, device: first.Device, frames: make(chan Frame, 64)}
		go sess.readLoop()
		return sess, "", nil
	case "error":
		ws.Close(websocket.StatusNormalClosure, "")
		return nil, first.Error, nil
	default:
		ws.Close(websocket.StatusProtocolError, "unexpected first frame")
		return nil, "", fmt.Errorf("unexpected first frame %q", first.Type)
	}
}

func buildSessionURL(cfg Config) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse bridge url: %w", err)
	}
	q := u.Query()
	q.Set("device", cfg.Device)
	q.Set("service", cfg.Service)
	q.Set("write", cfg.Write)
	q.Set("notify", cfg.Notify)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// isRetryableReason classifies a rejection by its wire text. The bridge
// keeps "busy" and "cooling down" wording stable for exactly this reason.
func isRetryableReason(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "busy") ||
		strings.Contains(r, "cooling down") ||
		strings.Contains(r, "disconnecting")
}

// Device returns the connected device's display name.
func (s *Session) Device() string { return s.device }

// Frames returns the inbound frame stream. The channel closes when the
// connection drops.
func (s *Session) Frames() <-chan Frame { return s.frames }

// Send relays payload bytes to the device.
func (s *Session) Send(ctx context.Context, data []byte) error {
	nums := make([]int, len(data))
	for i, b := range data {
		nums[i] = int(b)
	}
	raw, err := json.Marshal(nums)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, s.ws, Frame{Type: "data", Data: raw})
}

// Close ends the session.
func (s *Session) Close() error {
	return s.ws.Close(websocket.StatusNormalClosure, "")
}

func (s *Session) readLoop() {
	defer close(s.frames)
	for {
		var frame Frame
		if err := wsjson.Read(context.Background(), s.ws, &frame); err != nil {
			return
		}
		select {
		case s.frames <- frame:
		default:
			// Slow consumer; drop rather than stall the socket.
		}
	}
}

// Probe opens a health-probe session and returns the health frame. It
// never consumes the connection mutex.
func Probe(ctx context.Context, bridgeURL string) (Frame, error) {
	u, err := url.Parse(bridgeURL)
	if err != nil {
		return Frame{}, fmt.Errorf("parse bridge url: %w", err)
	}
	q := u.Query()
	q.Set("probe", "1")
	u.RawQuery = q.Encode()

	ws, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return Frame{}, fmt.Errorf("dial bridge: %w", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	var frame Frame
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := wsjson.Read(rctx, ws, &frame); err != nil {
		return Frame{}, fmt.Errorf("read health frame: %w", err)
	}
	if frame.Type != "health" {
		return Frame{}, fmt.Errorf("unexpected frame %q", frame.Type)
	}
	return frame, nil
}

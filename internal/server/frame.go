package server

import (
	"encoding/json"
	"fmt"
)

// FrameType identifies the kind of frame exchanged over a session.
type FrameType string

const (
	FrameConnected    FrameType = "connected"
	FrameData         FrameType = "data"
	FrameDisconnected FrameType = "disconnected"
	FrameError        FrameType = "error"
	FrameHealth       FrameType = "health"
)

// ByteArray marshals as a JSON array of numbers rather than base64, which
// is what a browser-side Uint8Array round-trips to naturally.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return json.Marshal(out)
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("byte value %d out of range", n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

// Frame is the envelope exchanged between the test harness and the
// bridge over a WebSocket session.
type Frame struct {
	Type      FrameType `json:"type"`
	Device    string    `json:"device,omitempty"`    // connected
	Data      ByteArray `json:"data,omitempty"`      // data, both directions
	Error     string    `json:"error,omitempty"`     // error
	Status    string    `json:"status,omitempty"`    // health
	Free      *bool     `json:"free,omitempty"`      // health
	Timestamp string    `json:"timestamp,omitempty"` // health
}

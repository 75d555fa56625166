// Package logring implements the bridge's diagnostic log: a fixed-capacity
// ring of entries with monotonic ids and per-client read cursors, so an
// external debugging client can reconstruct what happened across a session
// boundary even after older entries have been evicted.
package logring

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Kind classifies a log entry.
type Kind string

const (
	KindTX    Kind = "TX"
	KindRX    Kind = "RX"
	KindInfo  Kind = "INFO"
	KindWarn  Kind = "WARN"
	KindError Kind = "ERROR"
)

// Entry is one diagnostic record. IDs are strictly increasing and are never
// reused, regardless of eviction.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Payload   string    `json:"payload"` // hex for TX/RX, free text otherwise
	Size      int       `json:"size"`    // byte size for TX/RX, payload length otherwise
}

// Buffer is a fixed-capacity ring of entries. Append evicts oldest-first
// once the ring is full. All methods are safe for concurrent use; the
// session writer and the diagnostic readers run on different goroutines.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry // ring storage
	head     int     // index of oldest entry
	count    int
	nextID   int64
	cursors  map[string]int64 // client id -> last consumed entry id

	now func() time.Time // injectable clock for tests
}

// New creates a Buffer with the given capacity. Capacities outside the
// supported range are clamped rather than rejected.
func New(capacity int) *Buffer {
	if capacity < 100 {
		capacity = 100
	}
	if capacity > 50000 {
		capacity = 50000
	}
	return &Buffer{
		capacity: capacity,
		entries:  make([]Entry, capacity),
		nextID:   1,
		cursors:  make(map[string]int64),
		now:      time.Now,
	}
}

// Append records a new entry and returns its id. It always succeeds.
func (b *Buffer) Append(kind Kind, payload string) int64 {
	return b.append(kind, payload, len(payload))
}

// AppendData records a TX or RX entry for raw bytes; the payload is the hex
// rendering and the size is the byte count.
func (b *Buffer) AppendData(kind Kind, data []byte) int64 {
	return b.append(kind, hex.EncodeToString(data), len(data))
}

// Infof, Warnf and Errorf record formatted lifecycle events.
func (b *Buffer) Infof(format string, args ...interface{}) int64 {
	return b.Append(KindInfo, fmt.Sprintf(format, args...))
}

func (b *Buffer) Warnf(format string, args ...interface{}) int64 {
	return b.Append(KindWarn, fmt.Sprintf(format, args...))
}

func (b *Buffer) Errorf(format string, args ...interface{}) int64 {
	return b.Append(KindError, fmt.Sprintf(format, args...))
}

func (b *Buffer) append(kind Kind, payload string, size int) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := Entry{
		ID:        b.nextID,
		Timestamp: b.now(),
		Kind:      kind,
		Payload:   payload,
		Size:      size,
	}
	b.nextID++

	if b.count == b.capacity {
		// Overwrite the oldest slot. Ids and cursors are untouched.
		b.entries[b.head] = e
		b.head = (b.head + 1) % b.capacity
	} else {
		b.entries[(b.head+b.count)%b.capacity] = e
		b.count++
	}
	return e.ID
}

// Len reports the number of retained entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Capacity reports the fixed ring capacity.
func (b *Buffer) Capacity() int { return b.capacity }

// TotalAppended reports how many entries have ever been appended,
// including evicted ones.
func (b *Buffer) TotalAppended() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID - 1
}

// Cursor returns the last consumed id for a client, or 0 if the client has
// never queried.
func (b *Buffer) Cursor(clientID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursors[clientID]
}

// at returns the i-th retained entry, oldest first. Caller holds b.mu.
func (b *Buffer) at(i int) Entry {
	return b.entries[(b.head+i)%b.capacity]
}

// snapshot copies the retained entries in chronological order.
// Caller holds b.mu.
func (b *Buffer) snapshot() []Entry {
	out := make([]Entry, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.at(i)
	}
	return out
}

package lifecycle

import (
	"log/slog"
	"sync"

	"github.com/ble-mcp-test/ble-bridge/internal/logring"
)

// Mutex is the single-slot exclusive lock protecting the hardware session.
// Claims are keyed by an opaque token so a stale holder can never release
// a newer session's claim. All operations are non-blocking check-and-set;
// callers retry rather than wait. Every transition is recorded in the ring
// for postmortem tracing.
type Mutex struct {
	mu     sync.Mutex
	holder string
	log    *slog.Logger
	ring   *logring.Buffer
}

// NewMutex creates an unheld Mutex.
func NewMutex(log *slog.Logger, ring *logring.Buffer) *Mutex {
	return &Mutex{log: log, ring: ring}
}

// TryClaim takes the lock for token. It fails if any token currently
// holds it, including token itself.
func (m *Mutex) TryClaim(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder != "" {
		m.log.Debug("mutex claim rejected", "token", token, "holder", m.holder)
		return false
	}
	m.holder = token
	m.log.Debug("mutex claimed", "token", token)
	m.ring.Infof("connection mutex claimed by %s", token)
	return true
}

// Release frees the lock if token matches the current holder.
func (m *Mutex) Release(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder != token {
		m.log.Debug("mutex release rejected", "token", token, "holder", m.holder)
		m.ring.Warnf("connection mutex release rejected for %s", token)
		return false
	}
	m.holder = ""
	m.log.Debug("mutex released", "token", token)
	m.ring.Infof("connection mutex released by %s", token)
	return true
}

// ForceRelease unconditionally clears the holder. Only for unrecoverable
// lifecycle errors; a wedged hardware call must not hold the lock forever.
func (m *Mutex) ForceRelease() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder == "" {
		return
	}
	m.log.Warn("mutex force-released", "holder", m.holder)
	m.ring.Warnf("connection mutex force-released (holder %s)", m.holder)
	m.holder = ""
}

// IsFree reports whether no token holds the lock.
func (m *Mutex) IsFree() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder == ""
}

// Holder returns the current token, or "" when free.
func (m *Mutex) Holder() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder
}

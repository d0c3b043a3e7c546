package broker

import (
	"sync"
	"time"
)

// Metrics tracks broker-wide counters that don't belong to any single
// session: errors raised outside the per-session pipeline, and uptime.
// Per-connection traffic counts live on session.Session itself and are
// aggregated on demand by Broker.TrafficStats.
type Metrics struct {
	mu sync.RWMutex

	ErrorCount uint64
	LastError  time.Time
	StartTime  time.Time
}

// NewMetrics creates a zeroed Metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// RecordError records a broker-level failure (failed command delivery,
// snapshot load error, transport start failure).
func (m *Metrics) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorCount++
	m.LastError = time.Now()
}

// Snapshot is a point-in-time copy of Metrics, safe to marshal without
// holding the live lock.
type Snapshot struct {
	MessagesSent     uint64        `json:"messagesSent"`
	MessagesReceived uint64        `json:"messagesReceived"`
	ErrorCount       uint64        `json:"errorCount"`
	Uptime           time.Duration `json:"uptime"`
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{ErrorCount: m.ErrorCount, Uptime: time.Since(m.StartTime)}
}

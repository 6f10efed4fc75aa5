package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability for the order book core.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	envelopesApplied atomic.Uint64
	unknownKinds     atomic.Uint64
	decodeErrors     atomic.Uint64
	localIntents     atomic.Uint64
	intentsRejected  atomic.Uint64
	transportErrors  atomic.Uint64
	reconnects       atomic.Uint64

	// Gauges
	liveOrders        atomic.Int64
	activeConnections atomic.Int32
	reconnectAttempt  atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordEnvelope records one applied feed envelope.
func (m *Metrics) RecordEnvelope() {
	m.envelopesApplied.Add(1)
}

// RecordUnknownKind records an envelope ignored for its kind.
func (m *Metrics) RecordUnknownKind() {
	m.unknownKinds.Add(1)
}

// RecordDecodeError records a dropped, undecodable feed message.
func (m *Metrics) RecordDecodeError() {
	m.decodeErrors.Add(1)
}

// RecordIntent records an accepted local intent.
func (m *Metrics) RecordIntent() {
	m.localIntents.Add(1)
}

// RecordIntentRejected records a local intent on an unknown order.
func (m *Metrics) RecordIntentRejected() {
	m.intentsRejected.Add(1)
}

// RecordTransportError records a transport error event.
func (m *Metrics) RecordTransportError() {
	m.transportErrors.Add(1)
}

// RecordReconnect records a scheduled reconnect and its attempt number.
func (m *Metrics) RecordReconnect(attempt int) {
	m.reconnects.Add(1)
	m.reconnectAttempt.Store(int32(attempt))
}

// ResetReconnectAttempt clears the attempt gauge after a successful open.
func (m *Metrics) ResetReconnectAttempt() {
	m.reconnectAttempt.Store(0)
}

// SetLiveOrders sets the live order set size.
func (m *Metrics) SetLiveOrders(n int64) {
	m.liveOrders.Store(n)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EnvelopesApplied  uint64
	UnknownKinds      uint64
	DecodeErrors      uint64
	LocalIntents      uint64
	IntentsRejected   uint64
	TransportErrors   uint64
	Reconnects        uint64
	LiveOrders        int64
	ActiveConnections int32
	ReconnectAttempt  int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		EnvelopesApplied:  m.envelopesApplied.Load(),
		UnknownKinds:      m.unknownKinds.Load(),
		DecodeErrors:      m.decodeErrors.Load(),
		LocalIntents:      m.localIntents.Load(),
		IntentsRejected:   m.intentsRejected.Load(),
		TransportErrors:   m.transportErrors.Load(),
		Reconnects:        m.reconnects.Load(),
		LiveOrders:        m.liveOrders.Load(),
		ActiveConnections: m.activeConnections.Load(),
		ReconnectAttempt:  m.reconnectAttempt.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.envelopesApplied.Store(0)
	m.unknownKinds.Store(0)
	m.decodeErrors.Store(0)
	m.localIntents.Store(0)
	m.intentsRejected.Store(0)
	m.transportErrors.Store(0)
	m.reconnects.Store(0)
	m.liveOrders.Store(0)
	m.activeConnections.Store(0)
	m.reconnectAttempt.Store(0)
}

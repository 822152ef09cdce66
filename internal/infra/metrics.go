package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability for the streaming pipeline.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticksIngested  atomic.Uint64
	candlesClosed  atomic.Uint64
	droppedTicks   atomic.Uint64
	framesSent     atomic.Uint64
	evictions      atomic.Uint64
	pollFallbacks  atomic.Uint64
	reconnects     atomic.Uint64
	upstreamErrors atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	activeFeeds       atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTick records a tick accepted by a sequencer.
func (m *Metrics) RecordTick() {
	m.ticksIngested.Add(1)
}

// RecordCandleClosed records a finished candle.
func (m *Metrics) RecordCandleClosed() {
	m.candlesClosed.Add(1)
}

// RecordDroppedTick records a late or invalid tick.
func (m *Metrics) RecordDroppedTick() {
	m.droppedTicks.Add(1)
}

// RecordBroadcast records n frames handed to subscribers.
func (m *Metrics) RecordBroadcast(n int) {
	m.framesSent.Add(uint64(n))
}

// RecordEviction records a slow subscriber that was disconnected.
func (m *Metrics) RecordEviction() {
	m.evictions.Add(1)
}

// RecordPollFallback records a polled quote replaced by a synthetic one.
func (m *Metrics) RecordPollFallback() {
	m.pollFallbacks.Add(1)
}

// RecordReconnect records an upstream reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// RecordError records an upstream error occurrence.
func (m *Metrics) RecordError() {
	m.upstreamErrors.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// IncrementFeeds increments running symbol feeds by 1.
func (m *Metrics) IncrementFeeds() {
	m.activeFeeds.Add(1)
}

// DecrementFeeds decrements running symbol feeds by 1.
func (m *Metrics) DecrementFeeds() {
	m.activeFeeds.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TicksIngested     uint64    `json:"ticksIngested"`
	CandlesClosed     uint64    `json:"candlesClosed"`
	DroppedTicks      uint64    `json:"droppedTicks"`
	FramesSent        uint64    `json:"framesSent"`
	Evictions         uint64    `json:"evictions"`
	PollFallbacks     uint64    `json:"pollFallbacks"`
	Reconnects        uint64    `json:"reconnects"`
	UpstreamErrors    uint64    `json:"upstreamErrors"`
	ActiveConnections int32     `json:"activeConnections"`
	ActiveFeeds       int32     `json:"activeFeeds"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TicksIngested:     m.ticksIngested.Load(),
		CandlesClosed:     m.candlesClosed.Load(),
		DroppedTicks:      m.droppedTicks.Load(),
		FramesSent:        m.framesSent.Load(),
		Evictions:         m.evictions.Load(),
		PollFallbacks:     m.pollFallbacks.Load(),
		Reconnects:        m.reconnects.Load(),
		UpstreamErrors:    m.upstreamErrors.Load(),
		ActiveConnections: m.activeConnections.Load(),
		ActiveFeeds:       m.activeFeeds.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ticksIngested.Store(0)
	m.candlesClosed.Store(0)
	m.droppedTicks.Store(0)
	m.framesSent.Store(0)
	m.evictions.Store(0)
	m.pollFallbacks.Store(0)
	m.reconnects.Store(0)
	m.upstreamErrors.Store(0)
	m.activeConnections.Store(0)
	m.activeFeeds.Store(0)
}

package infra

import (
	"sync/atomic"
	"time"

	"hft_go/internal/domain"
)

// Metrics provides lightweight observability on the hot path.
// Uses atomic operations for thread-safety; Prometheus reads it via Snapshot.
type Metrics struct {
	// Market data
	messagesDecoded atomic.Uint64
	codecErrors     atomic.Uint64
	staleDropped    atomic.Uint64
	bookViolations  atomic.Uint64
	bookResets      atomic.Uint64

	// Session
	sessionState      atomic.Int32
	reconnects        atomic.Uint64
	heartbeatsSent    atomic.Uint64
	heartbeatTimeouts atomic.Uint64
	exchangeRejects   atomic.Uint64

	// Orders
	ordersSubmitted atomic.Uint64
	ordersAcked     atomic.Uint64
	ordersFilled    atomic.Uint64
	ordersRejected  atomic.Uint64
	ordersTimedOut  atomic.Uint64
	ordersCancelled atomic.Uint64
	riskRejections  atomic.Uint64

	panicsRecovered atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64
}

// NewMetrics returns a zeroed metrics set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordEvent records one processed inbound message with its latency.
func (m *Metrics) RecordEvent(latencyNs int64) {
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

func (m *Metrics) RecordDecoded() { m.messagesDecoded.Add(1) }
func (m *Metrics) RecordCodecError() { m.codecErrors.Add(1) }
func (m *Metrics) RecordStaleDrop() { m.staleDropped.Add(1) }
func (m *Metrics) RecordBookViolation() { m.bookViolations.Add(1) }
func (m *Metrics) RecordBookReset() { m.bookResets.Add(1) }
func (m *Metrics) RecordReconnect() { m.reconnects.Add(1) }
func (m *Metrics) RecordHeartbeatSent() { m.heartbeatsSent.Add(1) }
func (m *Metrics) RecordHeartbeatMiss() { m.heartbeatTimeouts.Add(1) }
func (m *Metrics) RecordExchangeReject() { m.exchangeRejects.Add(1) }
func (m *Metrics) RecordRiskRejection() { m.riskRejections.Add(1) }
func (m *Metrics) RecordPanic() { m.panicsRecovered.Add(1) }

// SetSessionState stores the numeric session state for the gauge.
func (m *Metrics) SetSessionState(state int32) {
	m.sessionState.Store(state)
}

// RecordOrderStatus counts an order entering status.
func (m *Metrics) RecordOrderStatus(status domain.OrderStatus) {
	switch status {
	case domain.OrderStatusSent:
		m.ordersSubmitted.Add(1)
	case domain.OrderStatusAcked:
		m.ordersAcked.Add(1)
	case domain.OrderStatusFilled:
		m.ordersFilled.Add(1)
	case domain.OrderStatusRejected:
		m.ordersRejected.Add(1)
	case domain.OrderStatusTimedOut:
		m.ordersTimedOut.Add(1)
	case domain.OrderStatusCancelled:
		m.ordersCancelled.Add(1)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	MessagesDecoded   uint64
	CodecErrors       uint64
	StaleDropped      uint64
	BookViolations    uint64
	BookResets        uint64
	SessionState      int32
	Reconnects        uint64
	HeartbeatsSent    uint64
	HeartbeatTimeouts uint64
	ExchangeRejects   uint64
	OrdersSubmitted   uint64
	OrdersAcked       uint64
	OrdersFilled      uint64
	OrdersRejected    uint64
	OrdersTimedOut    uint64
	OrdersCancelled   uint64
	RiskRejections    uint64
	PanicsRecovered   uint64
	EventsProcessed   uint64
	AvgLatencyNs      int64
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		MessagesDecoded:   m.messagesDecoded.Load(),
		CodecErrors:       m.codecErrors.Load(),
		StaleDropped:      m.staleDropped.Load(),
		BookViolations:    m.bookViolations.Load(),
		BookResets:        m.bookResets.Load(),
		SessionState:      m.sessionState.Load(),
		Reconnects:        m.reconnects.Load(),
		HeartbeatsSent:    m.heartbeatsSent.Load(),
		HeartbeatTimeouts: m.heartbeatTimeouts.Load(),
		ExchangeRejects:   m.exchangeRejects.Load(),
		OrdersSubmitted:   m.ordersSubmitted.Load(),
		OrdersAcked:       m.ordersAcked.Load(),
		OrdersFilled:      m.ordersFilled.Load(),
		OrdersRejected:    m.ordersRejected.Load(),
		OrdersTimedOut:    m.ordersTimedOut.Load(),
		OrdersCancelled:   m.ordersCancelled.Load(),
		RiskRejections:    m.riskRejections.Load(),
		PanicsRecovered:   m.panicsRecovered.Load(),
		EventsProcessed:   count,
		AvgLatencyNs:      avgLatency,
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.messagesDecoded.Store(0)
	m.codecErrors.Store(0)
	m.staleDropped.Store(0)
	m.bookViolations.Store(0)
	m.bookResets.Store(0)
	m.reconnects.Store(0)
	m.heartbeatsSent.Store(0)
	m.heartbeatTimeouts.Store(0)
	m.exchangeRejects.Store(0)
	m.ordersSubmitted.Store(0)
	m.ordersAcked.Store(0)
	m.ordersFilled.Store(0)
	m.ordersRejected.Store(0)
	m.ordersTimedOut.Store(0)
	m.ordersCancelled.Store(0)
	m.riskRejections.Store(0)
	m.panicsRecovered.Store(0)
	m.latencyCount.Store(0)
	m.sessionState.Store(0)
	m.latencySumNs.Store(0)
}

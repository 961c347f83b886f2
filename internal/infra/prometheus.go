package infra

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hft"

// NewPrometheusRegistry exposes m through a dedicated registry. Every series
// reads the atomics on scrape, so the hot path never touches Prometheus.
func NewPrometheusRegistry(m *Metrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	counter := func(name, help string, read func() uint64) {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read()) }))
	}
	gauge := func(name, help string, read func() float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, read))
	}

	counter("messages_decoded_total", "Inbound messages decoded.", m.messagesDecoded.Load)
	counter("codec_errors_total", "Inbound frames that failed to decode.", m.codecErrors.Load)
	counter("stale_dropped_total", "Market data dropped for belonging to an old session epoch.", m.staleDropped.Load)
	counter("book_violations_total", "Order book integrity violations.", m.bookViolations.Load)
	counter("book_resets_total", "Order book resets.", m.bookResets.Load)
	counter("reconnects_total", "Session reconnect attempts.", m.reconnects.Load)
	counter("heartbeats_sent_total", "Heartbeats sent.", m.heartbeatsSent.Load)
	counter("heartbeat_timeouts_total", "Sessions dropped for missed heartbeats.", m.heartbeatTimeouts.Load)
	counter("exchange_rejects_total", "Reject messages received from the exchange.", m.exchangeRejects.Load)
	counter("orders_submitted_total", "Orders written to the exchange.", m.ordersSubmitted.Load)
	counter("orders_acked_total", "Orders acknowledged.", m.ordersAcked.Load)
	counter("orders_filled_total", "Orders filled.", m.ordersFilled.Load)
	counter("orders_rejected_total", "Orders rejected.", m.ordersRejected.Load)
	counter("orders_timed_out_total", "Orders without a response before their deadline.", m.ordersTimedOut.Load)
	counter("orders_cancelled_total", "Orders cancelled.", m.ordersCancelled.Load)
	counter("risk_rejections_total", "Intents rejected by the risk manager.", m.riskRejections.Load)
	counter("panics_recovered_total", "Panics recovered in engine shards.", m.panicsRecovered.Load)
	counter("events_processed_total", "Market data events applied by the engine.", m.latencyCount.Load)

	gauge("session_state", "Current session state.", func() float64 {
		return float64(m.sessionState.Load())
	})
	gauge("event_latency_avg_seconds", "Average receive-to-apply latency.", func() float64 {
		return float64(m.Snapshot().AvgLatencyNs) / 1e9
	})
	return reg
}

// MetricsHandler serves m in the Prometheus text format.
func MetricsHandler(m *Metrics) http.Handler {
	return promhttp.HandlerFor(NewPrometheusRegistry(m), promhttp.HandlerOpts{})
}

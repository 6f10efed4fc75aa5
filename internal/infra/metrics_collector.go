package infra

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "orderbook"

// MetricsCollector exports a Metrics instance to Prometheus.
// Values are read from the atomic snapshot on every scrape.
type MetricsCollector struct {
	metrics *Metrics

	envelopesApplied  *prometheus.Desc
	unknownKinds      *prometheus.Desc
	decodeErrors      *prometheus.Desc
	localIntents      *prometheus.Desc
	intentsRejected   *prometheus.Desc
	transportErrors   *prometheus.Desc
	reconnects        *prometheus.Desc
	liveOrders        *prometheus.Desc
	activeConnections *prometheus.Desc
	reconnectAttempt  *prometheus.Desc
}

// NewMetricsCollector wraps m for registration with a prometheus.Registerer.
func NewMetricsCollector(m *Metrics) *MetricsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, nil, nil)
	}
	return &MetricsCollector{
		metrics:           m,
		envelopesApplied:  desc("envelopes_applied_total", "Feed envelopes applied to the live order set."),
		unknownKinds:      desc("envelopes_unknown_kind_total", "Feed envelopes ignored because of an unknown kind."),
		decodeErrors:      desc("decode_errors_total", "Feed messages dropped because they could not be decoded."),
		localIntents:      desc("local_intents_total", "Local intents accepted by the engine."),
		intentsRejected:   desc("local_intents_rejected_total", "Local intents targeting an unknown order."),
		transportErrors:   desc("transport_errors_total", "Transport error events."),
		reconnects:        desc("reconnects_total", "Scheduled reconnect attempts."),
		liveOrders:        desc("live_orders", "Orders currently in the live set."),
		activeConnections: desc("active_connections", "Open feed connections."),
		reconnectAttempt:  desc("reconnect_attempt", "Current consecutive reconnect attempt."),
	}
}

// Describe implements prometheus.Collector.
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.envelopesApplied
	ch <- c.unknownKinds
	ch <- c.decodeErrors
	ch <- c.localIntents
	ch <- c.intentsRejected
	ch <- c.transportErrors
	ch <- c.reconnects
	ch <- c.liveOrders
	ch <- c.activeConnections
	ch <- c.reconnectAttempt
}

// Collect implements prometheus.Collector.
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.envelopesApplied, snap.EnvelopesApplied)
	counter(c.unknownKinds, snap.UnknownKinds)
	counter(c.decodeErrors, snap.DecodeErrors)
	counter(c.localIntents, snap.LocalIntents)
	counter(c.intentsRejected, snap.IntentsRejected)
	counter(c.transportErrors, snap.TransportErrors)
	counter(c.reconnects, snap.Reconnects)
	gauge(c.liveOrders, float64(snap.LiveOrders))
	gauge(c.activeConnections, float64(snap.ActiveConnections))
	gauge(c.reconnectAttempt, float64(snap.ReconnectAttempt))
}

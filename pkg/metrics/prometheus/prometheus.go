// Package prometheus implements metrics.ClientMetrics with Prometheus collectors.
//
//	reg := prometheus.NewRegistry()
//	c, err := client.New(cfg, client.WithMetrics(shardisprom.New(reg)))
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cachemir/shardis/pkg/metrics"
)

type clientMetrics struct {
	dispatched  *prometheus.CounterVec
	queued      prometheus.Counter
	rejected    *prometheus.CounterVec
	reconnects  *prometheus.CounterVec
	pending     *prometheus.GaugeVec
	liveServers prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) metrics.ClientMetrics {
	m := &clientMetrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardis_commands_dispatched_total",
			Help: "Commands written to a server connection",
		}, []string{"server"}),

		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardis_commands_queued_total",
			Help: "Commands parked in the offline queue before any server was attached",
		}),

		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardis_commands_rejected_total",
			Help: "Commands failed by the client before or instead of a server reply",
		}, []string{"reason"}),

		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardis_reconnects_total",
			Help: "Connection losses that armed the reconnect timer",
		}, []string{"server"}),

		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shardis_pending_replies",
			Help: "Commands awaiting a reply per server",
		}, []string{"server"}),

		liveServers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shardis_live_servers",
			Help: "Servers in the live registry",
		}),
	}

	reg.MustRegister(
		m.dispatched,
		m.queued,
		m.rejected,
		m.reconnects,
		m.pending,
		m.liveServers,
	)
	return m
}

func (m *clientMetrics) CommandDispatched(server string) {
	m.dispatched.WithLabelValues(server).Inc()
}

func (m *clientMetrics) CommandQueued() { m.queued.Inc() }

func (m *clientMetrics) CommandRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *clientMetrics) Reconnect(server string) {
	m.reconnects.WithLabelValues(server).Inc()
}

func (m *clientMetrics) PendingReplies(server string, n int) {
	m.pending.WithLabelValues(server).Set(float64(n))
}

func (m *clientMetrics) LiveServers(n int) { m.liveServers.Set(float64(n)) }

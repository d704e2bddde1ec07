package delivery

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the delivery counters exposed on /metrics.
type Metrics struct {
	Direct         *prometheus.CounterVec
	RelayEnqueued  prometheus.Counter
	RelayDelivered prometheus.Counter
	RelayAbandoned prometheus.Counter
	RelayPurged    prometheus.Counter
	RelayPending   prometheus.Gauge
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Direct: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "burrow",
			Subsystem: "delivery",
			Name:      "direct_attempts_total",
			Help:      "Direct delivery attempts by result.",
		}, []string{"result"}),
		RelayEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "burrow",
			Subsystem: "relay",
			Name:      "enqueued_total",
			Help:      "Envelopes added to the relay queue.",
		}),
		RelayDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "burrow",
			Subsystem: "relay",
			Name:      "delivered_total",
			Help:      "Envelopes delivered through a live channel.",
		}),
		RelayAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "burrow",
			Subsystem: "relay",
			Name:      "abandoned_total",
			Help:      "Envelopes that hit the attempt cap.",
		}),
		RelayPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "burrow",
			Subsystem: "relay",
			Name:      "purged_total",
			Help:      "Delivered envelopes removed after retention.",
		}),
		RelayPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "burrow",
			Subsystem: "relay",
			Name:      "pending",
			Help:      "Envelopes neither delivered nor abandoned.",
		}),
	}
	reg.MustRegister(m.Direct, m.RelayEnqueued, m.RelayDelivered, m.RelayAbandoned, m.RelayPurged, m.RelayPending)
	return m
}

package network

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type relayMetrics struct {
	enqueued   prometheus.Counter
	dropped    prometheus.Counter
	duplicates prometheus.Counter
	received   *prometheus.CounterVec
	peers      prometheus.Gauge
}

var (
	relayMetricsOnce sync.Once
	relayRegistry    *relayMetrics
)

func defaultRelayMetrics() *relayMetrics {
	relayMetricsOnce.Do(func() {
		relayRegistry = &relayMetrics{
			enqueued: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "cvn",
				Subsystem: "relay",
				Name:      "queue_enqueued_total",
				Help:      "Envelopes enqueued onto peer send queues.",
			}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "cvn",
				Subsystem: "relay",
				Name:      "queue_dropped_total",
				Help:      "Envelopes dropped because a peer queue was full.",
			}),
			duplicates: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "cvn",
				Subsystem: "relay",
				Name:      "duplicates_total",
				Help:      "Governance messages ignored because they were already relayed.",
			}),
			received: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cvn",
				Subsystem: "relay",
				Name:      "received_total",
				Help:      "Governance messages received from peers by outcome.",
			}, []string{"outcome"}),
			peers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "cvn",
				Subsystem: "relay",
				Name:      "peers",
				Help:      "Currently subscribed peers.",
			}),
		}
		prometheus.MustRegister(
			relayRegistry.enqueued,
			relayRegistry.dropped,
			relayRegistry.duplicates,
			relayRegistry.received,
			relayRegistry.peers,
		)
	})
	return relayRegistry
}

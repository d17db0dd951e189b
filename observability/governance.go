package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GovernanceMetrics tracks governance message construction, signature
// collection, and submission outcomes.
type GovernanceMetrics struct {
	proposals   *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	signatures  prometheus.Histogram
	verifyTime  prometheus.Histogram
	registry    *prometheus.GaugeVec
	rpcRequests *prometheus.CounterVec
	rpcLatency  *prometheus.HistogramVec
}

var (
	governanceMetricsOnce sync.Once
	governanceRegistry    *GovernanceMetrics
)

// Governance returns the lazily-initialised governance metrics registry.
func Governance() *GovernanceMetrics {
	governanceMetricsOnce.Do(func() {
		governanceRegistry = &GovernanceMetrics{
			proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cvn",
				Subsystem: "governance",
				Name:      "proposals_total",
				Help:      "Governance messages built, segmented by payload kind.",
			}, []string{"payload"}),
			outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cvn",
				Subsystem: "governance",
				Name:      "submissions_total",
				Help:      "Signed submissions segmented by final state and rejection reason.",
			}, []string{"state", "reason"}),
			signatures: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "cvn",
				Subsystem: "governance",
				Name:      "signatures_per_submission",
				Help:      "Number of admin signature tokens supplied per submission.",
				Buckets:   prometheus.LinearBuckets(1, 1, 10),
			}),
			verifyTime: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "cvn",
				Subsystem: "governance",
				Name:      "signature_verification_seconds",
				Help:      "Time spent verifying admin signatures for one submission.",
				Buckets:   prometheus.DefBuckets,
			}),
			registry: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "cvn",
				Subsystem: "registry",
				Name:      "members",
				Help:      "Current registry membership by set.",
			}, []string{"set"}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cvn",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cvn",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			governanceRegistry.proposals,
			governanceRegistry.outcomes,
			governanceRegistry.signatures,
			governanceRegistry.verifyTime,
			governanceRegistry.registry,
			governanceRegistry.rpcRequests,
			governanceRegistry.rpcLatency,
		)
	})
	return governanceRegistry
}

// RecordProposal increments the proposal counter for each payload kind.
func (m *GovernanceMetrics) RecordProposal(payloads ...string) {
	if m == nil {
		return
	}
	for _, p := range payloads {
		p = strings.TrimSpace(p)
		if p == "" {
			p = "unknown"
		}
		m.proposals.WithLabelValues(p).Inc()
	}
}

// RecordOutcome records the terminal state of a submission attempt.
func (m *GovernanceMetrics) RecordOutcome(state, reason string, signatures int) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.outcomes.WithLabelValues(state, reason).Inc()
	if signatures > 0 {
		m.signatures.Observe(float64(signatures))
	}
}

// ObserveVerification records how long quorum verification took.
func (m *GovernanceMetrics) ObserveVerification(d time.Duration) {
	if m == nil {
		return
	}
	m.verifyTime.Observe(d.Seconds())
}

// SetRegistrySize publishes the current validator and admin counts.
func (m *GovernanceMetrics) SetRegistrySize(validators, admins int) {
	if m == nil {
		return
	}
	m.registry.WithLabelValues("validators").Set(float64(validators))
	m.registry.WithLabelValues("admins").Set(float64(admins))
}

// ObserveRPC records the outcome and latency of a JSON-RPC call.
func (m *GovernanceMetrics) ObserveRPC(method string, failed bool, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if failed {
		outcome = "error"
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
	m.rpcLatency.WithLabelValues(method).Observe(duration.Seconds())
}

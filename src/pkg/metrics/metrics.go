// Package metrics exposes the sync agent's observability surface (spec
// §7: "User-visible failure is through observability metrics and logs").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry groups every metric the agent emits. One Registry is created
// per agent process and wired into the replicator, delta log, and
// ingress/egress adapters.
type Registry struct {
	DeltasProduced   *prometheus.CounterVec
	DeltasReceived   *prometheus.CounterVec
	DeltasDuplicate  *prometheus.CounterVec
	DeltasForged     *prometheus.CounterVec
	DeltaLogSize     prometheus.Gauge
	PeerProgress     *prometheus.GaugeVec
	EgressQueueDepth prometheus.Gauge
	EgressSucceeded  *prometheus.CounterVec
	EgressAbandoned  *prometheus.CounterVec
	AntiEntropyRuns  prometheus.Counter
	ClockSkewRejects prometheus.Counter
}

// NewRegistry creates and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		DeltasProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deltasync",
			Name:      "deltas_produced_total",
			Help:      "Local deltas produced, by document id.",
		}, []string{"doc_id"}),
		DeltasReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deltasync",
			Name:      "deltas_received_total",
			Help:      "Remote deltas received, by document id and outcome.",
		}, []string{"doc_id", "outcome"}),
		DeltasDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deltasync",
			Name:      "deltas_duplicate_total",
			Help:      "Deltas discarded as exact-payload duplicates.",
		}, []string{"doc_id"}),
		DeltasForged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deltasync",
			Name:      "deltas_forged_total",
			Help:      "Delta id collisions with a differing payload (security event).",
		}, []string{"doc_id"}),
		DeltaLogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deltasync",
			Name:      "delta_log_entries",
			Help:      "Entries currently retained in the durable delta log.",
		}),
		PeerProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "deltasync",
			Name:      "peer_progress_seq",
			Help:      "Highest contiguous origin_seq received per peer.",
		}, []string{"peer"}),
		EgressQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deltasync",
			Name:      "egress_queue_depth",
			Help:      "Pending AppliedChanges awaiting egress.",
		}),
		EgressSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deltasync",
			Name:      "egress_succeeded_total",
			Help:      "Upstream mutations applied successfully.",
		}, []string{"doc_id"}),
		EgressAbandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deltasync",
			Name:      "egress_abandoned_total",
			Help:      "Upstream mutations abandoned after a permanent 4xx.",
		}, []string{"doc_id"}),
		AntiEntropyRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deltasync",
			Name:      "anti_entropy_runs_total",
			Help:      "Anti-entropy exchanges initiated with a peer.",
		}),
		ClockSkewRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deltasync",
			Name:      "clock_skew_rejected_total",
			Help:      "Remote timestamps rejected for exceeding the skew bound.",
		}),
	}

	reg.MustRegister(
		r.DeltasProduced, r.DeltasReceived, r.DeltasDuplicate, r.DeltasForged,
		r.DeltaLogSize, r.PeerProgress, r.EgressQueueDepth,
		r.EgressSucceeded, r.EgressAbandoned, r.AntiEntropyRuns, r.ClockSkewRejects,
	)
	return r
}

// Noop returns a Registry backed by a private, unregistered registry — for
// tests and components that do not need to export metrics anywhere.
func Noop() *Registry {
	return NewRegistry(prometheus.NewRegistry())
}

// Package metrics exposes Prometheus instrumentation for the Hub's
// provisioning, reconciliation, and prompt pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Hub-level Prometheus collectors. It has no methods of
// its own; callers that may run without metrics check for a nil *Metrics
// before touching a collector.
type Metrics struct {
	DronesTotal         *prometheus.GaugeVec
	ProvisionDuration   prometheus.Histogram
	ProvisionFailures   prometheus.Counter
	ReconcilePasses     prometheus.Counter
	ReconcileDuration   prometheus.Histogram
	PendingPromptQueue  prometheus.Gauge
	PromptSendDuration  prometheus.Histogram
	PromptSendFailures  *prometheus.CounterVec
	RepoPullOutcomes    *prometheus.CounterVec
	TerminalConnections prometheus.Gauge
	ArchiveSweptTotal   prometheus.Counter
}

// New creates a Metrics and registers all collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DronesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "drone_hub",
			Name:      "drones_total",
			Help:      "Number of drones by lifecycle state.",
		}, []string{"state"}),
		ProvisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "drone_hub",
			Name:      "provision_duration_seconds",
			Help:      "Time to provision a drone container end to end.",
			Buckets:   prometheus.DefBuckets,
		}),
		ProvisionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "drone_hub",
			Name:      "provision_failures_total",
			Help:      "Count of provisioning attempts that failed.",
		}),
		ReconcilePasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "drone_hub",
			Name:      "reconcile_passes_total",
			Help:      "Count of reconciliation sweep passes.",
		}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "drone_hub",
			Name:      "reconcile_pass_duration_seconds",
			Help:      "Duration of a single reconciliation sweep pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		PendingPromptQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "drone_hub",
			Name:      "pending_prompt_queue_depth",
			Help:      "Number of prompts waiting in the pending-prompt pump.",
		}),
		PromptSendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "drone_hub",
			Name:      "prompt_send_duration_seconds",
			Help:      "Time to deliver a prompt to the in-container daemon.",
			Buckets:   prometheus.DefBuckets,
		}),
		PromptSendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drone_hub",
			Name:      "prompt_send_failures_total",
			Help:      "Count of prompt deliveries that failed, by agent.",
		}, []string{"agent"}),
		RepoPullOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drone_hub",
			Name:      "repo_pull_outcomes_total",
			Help:      "Count of repo pull merge-state outcomes.",
		}, []string{"outcome"}),
		TerminalConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "drone_hub",
			Name:      "terminal_connections",
			Help:      "Number of currently open terminal WebSocket bridges.",
		}),
		ArchiveSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "drone_hub",
			Name:      "archive_swept_total",
			Help:      "Count of archived drones deleted by the sweeper.",
		}),
	}

	reg.MustRegister(
		m.DronesTotal, m.ProvisionDuration, m.ProvisionFailures,
		m.ReconcilePasses, m.ReconcileDuration, m.PendingPromptQueue,
		m.PromptSendDuration, m.PromptSendFailures, m.RepoPullOutcomes,
		m.TerminalConnections, m.ArchiveSweptTotal,
	)
	return m
}

// Package metrics exposes the process-wide prometheus counters/gauges
// the executor, job worker and outbox poller update, grounded on the
// teacher's pkg/observability/aggregator.go (which registers metric
// names but never wires a live collector) — here the counters back a
// real /metrics handler mounted on the chi router.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// NodesRun counts atomic node executions by type.
	NodesRun = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowforge_nodes_run_total",
		Help: "Number of atomic node executions, by node type.",
	}, []string{"type"})

	// JobsEnqueued counts jobs handed to a Queue, by kind; jobs run
	// inline under the Null queue are not counted.
	JobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowforge_jobs_enqueued_total",
		Help: "Number of jobs dispatched, by kind.",
	}, []string{"kind"})

	// JobsFailed counts jobs that exhausted their retry budget, by kind.
	JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowforge_jobs_failed_total",
		Help: "Number of jobs that failed after exhausting retries, by kind.",
	}, []string{"kind"})

	// JobsCompleted counts jobs whose handler succeeded, by kind.
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowforge_jobs_completed_total",
		Help: "Number of jobs completed successfully, by kind.",
	}, []string{"kind"})

	// RoundsBlocked is the current count of rounds awaiting a gating job.
	RoundsBlocked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowforge_rounds_blocked",
		Help: "Number of rounds currently blocked on a gating job.",
	})

	// OutboxPollDuration observes how long each poller tick takes.
	OutboxPollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "flowforge_outbox_poll_duration_seconds",
		Help: "Duration of each outbox poller tick.",
	})
)

// Registry is the collector registry the chi router's /metrics handler
// serves; a package-level registry (rather than prometheus's global
// default) keeps registration explicit and test-safe.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(NodesRun, JobsEnqueued, JobsFailed, JobsCompleted, RoundsBlocked, OutboxPollDuration)
}

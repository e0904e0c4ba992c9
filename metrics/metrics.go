package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "remediation_cycles_total",
			Help: "Total number of observe-plan-act-learn cycles",
		},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "remediation_cycle_duration_seconds",
			Help:    "Duration of one full cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ClusterUnreachableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "remediation_cluster_unreachable_total",
			Help: "Cycles in which pod statuses could not be listed",
		},
	)

	IssuesObserved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remediation_issues_observed_total",
			Help: "Issues observed by status and reason",
		},
		[]string{"status", "reason"},
	)

	PlansCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remediation_plans_total",
			Help: "Plans created by the planner tier that produced them",
		},
		[]string{"tier"},
	)

	ReasoningFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remediation_reasoning_failures_total",
			Help: "Reasoning service fallbacks by cause",
		},
		[]string{"cause"},
	)

	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remediation_steps_total",
			Help: "Plan steps by action and outcome (applied, failed, skipped)",
		},
		[]string{"action", "outcome"},
	)

	PatternsLearned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "remediation_patterns_learned",
			Help: "Distinct issue signatures with a learned remediation",
		},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(ClusterUnreachableTotal)
	prometheus.MustRegister(IssuesObserved)
	prometheus.MustRegister(PlansCreated)
	prometheus.MustRegister(ReasoningFailures)
	prometheus.MustRegister(StepsTotal)
	prometheus.MustRegister(PatternsLearned)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Problem labels.
const (
	ProblemToggle  = "toggle"
	ProblemJoltage = "joltage"
)

// Recorder exposes solver throughput and cost as Prometheus metrics.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	solved   *prometheus.CounterVec
	failed   *prometheus.CounterVec
	duration prometheus.Histogram
	catalog  prometheus.Histogram
	batches  *prometheus.CounterVec
}

// NewRecorder registers the solver metrics on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		solved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_machines_solved_total",
			Help: "Machines whose sub-problem produced a press count.",
		}, []string{"problem"}),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_machines_failed_total",
			Help: "Machines whose sub-problem was infeasible or refused.",
		}, []string{"problem", "reason"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "factory_machine_solve_seconds",
			Help:    "Wall time to solve both sub-problems of one machine.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		catalog: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "factory_pattern_catalog_size",
			Help:    "Distinct increment patterns per machine.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 9),
		}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_batches_total",
			Help: "Completed batches by outcome.",
		}, []string{"outcome"}),
	}
}

func (r *Recorder) ObserveSolved(problem string) {
	if r == nil {
		return
	}
	r.solved.WithLabelValues(problem).Inc()
}

func (r *Recorder) ObserveFailed(problem, reason string) {
	if r == nil {
		return
	}
	r.failed.WithLabelValues(problem, reason).Inc()
}

func (r *Recorder) ObserveDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.duration.Observe(d.Seconds())
}

func (r *Recorder) ObserveCatalog(patterns int) {
	if r == nil {
		return
	}
	r.catalog.Observe(float64(patterns))
}

func (r *Recorder) ObserveBatch(outcome string) {
	if r == nil {
		return
	}
	r.batches.WithLabelValues(outcome).Inc()
}

// Package metrics provides Prometheus metrics for the recommendation
// subsystem.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "affinity"

// Registry holds every collector of this package. The CLI is short-lived, so
// metrics are exported by writing the registry to a textfile rather than
// serving it.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// RecommendationsTotal counts recommendation requests by the path served
	RecommendationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recommend",
			Name:      "requests_total",
			Help:      "Total number of recommendation requests by source",
		},
		[]string{"source"},
	)

	// RecommendationDuration tracks time spent producing recommendations
	RecommendationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recommend",
			Name:      "duration_seconds",
			Help:      "Duration of recommendation requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"source"},
	)

	// RecommendationFailures counts internal failures hidden behind empty results
	RecommendationFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recommend",
			Name:      "failures_total",
			Help:      "Total number of recommendation failures by stage",
		},
		[]string{"stage"},
	)

	// ArtifactLoads counts artifact load attempts by outcome
	ArtifactLoads = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recommend",
			Name:      "artifact_loads_total",
			Help:      "Total number of artifact load attempts by outcome",
		},
		[]string{"outcome"},
	)

	// EventsLogged counts accepted interaction events by type
	EventsLogged = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "logged_total",
			Help:      "Total number of logged interaction events by type",
		},
		[]string{"event_type"},
	)

	// EventsRejected counts rejected interaction events by reason
	EventsRejected = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "rejected_total",
			Help:      "Total number of rejected interaction events by reason",
		},
		[]string{"reason"},
	)

	// EventsImported counts bulk-imported rows by result
	EventsImported = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "imported_total",
			Help:      "Total number of imported rows by result",
		},
		[]string{"result"},
	)

	// TrainingRuns counts training runs by outcome
	TrainingRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "runs_total",
			Help:      "Total number of training runs by outcome",
		},
		[]string{"outcome"},
	)

	// TrainingDuration tracks training run duration in seconds
	TrainingDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "duration_seconds",
			Help:      "Duration of training runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	// TrainingFinalLoss is the last epoch loss of the most recent successful run
	TrainingFinalLoss = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "final_loss",
			Help:      "Training loss of the last epoch of the latest successful run",
		},
	)

	// TrainingLastSuccess is the unix time of the latest successful run
	TrainingLastSuccess = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the latest successful training run",
		},
	)

	// CircuitBreakerState tracks breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// CircuitBreakerTransitions counts breaker state changes
	CircuitBreakerTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)
)

// Training outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// RecordRecommendation records a served recommendation request.
func RecordRecommendation(source string, duration time.Duration) {
	RecommendationsTotal.WithLabelValues(source).Inc()
	RecommendationDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordTrainingRun records the outcome of a training run.
func RecordTrainingRun(duration time.Duration, finalLoss float64, err error) {
	TrainingDuration.Observe(duration.Seconds())
	if err != nil {
		TrainingRuns.WithLabelValues(OutcomeFailure).Inc()
		return
	}
	TrainingRuns.WithLabelValues(OutcomeSuccess).Inc()
	TrainingFinalLoss.Set(finalLoss)
	TrainingLastSuccess.Set(float64(time.Now().Unix()))
}

// RecordImport records the result of a bulk import.
func RecordImport(imported, skipped int) {
	EventsImported.WithLabelValues("imported").Add(float64(imported))
	EventsImported.WithLabelValues("skipped").Add(float64(skipped))
}

// WriteTextfile writes the registry in the node exporter textfile format.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

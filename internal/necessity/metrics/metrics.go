package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the necessity module. Tracks line
// throughput per workflow stage and the duration of the heavy paths.
type Metrics struct {
	LinesGenerated        prometheus.Counter
	GenerateConflicts     prometheus.Counter
	SubstitutionsApplied  prometheus.Counter
	LinesReleased         prometheus.Counter
	LinesFinalized        prometheus.Counter
	LinesExcluded         prometheus.Counter
	LinesCorrected        prometheus.Counter
	BatchItemsProcessed   *prometheus.CounterVec
	GenerateDuration      prometheus.Histogram
	ReleaseDuration       prometheus.Histogram
	CorrectionDuration    prometheus.Histogram
}

// New creates a Metrics instance with all necessity module metrics
// registered on the default registry.
func New() *Metrics {
	durationBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	return &Metrics{
		LinesGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "merenda_necessity_lines_generated_total",
			Help: "Total number of necessity lines generated from forecasts",
		}),
		GenerateConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "merenda_necessity_generate_conflicts_total",
			Help: "Total number of duplicate lines rejected during generation",
		}),
		SubstitutionsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "merenda_necessity_substitutions_applied_total",
			Help: "Total number of lines that received a substitution",
		}),
		LinesReleased: promauto.NewCounter(prometheus.CounterOpts{
			Name: "merenda_necessity_lines_released_total",
			Help: "Total number of lines released to coordination",
		}),
		LinesFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "merenda_necessity_lines_finalized_total",
			Help: "Total number of lines finalized",
		}),
		LinesExcluded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "merenda_necessity_lines_excluded_total",
			Help: "Total number of lines soft deleted",
		}),
		LinesCorrected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "merenda_necessity_lines_corrected_total",
			Help: "Total number of lines moved to a new week pair",
		}),
		BatchItemsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "merenda_batch_items_processed_total",
			Help: "Batch items processed, by operation and outcome",
		}, []string{"operation", "outcome"}),
		GenerateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "merenda_necessity_generate_duration_seconds",
			Help:    "Duration of generate operations",
			Buckets: durationBuckets,
		}),
		ReleaseDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "merenda_necessity_release_duration_seconds",
			Help:    "Duration of group release operations",
			Buckets: durationBuckets,
		}),
		CorrectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "merenda_necessity_correction_duration_seconds",
			Help:    "Duration of correction operations",
			Buckets: durationBuckets,
		}),
	}
}

// ObserveGenerate records the duration of a generate call.
func (m *Metrics) ObserveGenerate(start time.Time) {
	m.GenerateDuration.Observe(time.Since(start).Seconds())
}

// ObserveRelease records the duration of a release call.
func (m *Metrics) ObserveRelease(start time.Time) {
	m.ReleaseDuration.Observe(time.Since(start).Seconds())
}

// ObserveCorrection records the duration of a correction call.
func (m *Metrics) ObserveCorrection(start time.Time) {
	m.CorrectionDuration.Observe(time.Since(start).Seconds())
}

// CountBatchItem records one processed batch item.
func (m *Metrics) CountBatchItem(operation string, succeeded bool) {
	outcome := "success"
	if !succeeded {
		outcome = "failure"
	}
	m.BatchItemsProcessed.WithLabelValues(operation, outcome).Inc()
}

package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ingest pipeline.
// Tracks batch results, row outcomes and batch durations.
type Metrics struct {
	Batches       *prometheus.CounterVec
	Rows          *prometheus.CounterVec
	BatchDuration prometheus.Histogram
	ActiveBatches prometheus.Gauge
}

// NewMetrics registers the ingest metrics with reg. A nil reg uses a
// private registry, which keeps tests and repeated services independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		Batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ctedash_ingest_batches_total",
			Help: "Total number of ingest batches by final status",
		}, []string{"status", "kind"}),
		Rows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ctedash_ingest_rows_total",
			Help: "Total number of ingested rows by outcome",
		}, []string{"outcome"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ctedash_ingest_batch_duration_seconds",
			Help:    "Duration of ingest batches from upload to report",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		ActiveBatches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ctedash_ingest_active_batches",
			Help: "Number of batches currently running",
		}),
	}
}

// ObserveBatch records the result of a finished batch.
// Call with time.Now() taken before the batch started.
func (m *Metrics) ObserveBatch(rep *Report, start time.Time) {
	m.Batches.WithLabelValues(string(rep.Status), string(rep.Kind)).Inc()
	c := rep.Counters
	m.addRows(OutcomeInserted, c.AcceptedInserts)
	m.addRows(OutcomeUpdated, c.AcceptedUpdates)
	m.addRows(OutcomeSkipped, c.Skipped)
	m.addRows(OutcomeRejected, c.Rejected)
	m.addRows(OutcomeCancelled, c.Cancelled)
	m.BatchDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) addRows(o Outcome, n int) {
	if n > 0 {
		m.Rows.WithLabelValues(string(o)).Add(float64(n))
	}
}

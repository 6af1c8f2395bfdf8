// Package metrics holds the Prometheus collectors for verification, rendering
// and result loading.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	Verifications   *prometheus.CounterVec
	Renders         *prometheus.CounterVec
	RenderDuration  *prometheus.HistogramVec
	PersistFailures prometheus.Counter
	IssuedIDs       prometheus.Counter
	ResultRows      *prometheus.GaugeVec
	ResultLoadErrs  *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certhub",
			Name:      "verifications_total",
			Help:      "Verification attempts by flow and outcome kind.",
		}, []string{"flow", "outcome"}),
		Renders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certhub",
			Name:      "renders_total",
			Help:      "Rendered documents by kind and status.",
		}, []string{"kind", "status"}),
		RenderDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "certhub",
			Name:      "render_duration_seconds",
			Help:      "Time spent rendering a document.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"kind"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "certhub",
			Name:      "certificate_id_persist_failures_total",
			Help:      "Certificate ids that could not be written back to the record store.",
		}),
		IssuedIDs: f.NewCounter(prometheus.CounterOpts{
			Namespace: "certhub",
			Name:      "certificate_ids_issued_total",
			Help:      "Newly generated certificate ids.",
		}),
		ResultRows: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "certhub",
			Name:      "result_rows",
			Help:      "Rows in the current result table per category.",
		}, []string{"category"}),
		ResultLoadErrs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certhub",
			Name:      "result_load_errors_total",
			Help:      "Failed result table loads per category.",
		}, []string{"category"}),
	}
}

func (m *Metrics) Verification(flow, outcome string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(flow, outcome).Inc()
}

// Render records one render attempt and its latency.
func (m *Metrics) Render(kind string, started time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Renders.WithLabelValues(kind, status).Inc()
	m.RenderDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) Issued() {
	if m == nil {
		return
	}
	m.IssuedIDs.Inc()
}

// ResultTable records the outcome of loading one category.
func (m *Metrics) ResultTable(category string, rows int, err error) {
	if m == nil {
		return
	}
	m.ResultRows.WithLabelValues(category).Set(float64(rows))
	if err != nil {
		m.ResultLoadErrs.WithLabelValues(category).Inc()
	}
}

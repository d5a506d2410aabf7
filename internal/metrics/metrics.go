// Package metrics exposes pipeline counters and histograms to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rewired-gh/strikewatch/internal/models"
)

// Recorder records pipeline activity on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	candidates    *prometheus.CounterVec
	confidence    *prometheus.HistogramVec
	outcomes      *prometheus.CounterVec
	pnl           *prometheus.GaugeVec
	sourceErrors  *prometheus.CounterVec
	reportErrors  *prometheus.CounterVec
}

// New creates a recorder with process and Go runtime collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strikewatch_cycles_total",
				Help: "Pipeline cycles by result",
			},
			[]string{"result"},
		),
		cycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "strikewatch_cycle_duration_seconds",
				Help:    "Duration of pipeline cycles in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		candidates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strikewatch_candidates_total",
				Help: "Scored candidates by instrument, direction and acceptance",
			},
			[]string{"instrument", "direction", "accepted"},
		),
		confidence: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strikewatch_candidate_confidence",
				Help:    "Confidence of scored candidates",
				Buckets: prometheus.LinearBuckets(40, 5, 12),
			},
			[]string{"instrument"},
		),
		outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strikewatch_outcomes_total",
				Help: "Simulated outcomes by instrument and result",
			},
			[]string{"instrument", "result"},
		),
		pnl: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "strikewatch_pnl_total",
				Help: "Cumulative simulated P&L by instrument",
			},
			[]string{"instrument"},
		),
		sourceErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strikewatch_source_errors_total",
				Help: "Market snapshot fetch failures by source",
			},
			[]string{"source"},
		),
		reportErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strikewatch_report_errors_total",
				Help: "Reporter failures",
			},
			[]string{"instrument"},
		),
	}
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RecordCycle records the result and duration of one cycle.
func (r *Recorder) RecordCycle(err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.cycles.WithLabelValues(result).Inc()
	r.cycleDuration.Observe(d.Seconds())
}

// RecordCandidate records a scored candidate.
func (r *Recorder) RecordCandidate(c models.Candidate) {
	accepted := "false"
	if c.Accepted {
		accepted = "true"
	}
	r.candidates.WithLabelValues(c.Instrument(), string(c.Direction), accepted).Inc()
	r.confidence.WithLabelValues(c.Instrument()).Observe(c.Confidence)
}

// RecordOutcome records a simulated outcome and adds its P&L.
func (r *Recorder) RecordOutcome(o models.Outcome) {
	r.outcomes.WithLabelValues(o.Instrument, o.Result()).Inc()
	r.pnl.WithLabelValues(o.Instrument).Add(o.PnL.InexactFloat64())
}

// RecordSourceError records a failed snapshot fetch.
func (r *Recorder) RecordSourceError(source string) {
	r.sourceErrors.WithLabelValues(source).Inc()
}

// RecordReportError records a reporter failure.
func (r *Recorder) RecordReportError(instrument string) {
	r.reportErrors.WithLabelValues(instrument).Inc()
}

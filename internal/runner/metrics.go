package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gotrs-io/shopwalk/internal/report"
)

// Metrics records journey outcomes. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    prometheus.Histogram
	steps       *prometheus.CounterVec
	lastRun     prometheus.Gauge
	lastSuccess prometheus.Gauge
	skipped     prometheus.Counter
}

// NewMetrics registers the runner collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopwalk_runs_total",
			Help: "Journey runs by outcome",
		}, []string{"status"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shopwalk_run_duration_seconds",
			Help:    "Wall time of journey runs",
			Buckets: []float64{10, 20, 30, 45, 60, 90, 120, 180, 300},
		}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopwalk_steps_total",
			Help: "Journey steps by name and outcome",
		}, []string{"step", "status"}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shopwalk_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shopwalk_last_success_timestamp_seconds",
			Help: "Unix time the last passing run finished",
		}),
		skipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "shopwalk_runs_skipped_total",
			Help: "Scheduled runs skipped because the previous run was still going",
		}),
	}
}

func (m *Metrics) observe(run *report.Run) {
	if m == nil || run == nil {
		return
	}
	m.runs.WithLabelValues(string(run.Status)).Inc()
	m.duration.Observe(run.Duration().Seconds())
	for _, step := range run.Steps {
		m.steps.WithLabelValues(step.Name, string(step.Status)).Inc()
	}
	m.lastRun.Set(float64(run.FinishedAt.Unix()))
	if run.Passed() {
		m.lastSuccess.Set(float64(run.FinishedAt.Unix()))
	}
}

// launchFailed counts a run that never reached its first step.
func (m *Metrics) launchFailed(at time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues("error").Inc()
	m.lastRun.Set(float64(at.Unix()))
}

func (m *Metrics) skip() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

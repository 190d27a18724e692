package harness

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds harness counters. A nil *Metrics records nothing.
type Metrics struct {
	waitDuration   *prometheus.HistogramVec
	timeouts       *prometheus.CounterVec
	actions        *prometheus.CounterVec
	settleTimeouts prometheus.Counter
}

// NewMetrics registers the harness collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		waitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shopwalk_wait_duration_seconds",
			Help:    "Time spent in polling waits",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"kind"}),
		timeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopwalk_wait_timeouts_total",
			Help: "Waits that ended without the condition holding",
		}, []string{"target"}),
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopwalk_actions_total",
			Help: "Browser actions dispatched",
		}, []string{"kind"}),
		settleTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "shopwalk_settle_timeouts_total",
			Help: "Page settle waits that gave up",
		}),
	}
}

func (m *Metrics) observeWait(kind string, start time.Time) {
	if m == nil {
		return
	}
	m.waitDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) timeout(target string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(target).Inc()
}

func (m *Metrics) action(kind string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(kind).Inc()
}

func (m *Metrics) settleTimeout() {
	if m == nil {
		return
	}
	m.settleTimeouts.Inc()
}

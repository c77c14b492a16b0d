package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shaiso/composer/internal/compiler"
)

// Metrics — Prometheus метрики компилятора.
//
// Реализует compiler.Observer.
type Metrics struct {
	compilations *prometheus.CounterVec
	duration     prometheus.Histogram
	attempts     prometheus.Histogram
	wins         *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		compilations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "composer_compilations_total",
			Help: "Total compilations by outcome",
		}, []string{"outcome"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "composer_compile_duration_seconds",
			Help:    "Duration of the strategy cascade",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		attempts: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "composer_cascade_attempts",
			Help:    "Strategies tried per compilation",
			Buckets: prometheus.LinearBuckets(1, 1, 11),
		}),
		wins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "composer_strategy_wins_total",
			Help: "Successful compilations by winning strategy",
		}, []string{"strategy"}),
	}
}

// ObserveCompilation записывает итог одной компиляции.
func (m *Metrics) ObserveCompilation(outcome, strategy string, attempts int, d time.Duration) {
	m.compilations.WithLabelValues(outcome).Inc()
	if attempts == 0 {
		return
	}
	m.duration.Observe(d.Seconds())
	m.attempts.Observe(float64(attempts))
	if outcome == compiler.OutcomeSucceeded {
		m.wins.WithLabelValues(strategy).Inc()
	}
}

var _ compiler.Observer = (*Metrics)(nil)

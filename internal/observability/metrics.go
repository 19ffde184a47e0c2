package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all eventcalls Prometheus metrics.
type Metrics struct {
	EventsTotal     *prometheus.CounterVec
	ReadErrorsTotal *prometheus.CounterVec
	RoutinesRunning prometheus.Gauge
	RunDuration     *prometheus.HistogramVec
}

// NewMetrics creates and registers all eventcalls metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcalls_events_total",
			Help: "Total events delivered to handlers.",
		}, []string{"routine"}),

		ReadErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcalls_read_errors_total",
			Help: "Read failures that terminated a run.",
		}, []string{"routine"}),

		RoutinesRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eventcalls_routines_running",
			Help: "Routines currently consuming events.",
		}),

		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventcalls_run_duration_seconds",
			Help:    "Wall time of a routine run, setup through finalize.",
			Buckets: prometheus.DefBuckets,
		}, []string{"routine"}),
	}
}

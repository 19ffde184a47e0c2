package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.EventsTotal.WithLabelValues("r1").Inc()
	m.EventsTotal.WithLabelValues("r1").Inc()
	m.ReadErrorsTotal.WithLabelValues("r1").Inc()
	m.RoutinesRunning.Inc()
	m.RunDuration.WithLabelValues("r1").Observe(0.05)

	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues("r1")); got != 2 {
		t.Errorf("events_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ReadErrorsTotal.WithLabelValues("r1")); got != 1 {
		t.Errorf("read_errors_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RoutinesRunning); got != 1 {
		t.Errorf("routines_running = %v, want 1", got)
	}
}

func TestNewMetrics_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	NewMetrics(reg)
}

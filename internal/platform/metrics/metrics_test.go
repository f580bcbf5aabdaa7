package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSchedulingMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveBooking("book", "ok", 20*time.Millisecond)
	m.ObserveBooking("book", "conflict", 5*time.Millisecond)
	m.ObserveBooking("book", "ok", time.Millisecond)
	m.ObserveToggle("toggled")
	m.ObserveCache("hit")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("book", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("book", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.togglesTotal.WithLabelValues("toggled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheTotal.WithLabelValues("hit")))
}

func TestSchedulingMetrics_NilIsNoop(t *testing.T) {
	var m *SchedulingMetrics
	m.ObserveBooking("book", "ok", time.Second)
	m.ObserveToggle("failed")
	m.ObserveCache("miss")
}

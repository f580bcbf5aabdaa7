// Package metrics exposes Prometheus collectors for the scheduling core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulingMetrics counts booking and toggle outcomes. A nil
// *SchedulingMetrics is valid and records nothing.
type SchedulingMetrics struct {
	bookingsTotal  *prometheus.CounterVec
	bookingLatency *prometheus.HistogramVec
	togglesTotal   *prometheus.CounterVec
	cacheTotal     *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking and release attempts by outcome",
		}, []string{"operation", "outcome"}),
		bookingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agenda",
			Subsystem: "scheduling",
			Name:      "booking_latency_seconds",
			Help:      "Latency of booking and release operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		togglesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "scheduling",
			Name:      "slot_toggles_total",
			Help:      "Per-slot availability toggle outcomes",
		}, []string{"outcome"}),
		cacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "scheduling",
			Name:      "slot_cache_total",
			Help:      "Slot listing cache lookups by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.bookingLatency, m.togglesTotal, m.cacheTotal)
	return m
}

// ObserveBooking records one book or release attempt.
func (m *SchedulingMetrics) ObserveBooking(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(operation, outcome).Inc()
	m.bookingLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *SchedulingMetrics) ObserveToggle(outcome string) {
	if m == nil {
		return
	}
	m.togglesTotal.WithLabelValues(outcome).Inc()
}

// ObserveCache records a cache lookup; result is "hit", "miss" or "error".
func (m *SchedulingMetrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.cacheTotal.WithLabelValues(result).Inc()
}

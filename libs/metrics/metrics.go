package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AvailabilityMetrics exposes counters/histograms for slot computation,
// reservations and external calendar fetches. A nil receiver is a no-op so
// components can run without metrics in tests.
type AvailabilityMetrics struct {
	slotQueries    *prometheus.CounterVec
	slotLatency    *prometheus.HistogramVec
	reservations   *prometheus.CounterVec
	cancellations  *prometheus.CounterVec
	externalFetch  *prometheus.CounterVec
	externalCached *prometheus.CounterVec
}

func NewAvailabilityMetrics(reg prometheus.Registerer) *AvailabilityMetrics {
	m := &AvailabilityMetrics{
		slotQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidyslot",
			Subsystem: "slots",
			Name:      "queries_total",
			Help:      "Slot queries by outcome (ok, empty, degraded, invalid, not_found, error)",
		}, []string{"outcome"}),
		slotLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tidyslot",
			Subsystem: "slots",
			Name:      "compute_seconds",
			Help:      "Latency of slot computation including busy interval fetches",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidyslot",
			Subsystem: "bookings",
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome (confirmed, conflict, degraded, invalid, error)",
		}, []string{"outcome"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidyslot",
			Subsystem: "bookings",
			Name:      "cancellations_total",
			Help:      "Cancellation requests by outcome (cancelled, already_cancelled, rejected, error)",
		}, []string{"outcome"}),
		externalFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidyslot",
			Subsystem: "calendar",
			Name:      "fetch_total",
			Help:      "External busy interval fetches by source and result",
		}, []string{"source", "result"}),
		externalCached: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidyslot",
			Subsystem: "calendar",
			Name:      "cache_total",
			Help:      "External busy interval cache lookups by result (hit, miss, error)",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.slotQueries, m.slotLatency, m.reservations, m.cancellations, m.externalFetch, m.externalCached)
	return m
}

func (m *AvailabilityMetrics) ObserveSlotQuery(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.slotQueries.WithLabelValues(outcome).Inc()
	m.slotLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *AvailabilityMetrics) ObserveReservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

func (m *AvailabilityMetrics) ObserveCancellation(outcome string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(outcome).Inc()
}

func (m *AvailabilityMetrics) ObserveExternalFetch(source, result string) {
	if m == nil {
		return
	}
	m.externalFetch.WithLabelValues(source, result).Inc()
}

func (m *AvailabilityMetrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.externalCached.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the reservation engine.
// A nil receiver is a no-op so wiring metrics stays optional.
type BookingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	promotionsTotal  prometheus.Counter
	reserveSeconds   prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "engine",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "engine",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by action and outcome",
		}, []string{"action", "outcome"}),
		promotionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "engine",
			Name:      "waitlist_promotions_total",
			Help:      "Waitlist entries promoted to notified",
		}),
		reserveSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "engine",
			Name:      "reserve_seconds",
			Help:      "Time spent holding the provider lock for a reservation",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.transitionsTotal, m.promotionsTotal, m.reserveSeconds)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *BookingMetrics) ObservePromotion() {
	if m == nil {
		return
	}
	m.promotionsTotal.Inc()
}

func (m *BookingMetrics) ObserveReserveDuration(seconds float64) {
	if m == nil {
		return
	}
	m.reserveSeconds.Observe(seconds)
}

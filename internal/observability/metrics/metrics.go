package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking and
// payment-reconciliation flows.
type BookingMetrics struct {
	bookingsTotal  *prometheus.CounterVec
	webhooksTotal  *prometheus.CounterVec
	sweptTotal     prometheus.Counter
	webhookLatency *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Total booking attempts by outcome",
		}, []string{"outcome"}),
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "payments",
			Name:      "webhook_events_total",
			Help:      "Total payment provider webhook events",
		}, []string{"event_type", "status"}),
		sweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telecare",
			Subsystem: "booking",
			Name:      "swept_unpaid_total",
			Help:      "Total unpaid appointments canceled by the expiry sweep",
		}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telecare",
			Subsystem: "payments",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook event processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.webhooksTotal, m.sweptTotal, m.webhookLatency)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveWebhook(eventType, status string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(eventType, status).Inc()
}

func (m *BookingMetrics) ObserveSwept(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sweptTotal.Add(float64(count))
}

func (m *BookingMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

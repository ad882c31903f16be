package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics exposes counters/histograms for gateway webhook ingestion.
type WebhookMetrics struct {
	inboundTotal   *prometheus.CounterVec
	statusTotal    *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicconnect",
			Subsystem: "webhook",
			Name:      "inbound_total",
			Help:      "Total inbound message webhooks",
		}, []string{"status"}),
		statusTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicconnect",
			Subsystem: "webhook",
			Name:      "status_callback_total",
			Help:      "Total delivery status callbacks",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicconnect",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.statusTotal, m.webhookLatency)
	return m
}

func (m *WebhookMetrics) ObserveInbound(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *WebhookMetrics) ObserveStatusCallback(status string) {
	if m == nil {
		return
	}
	m.statusTotal.WithLabelValues(status).Inc()
}

func (m *WebhookMetrics) ObserveLatency(endpoint string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(endpoint).Observe(seconds)
}

// ReminderMetrics tracks the appointment reminder pipeline.
type ReminderMetrics struct {
	scheduledTotal  *prometheus.CounterVec
	firedTotal      *prometheus.CounterVec
	dispatchLatency prometheus.Histogram
}

func NewReminderMetrics(reg prometheus.Registerer) *ReminderMetrics {
	m := &ReminderMetrics{
		scheduledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicconnect",
			Subsystem: "reminders",
			Name:      "scheduled_total",
			Help:      "Reminder jobs scheduled, by horizon",
		}, []string{"horizon"}),
		firedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicconnect",
			Subsystem: "reminders",
			Name:      "fired_total",
			Help:      "Reminder jobs fired, by outcome",
		}, []string{"outcome"}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinicconnect",
			Subsystem: "reminders",
			Name:      "dispatch_lag_seconds",
			Help:      "Lag between a job coming due and being dispatched",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.scheduledTotal, m.firedTotal, m.dispatchLatency)
	return m
}

func (m *ReminderMetrics) ObserveScheduled(horizon string) {
	if m == nil {
		return
	}
	m.scheduledTotal.WithLabelValues(horizon).Inc()
}

func (m *ReminderMetrics) ObserveFired(outcome string) {
	if m == nil {
		return
	}
	m.firedTotal.WithLabelValues(outcome).Inc()
}

func (m *ReminderMetrics) ObserveDispatchLag(seconds float64) {
	if m == nil {
		return
	}
	m.dispatchLatency.Observe(seconds)
}

// TokenMetrics tracks OAuth token refresh outcomes.
type TokenMetrics struct {
	refreshTotal *prometheus.CounterVec
}

func NewTokenMetrics(reg prometheus.Registerer) *TokenMetrics {
	m := &TokenMetrics{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicconnect",
			Subsystem: "credentials",
			Name:      "refresh_total",
			Help:      "Token refresh attempts, by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.refreshTotal)
	return m
}

func (m *TokenMetrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
}

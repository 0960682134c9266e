package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus series exported by the chat service.
// Components accept a nil *Metrics and skip recording in that case.
type Metrics struct {
	ChatTurns          *prometheus.CounterVec
	RateLimitDecisions *prometheus.CounterVec
	Enrichment         *prometheus.CounterVec
	StreamDuration     prometheus.Histogram
	ClientDisconnects  prometheus.Counter
	WebhookDeliveries  *prometheus.CounterVec
}

// New registers every series against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChatTurns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parrit",
			Name:      "chat_turns_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		RateLimitDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parrit",
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limiter decisions (allowed, denied, fail_open).",
		}, []string{"decision"}),
		Enrichment: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parrit",
			Name:      "enrichment_total",
			Help:      "Prompt enrichments by mode (cold, warm, degraded).",
		}, []string{"mode"}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parrit",
			Name:      "stream_duration_seconds",
			Help:      "Time spent relaying one upstream completion stream.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		ClientDisconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "parrit",
			Name:      "stream_client_disconnects_total",
			Help:      "Streams where the client went away before the upstream finished.",
		}),
		WebhookDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parrit",
			Name:      "webhook_deliveries_total",
			Help:      "Outbound webhook attempts by event and status (ok, error, dropped).",
		}, []string{"event", "status"}),
	}
}

func (m *Metrics) ChatTurn(outcome string) {
	if m == nil {
		return
	}
	m.ChatTurns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RateLimitDecision(decision string) {
	if m == nil {
		return
	}
	m.RateLimitDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) EnrichmentMode(mode string) {
	if m == nil {
		return
	}
	m.Enrichment.WithLabelValues(mode).Inc()
}

func (m *Metrics) StreamFinished(seconds float64, clientGone bool) {
	if m == nil {
		return
	}
	m.StreamDuration.Observe(seconds)
	if clientGone {
		m.ClientDisconnects.Inc()
	}
}

func (m *Metrics) WebhookDelivery(event, status string) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(event, status).Inc()
}

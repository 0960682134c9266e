package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ChatTurn("ok")
	m.ChatTurn("ok")
	m.RateLimitDecision("fail_open")
	m.WebhookDelivery("conversation_qualified", "error")
	m.StreamFinished(1.5, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChatTurns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("fail_open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("conversation_qualified", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientDisconnects))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["parrit_chat_turns_total"])
	assert.True(t, names["parrit_stream_duration_seconds"])
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ChatTurn("ok")
		m.RateLimitDecision("allowed")
		m.EnrichmentMode("cold")
		m.StreamFinished(1, false)
		m.WebhookDelivery("x", "ok")
	})
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.InviteIssued()
		m.InviteRejected("expired")
		m.SignalDropped("stale")
		m.ConnTransition("CONNECTED")
		m.SetActiveConns(1)
		m.Heartbeat()
		m.LogSent(10)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Counters(t *testing.T) {
	m := New("test")

	m.InviteIssued()
	m.InviteIssued()
	m.InviteRejected("expired")
	m.SignalSent("offer")
	m.LogRecv(42)

	body := scrape(t, m)
	assert.Contains(t, body, "test_invite_issued_total 2")
	assert.Contains(t, body, `test_invite_rejected_total{reason="expired"} 1`)
	assert.Contains(t, body, `test_signaling_sent_total{type="offer"} 1`)
	assert.Contains(t, body, "test_datachannel_received_bytes_total 42")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_Handler(t *testing.T) {
	m := New("test")
	m.Heartbeat()

	assert.True(t, strings.Contains(scrape(t, m), "test_presence_heartbeats_total 1"))
}

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveSendAttempt("OK", 20*time.Millisecond)
	m.ObserveSendAttempt("error", time.Second)
	m.ObserveSendAttempt("error", time.Second)
	m.IncDelivery("submission", "delivered")
	m.IncThrottled("exceeded")
	m.IncDispatchFire("skipped_same_day")

	assert.InDelta(t, 1, testutil.ToFloat64(m.sendAttempts.WithLabelValues("ok")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.sendAttempts.WithLabelValues("error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.deliveries.WithLabelValues("submission", "delivered")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.throttled.WithLabelValues("exceeded")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.dispatchFires.WithLabelValues("skipped_same_day")), 0)
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSendAttempt("ok", time.Millisecond)
		m.IncDelivery("daily", "delivered")
		m.IncThrottled("banned")
		m.IncDispatchFire("sent")
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposition(t *testing.T) {
	t.Parallel()

	m := New()
	m.IncThrottled("banned")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `relay_throttled_total{reason="banned"} 1`)
}

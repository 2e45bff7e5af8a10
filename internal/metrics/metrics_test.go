package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("sentinel")

	m.ObserveRedaction("EMAIL", 2)
	m.ObserveRedaction("EMAIL", 1)
	m.ObserveUpstream("token", false)
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Redactions.WithLabelValues("EMAIL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamCalls.WithLabelValues("token", "failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TokenCache.WithLabelValues("miss")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New("sentinel")
	m.ObserveHTTP("/api/v1/sanitize", "200", 3*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sentinel_http_requests_total{code="200",route="/api/v1/sanitize"} 1`)
}

func TestMetrics_SubMillisecondLatency(t *testing.T) {
	m := New("sentinel")
	m.ObserveHTTP("/health", "200", 250*time.Microsecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Contains(t, rec.Body.String(), `sentinel_http_request_duration_ms_sum{route="/health"} 0.25`)
	assert.Contains(t, rec.Body.String(), `sentinel_http_request_duration_ms_bucket{route="/health",le="1"} 1`)
}

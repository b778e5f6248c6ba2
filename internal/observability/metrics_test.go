package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
)

func collectNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]bool {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestMetrics_RecordsInstruments(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(ctx)

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	m.HTTPRequestStarted(ctx)
	m.HTTPRequestFinished(ctx, "GET", "/:code", 302, 0.01)
	m.Shorten(ctx, "created")
	m.Redirect(ctx, "found")
	m.RateLimitDecision(ctx, false)
	m.AllocationExhausted(ctx)
	m.AllocationCollision(ctx)
	m.ClickDropped(ctx, "timeout")
	m.CacheLookup(ctx, "hit")

	names := collectNames(t, reader)
	for _, want := range []string{
		"http_requests_total",
		"http_request_duration_seconds",
		"http_inflight_requests",
		"shortlink_shorten_total",
		"shortlink_redirect_total",
		"shortlink_ratelimit_decisions_total",
		"shortlink_allocation_exhausted_total",
		"shortlink_allocation_collisions_total",
		"shortlink_clicks_dropped_total",
		"shortlink_cache_lookups_total",
	} {
		assert.True(t, names[want], "expected instrument %s to be collected", want)
	}
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.HTTPRequestStarted(ctx)
		m.HTTPRequestFinished(ctx, "GET", "/", 200, 0)
		m.Shorten(ctx, "created")
		m.Redirect(ctx, "found")
		m.RateLimitDecision(ctx, true)
		m.AllocationExhausted(ctx)
		m.AllocationCollision(ctx)
		m.ClickDropped(ctx, "error")
		m.CacheLookup(ctx, "miss")
	})
}

func TestMetricsHandler_ExposesPrometheusFormat(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()

	mp, err := NewMeterProvider(resource.Default(), reg)
	require.NoError(t, err)
	defer mp.Shutdown(ctx)

	m, err := NewMetrics(mp.Meter(meterName))
	require.NoError(t, err)
	m.Shorten(ctx, "created")

	rec := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), "shortlink_shorten_total"), "expected shorten counter in exposition")
	assert.True(t, strings.Contains(string(body), "go_goroutines"), "expected runtime collector in exposition")
}

package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/zhejian/url-shortener/shortlink"

// NewMeterProvider creates a MeterProvider whose readings are exposed through
// the given Prometheus registry.
func NewMeterProvider(res *resource.Resource, reg *prometheus.Registry) (*sdkmetric.MeterProvider, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return mp, nil
}

// NewRegistry returns a registry preloaded with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds the service's instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	httpRequests        metric.Int64Counter
	httpDuration        metric.Float64Histogram
	httpInFlight        metric.Int64UpDownCounter
	shortens            metric.Int64Counter
	redirects           metric.Int64Counter
	rateLimitDecisions  metric.Int64Counter
	allocationExhausted metric.Int64Counter
	allocationRetries   metric.Int64Counter
	clicksDropped       metric.Int64Counter
	cacheLookups        metric.Int64Counter
}

// NewMetrics registers all instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.httpRequests, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests processed")); err != nil {
		return nil, err
	}
	if m.httpDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latencies in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.httpInFlight, err = meter.Int64UpDownCounter("http_inflight_requests",
		metric.WithDescription("Number of HTTP requests currently being served")); err != nil {
		return nil, err
	}
	if m.shortens, err = meter.Int64Counter("shortlink_shorten_total",
		metric.WithDescription("Shorten attempts by outcome")); err != nil {
		return nil, err
	}
	if m.redirects, err = meter.Int64Counter("shortlink_redirect_total",
		metric.WithDescription("Redirect resolutions by outcome")); err != nil {
		return nil, err
	}
	if m.rateLimitDecisions, err = meter.Int64Counter("shortlink_ratelimit_decisions_total",
		metric.WithDescription("Admission decisions by result")); err != nil {
		return nil, err
	}
	if m.allocationExhausted, err = meter.Int64Counter("shortlink_allocation_exhausted_total",
		metric.WithDescription("Code allocations that ran out of retries")); err != nil {
		return nil, err
	}
	if m.allocationRetries, err = meter.Int64Counter("shortlink_allocation_collisions_total",
		metric.WithDescription("Candidate codes rejected because they already existed")); err != nil {
		return nil, err
	}
	if m.clicksDropped, err = meter.Int64Counter("shortlink_clicks_dropped_total",
		metric.WithDescription("Click increments abandoned after a failure")); err != nil {
		return nil, err
	}
	if m.cacheLookups, err = meter.Int64Counter("shortlink_cache_lookups_total",
		metric.WithDescription("Link cache lookups by result")); err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *Metrics) HTTPRequestStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.httpInFlight.Add(ctx, 1)
}

func (m *Metrics) HTTPRequestFinished(ctx context.Context, method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.httpInFlight.Add(ctx, -1)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, seconds, attrs)
}

func (m *Metrics) Shorten(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.shortens.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) Redirect(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.redirects.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RateLimitDecision(ctx context.Context, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) AllocationExhausted(ctx context.Context) {
	if m == nil {
		return
	}
	m.allocationExhausted.Add(ctx, 1)
}

func (m *Metrics) AllocationCollision(ctx context.Context) {
	if m == nil {
		return
	}
	m.allocationRetries.Add(ctx, 1)
}

func (m *Metrics) ClickDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.clicksDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) CacheLookup(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

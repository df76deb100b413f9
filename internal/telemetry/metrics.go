package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/wolfeidau/bundlecfg"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Composition metrics
	CompositionsTotal        metric.Int64Counter
	CompositionFailuresTotal metric.Int64Counter

	// Build metrics
	BuildDuration      metric.Float64Histogram
	BuildFailuresTotal metric.Int64Counter

	// Dev server metrics
	ProxyRequestsTotal metric.Int64Counter
	ProxyErrorsTotal   metric.Int64Counter
	ProxyReloadsTotal  metric.Int64Counter

	// CDN checker metrics
	CDNChecksTotal        metric.Int64Counter
	CDNCheckFailuresTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// Tracer returns the tracer used for compose and build spans.
func Tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(instrumentationName)
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	m := &Metrics{}

	m.CompositionsTotal, _ = meter.Int64Counter(
		"bundlecfg.compositions.total",
		metric.WithDescription("Total number of configurations composed"),
		metric.WithUnit("{composition}"),
	)

	m.CompositionFailuresTotal, _ = meter.Int64Counter(
		"bundlecfg.compositions.failures.total",
		metric.WithDescription("Total number of compositions rejected as inconsistent"),
		metric.WithUnit("{composition}"),
	)

	m.BuildDuration, _ = meter.Float64Histogram(
		"bundlecfg.build.duration",
		metric.WithDescription("Duration of bundler runs"),
		metric.WithUnit("ms"),
	)

	m.BuildFailuresTotal, _ = meter.Int64Counter(
		"bundlecfg.build.failures.total",
		metric.WithDescription("Total number of failed bundler runs"),
		metric.WithUnit("{build}"),
	)

	m.ProxyRequestsTotal, _ = meter.Int64Counter(
		"bundlecfg.devserver.proxy.requests.total",
		metric.WithDescription("Total number of requests forwarded by the dev server proxy"),
		metric.WithUnit("{request}"),
	)

	m.ProxyErrorsTotal, _ = meter.Int64Counter(
		"bundlecfg.devserver.proxy.errors.total",
		metric.WithDescription("Total number of upstream failures seen by the dev server proxy"),
		metric.WithUnit("{error}"),
	)

	m.ProxyReloadsTotal, _ = meter.Int64Counter(
		"bundlecfg.devserver.proxy.reloads.total",
		metric.WithDescription("Total number of proxy table reloads"),
		metric.WithUnit("{reload}"),
	)

	m.CDNChecksTotal, _ = meter.Int64Counter(
		"bundlecfg.cdn.checks.total",
		metric.WithDescription("Total number of CDN asset probes"),
		metric.WithUnit("{check}"),
	)

	m.CDNCheckFailuresTotal, _ = meter.Int64Counter(
		"bundlecfg.cdn.checks.failures.total",
		metric.WithDescription("Total number of CDN assets found unavailable"),
		metric.WithUnit("{check}"),
	)

	return m
}

// Package observe provides application-wide observability primitives for
// the runtime: OpenTelemetry metrics, distributed tracing, structured
// logging, and connection middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all runtime metrics.
const meterName = "github.com/MythologIQ/hearthlink-core"

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-token decode latencies rather than multi-second voice-pipeline calls.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per inference stage ---

	// PrefillDuration tracks the time spent in a single Prefill call.
	PrefillDuration metric.Float64Histogram

	// DecodeStepDuration tracks the time spent in a single DecodeStep call.
	DecodeStepDuration metric.Float64Histogram

	// RequestDuration tracks end-to-end request latency from admission to
	// final response (or final stream chunk).
	RequestDuration metric.Float64Histogram

	// QueueWaitDuration tracks how long a request waited in the queue before
	// a worker picked it up.
	QueueWaitDuration metric.Float64Histogram

	// --- Counters ---

	// TokensGenerated counts decoded tokens. Use with attribute:
	//   attribute.String("model_id", ...)
	TokensGenerated metric.Int64Counter

	// RequestsTotal counts completed requests. Use with attributes:
	//   attribute.String("model_id", ...), attribute.String("status", ...)
	RequestsTotal metric.Int64Counter

	// AuthFailures counts rejected handshakes and session validations. Use
	// with attribute:
	//   attribute.String("reason", ...)
	AuthFailures metric.Int64Counter

	// DedupCacheHits counts non-streaming requests short-circuited by the
	// output cache.
	DedupCacheHits metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of requests currently waiting in the
	// queue.
	QueueDepth metric.Int64UpDownCounter

	// ActiveSessions tracks the number of currently live authenticated
	// sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveGenerations tracks the number of in-flight decode loops across
	// all workers.
	ActiveGenerations metric.Int64UpDownCounter

	// LoadedModels tracks the number of currently loaded model handles.
	LoadedModels metric.Int64UpDownCounter

	// CircuitBreakerState reports a backend's circuit breaker state as 0
	// (closed), 1 (half-open), or 2 (open). Use with attribute:
	//   attribute.String("model_id", ...)
	CircuitBreakerState metric.Int64UpDownCounter

	// --- Connection middleware ---

	// ConnectionDuration tracks how long an accepted connection stays open.
	ConnectionDuration metric.Float64Histogram

	cbMu    sync.Mutex
	cbState map[string]int64
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{cbState: make(map[string]int64)}

	// Histograms.
	if met.PrefillDuration, err = m.Float64Histogram("hearthlink.prefill.duration",
		metric.WithDescription("Latency of a single Prefill call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeStepDuration, err = m.Float64Histogram("hearthlink.decode_step.duration",
		metric.WithDescription("Latency of a single DecodeStep call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RequestDuration, err = m.Float64Histogram("hearthlink.request.duration",
		metric.WithDescription("End-to-end inference request latency."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.QueueWaitDuration, err = m.Float64Histogram("hearthlink.queue.wait_duration",
		metric.WithDescription("Time a request spent waiting in the queue before dispatch."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TokensGenerated, err = m.Int64Counter("hearthlink.tokens.generated",
		metric.WithDescription("Total decoded tokens by model."),
	); err != nil {
		return nil, err
	}
	if met.RequestsTotal, err = m.Int64Counter("hearthlink.requests.total",
		metric.WithDescription("Total completed requests by model and status."),
	); err != nil {
		return nil, err
	}
	if met.AuthFailures, err = m.Int64Counter("hearthlink.auth.failures",
		metric.WithDescription("Total rejected handshakes and session validations by reason."),
	); err != nil {
		return nil, err
	}
	if met.DedupCacheHits, err = m.Int64Counter("hearthlink.dedup_cache.hits",
		metric.WithDescription("Total non-streaming requests short-circuited by the output cache."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("hearthlink.queue.depth",
		metric.WithDescription("Number of requests currently waiting in the queue."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("hearthlink.active_sessions",
		metric.WithDescription("Number of currently live authenticated sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveGenerations, err = m.Int64UpDownCounter("hearthlink.active_generations",
		metric.WithDescription("Number of in-flight decode loops across all workers."),
	); err != nil {
		return nil, err
	}
	if met.LoadedModels, err = m.Int64UpDownCounter("hearthlink.loaded_models",
		metric.WithDescription("Number of currently loaded model handles."),
	); err != nil {
		return nil, err
	}
	if met.CircuitBreakerState, err = m.Int64UpDownCounter("hearthlink.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state by model: 0 closed, 1 half-open, 2 open."),
	); err != nil {
		return nil, err
	}

	// Connection middleware histogram.
	if met.ConnectionDuration, err = m.Float64Histogram("hearthlink.connection.duration",
		metric.WithDescription("Connection lifetime from accept to close."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordRequest is a convenience method that records a completed request
// counter increment with the standard attribute set.
func (m *Metrics) RecordRequest(ctx context.Context, modelID, status string) {
	m.RequestsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model_id", modelID),
			attribute.String("status", status),
		),
	)
}

// RecordTokensGenerated is a convenience method that adds n to the tokens-
// generated counter for modelID.
func (m *Metrics) RecordTokensGenerated(ctx context.Context, modelID string, n int64) {
	m.TokensGenerated.Add(ctx, n,
		metric.WithAttributes(attribute.String("model_id", modelID)),
	)
}

// RecordAuthFailure is a convenience method that records an auth failure
// counter increment with the standard attribute set.
func (m *Metrics) RecordAuthFailure(ctx context.Context, reason string) {
	m.AuthFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordDedupCacheHit is a convenience method that records a dedup cache hit.
func (m *Metrics) RecordDedupCacheHit(ctx context.Context) {
	m.DedupCacheHits.Add(ctx, 1)
}

// RecordCircuitBreakerState reports modelID's circuit breaker state (0
// closed, 1 half-open, 2 open) as an up-down counter, emitting only the
// delta from the last reported value for modelID so the exported gauge
// reflects the current state rather than accumulating.
func (m *Metrics) RecordCircuitBreakerState(ctx context.Context, modelID string, state int64) {
	m.cbMu.Lock()
	prev := m.cbState[modelID]
	m.cbState[modelID] = state
	m.cbMu.Unlock()

	if delta := state - prev; delta != 0 {
		m.CircuitBreakerState.Add(ctx, delta, metric.WithAttributes(attribute.String("model_id", modelID)))
	}
}

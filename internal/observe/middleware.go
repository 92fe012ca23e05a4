package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ServeConn wraps a single accepted connection's lifetime with tracing,
// metrics, and structured logging. next runs the connection's read/dispatch
// loop and should return when the peer disconnects or the context is
// cancelled.
//
// ServeConn:
//
//  1. Starts an OTel span covering the whole connection.
//  2. Runs next with a context carrying that span.
//  3. Records connection duration to [Metrics.ConnectionDuration].
//  4. Logs connection completion with peer, duration, and any error.
//  5. Ends the span, recording the error if non-nil.
func ServeConn(ctx context.Context, m *Metrics, peer string, next func(ctx context.Context) error) error {
	start := time.Now()

	ctx, span := StartSpan(ctx, "conn.serve",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("peer", peer)),
	)
	defer span.End()

	err := next(ctx)

	duration := time.Since(start)
	m.ConnectionDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("peer", peer)),
	)

	logAttrs := []slog.Attr{
		slog.String("trace_id", CorrelationID(ctx)),
		slog.String("peer", peer),
		slog.Duration("duration", duration),
	}
	if err != nil {
		span.RecordError(err)
		logAttrs = append(logAttrs, slog.String("error", err.Error()))
		slog.LogAttrs(ctx, slog.LevelWarn, "connection closed with error", logAttrs...)
	} else {
		slog.LogAttrs(ctx, slog.LevelInfo, "connection closed", logAttrs...)
	}

	return err
}

package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// diagnosticsEndpoints are the paths served by the diagnostics listener.
// Anything else is recorded as "other" to keep metric cardinality fixed.
var diagnosticsEndpoints = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

func endpointName(path string) string {
	if diagnosticsEndpoints[path] {
		return path
	}
	return "other"
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the diagnostics listener. Each request gets a
// "diagnostics <endpoint>" server span and an observation on
// [Metrics.HTTPRequestDuration] labelled by endpoint and status. A failing
// probe (5xx, typically /readyz while an engine loads or after it failed) is
// logged at warn level, everything else at debug.
//
// The listener is bound to loopback and scraped by local tools, so no
// incoming trace context is extracted.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			endpoint := endpointName(r.URL.Path)

			ctx, span := StartSpan(r.Context(), "diagnostics "+endpoint,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("endpoint", endpoint),
					attribute.String("status", strconv.Itoa(rec.statusCode)),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

			level, msg := slog.LevelDebug, "diagnostics probe"
			if rec.statusCode >= http.StatusInternalServerError {
				level, msg = slog.LevelWarn, "diagnostics probe failing"
			}
			Logger(ctx).LogAttrs(ctx, level, msg,
				slog.String("endpoint", endpoint),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			)
		})
	}
}

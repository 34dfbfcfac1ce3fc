package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const requestContextKey = "warden.request_context"

var propagator = propagation.TraceContext{}

// RequestContext returns the context carrying the server span opened by
// MetricsMiddleware. Handlers pass it to the engine so engine, backend and
// parser spans join the request trace.
func RequestContext(c *okapi.Context) context.Context {
	if v, ok := c.Get(requestContextKey); ok {
		if ctx, ok := v.(context.Context); ok {
			return ctx
		}
	}
	return c.Context()
}

// MetricsMiddleware records request counts and latency for the gateway and
// opens a server span per request, continuing an incoming traceparent.
// Either argument may be nil.
func MetricsMiddleware(metrics *MetricsCollector, tracer trace.Tracer) okapi.Middleware {
	return func(next okapi.HandlerFunc) okapi.HandlerFunc {
		return func(c *okapi.Context) error {
			r := c.Request()

			var span trace.Span
			if tracer != nil {
				var ctx context.Context
				parent := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
				ctx, span = tracer.Start(parent, r.Method+" "+r.URL.Path,
					trace.WithSpanKind(trace.SpanKindServer),
					trace.WithAttributes(
						semconv.HTTPRequestMethodKey.String(r.Method),
						semconv.URLPath(r.URL.Path),
					))
				defer span.End()
				c.Set(requestContextKey, ctx)
			}

			if metrics != nil {
				metrics.ActiveRequests.Inc()
				defer metrics.ActiveRequests.Dec()
			}

			start := time.Now()
			err := next(c)
			duration := time.Since(start).Seconds()

			code := c.Response().StatusCode()
			if code == 0 {
				code = http.StatusOK
			}
			if span != nil {
				span.SetAttributes(semconv.HTTPResponseStatusCode(code))
				if err != nil {
					span.RecordError(err)
				}
				if code >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, http.StatusText(code))
				}
			}
			if metrics != nil {
				metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, statusCode(code)).Inc()
				metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			}
			return err
		}
	}
}

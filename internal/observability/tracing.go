package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jkaninda/warden/internal/config"
)

// Span attribute keys shared by the gateway middleware and the wrappers.
const (
	AttrAction           = attribute.Key("warden.action")
	AttrCaller           = attribute.Key("warden.caller")
	AttrHasToken         = attribute.Key("warden.has_token")
	AttrStatus           = attribute.Key("warden.status")
	AttrReason           = attribute.Key("warden.reason")
	AttrBackendOperation = attribute.Key("warden.backend.operation")
	AttrBackendDriver    = attribute.Key("warden.backend.driver")
	AttrConfirmation     = attribute.Key("warden.confirmation.backend")
	AttrStorageDriver    = attribute.Key("warden.storage.driver")
)

// Deployment describes the running instance. It is attached to every span
// as resource attributes; empty fields are omitted.
type Deployment struct {
	Version             string
	BackendDriver       string
	ConfirmationBackend string
	StorageDriver       string
}

func (d Deployment) attributes(serviceName string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if d.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(d.Version))
	}
	for k, v := range map[attribute.Key]string{
		AttrBackendDriver: d.BackendDriver,
		AttrConfirmation:  d.ConfirmationBackend,
		AttrStorageDriver: d.StorageDriver,
	} {
		if v != "" {
			attrs = append(attrs, k.String(v))
		}
	}
	return attrs
}

// TracerSetup owns a TracerProvider. It is not installed as the global
// provider; wrappers and the gateway receive it explicitly.
type TracerSetup struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerSetup returns nil when tracing is disabled.
func NewTracerSetup(cfg *config.TracingConfig, dep Deployment) (*TracerSetup, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	ctx := context.Background()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "warden"
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(dep.attributes(serviceName)...),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate(cfg.SampleRate)))),
	)
	return &TracerSetup{provider: tp, tracer: tp.Tracer("github.com/jkaninda/warden")}, nil
}

func newExporter(ctx context.Context, cfg *config.TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.Protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// sampleRate clamps to (0, 1]; zero or negative means sample everything.
func sampleRate(r float64) float64 {
	if r <= 0 || r > 1 {
		return 1
	}
	return r
}

// Tracer returns a no-op tracer on a nil setup.
func (t *TracerSetup) Tracer() trace.Tracer {
	if t == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return t.tracer
}

// Shutdown flushes pending spans.
func (t *TracerSetup) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

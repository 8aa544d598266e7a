package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hupe1980/agentrun/logging"
)

// scopeName identifies the instrumentation scope of all spans produced here.
const scopeName = "github.com/hupe1980/agentrun"

// DefaultFlushTimeout bounds Flush and Shutdown so process exit is never
// blocked indefinitely on telemetry delivery.
const DefaultFlushTimeout = 5 * time.Second

// Options configure Start.
type Options struct {
	// ServiceName names the emitting application in the resource.
	ServiceName string
	// ServiceVersion is recorded alongside the service name.
	ServiceVersion string
	// Endpoint is the OTLP gRPC target. Empty selects a stdout exporter.
	Endpoint string
	// Headers are static headers attached to every OTLP export request.
	Headers map[string]string
	// Insecure disables transport security for the OTLP connection.
	Insecure bool
	// FlushTimeout bounds Flush/Shutdown waits.
	FlushTimeout time.Duration
	// Logger receives export failure diagnostics.
	Logger logging.Logger
	// Exporter overrides exporter construction. Used by tests to observe
	// delivered spans.
	Exporter sdktrace.SpanExporter
}

// Handle owns the tracer provider for a process run. The zero value and nil
// are safe: all operations become no-ops.
type Handle struct {
	tp           *sdktrace.TracerProvider
	tracer       trace.Tracer
	logger       logging.Logger
	flushTimeout time.Duration
	shutdownOnce sync.Once
}

// Start builds the trace exporter and tracer provider and registers the
// provider globally. The returned Handle must be flushed or shut down before
// process exit for buffered spans to be delivered.
func Start(optFns ...func(o *Options)) (*Handle, error) {
	opts := Options{
		ServiceName:    "agentrun",
		ServiceVersion: "0.1.0",
		FlushTimeout:   DefaultFlushTimeout,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.ServiceVersionKey.String(opts.ServiceVersion),
			attribute.Bool(KeyAIEnabled, true),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter := opts.Exporter
	if exporter == nil {
		exporter, err = newExporter(opts)
		if err != nil {
			return nil, fmt.Errorf("create exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Handle{
		tp:           tp,
		tracer:       tp.Tracer(scopeName),
		logger:       opts.Logger,
		flushTimeout: opts.FlushTimeout,
	}, nil
}

func newExporter(opts Options) (sdktrace.SpanExporter, error) {
	if opts.Endpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}

	grpcOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(opts.Endpoint),
	}
	if len(opts.Headers) > 0 {
		grpcOpts = append(grpcOpts, otlptracegrpc.WithHeaders(opts.Headers))
	}
	if opts.Insecure {
		grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
	}

	return otlptracegrpc.New(context.Background(), grpcOpts...)
}

// Tracer returns the tracer for session spans. Safe on a nil Handle.
func (h *Handle) Tracer() trace.Tracer {
	if h == nil || h.tracer == nil {
		return noop.Tracer{}
	}
	return h.tracer
}

// Flush forces delivery of buffered spans. The wait is bounded by the
// configured flush timeout. Export failures are logged and swallowed; calling
// Flush multiple times never errors and never re-delivers exported spans.
func (h *Handle) Flush(ctx context.Context) error {
	if h == nil || h.tp == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.flushTimeout)
	defer cancel()

	if err := h.tp.ForceFlush(ctx); err != nil {
		h.logger.Warn("telemetry flush failed", "error", err.Error())
	}

	return nil
}

// Shutdown flushes and releases the tracer provider. Subsequent calls are
// no-ops. Like Flush, delivery failures are best-effort and never propagate.
func (h *Handle) Shutdown(ctx context.Context) error {
	if h == nil || h.tp == nil {
		return nil
	}

	h.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, h.flushTimeout)
		defer cancel()

		if err := h.tp.Shutdown(ctx); err != nil {
			h.logger.Warn("telemetry shutdown failed", "error", err.Error())
		}
	})

	return nil
}

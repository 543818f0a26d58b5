package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/darthpelo/photo-open-call-analyzer-sub000"

// Providers is what one analyze run needs for telemetry.
type Providers struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger *slog.Logger

	// MetricsHandler is nil unless ExportConfig.Prometheus is set.
	MetricsHandler http.Handler

	// Shutdown flushes pending telemetry. It is safe to call more than once.
	Shutdown func(ctx context.Context) error
}

// Init installs the global tracer and meter providers and builds the run
// logger. Without an OTLP endpoint or Prometheus both providers are no-ops.
func Init(cfg Config) (Providers, error) {
	ctx := context.Background()

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttrs(cfg)...))
	if err != nil {
		return Providers{}, fmt.Errorf("build otel resource: %w", err)
	}

	var flush shutdownStack

	tp, err := newTracerProvider(ctx, cfg.Export, res, &flush)
	if err != nil {
		return Providers{}, err
	}

	mp, metricsHandler, err := newMeterProvider(ctx, cfg.Export, res, &flush)
	if err != nil {
		return Providers{}, errors.Join(err, flush.run(ctx))
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	return Providers{
		Tracer:         tp.Tracer(instrumentationName),
		Meter:          mp.Meter(instrumentationName),
		Logger:         NewLogger(cfg.Log, cfg.Environment, cfg.Mode),
		MetricsHandler: metricsHandler,
		Shutdown: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			return flush.run(ctx)
		},
	}, nil
}

// NewLogger returns a slog logger that stamps every record with the service,
// environment, mode, run id and active span.
func NewLogger(cfg LogConfig, env string, mode AppMode) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}

	var inner slog.Handler = slog.NewTextHandler(out, opts)
	if cfg.JSON {
		inner = slog.NewJSONHandler(out, opts)
	}

	return slog.New(NewTracingHandler(inner, ServiceName, env, mode))
}

func resourceAttrs(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(ServiceName),
		attribute.String("app.mode", string(cfg.Mode)),
	}

	if cfg.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.Version))
	}

	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}

	return attrs
}

// shutdownStack runs provider shutdowns in reverse creation order, once.
type shutdownStack struct {
	fns []func(context.Context) error
}

func (s *shutdownStack) push(fn func(context.Context) error) {
	s.fns = append(s.fns, fn)
}

func (s *shutdownStack) run(ctx context.Context) error {
	var errs []error

	for i := len(s.fns) - 1; i >= 0; i-- {
		errs = append(errs, s.fns[i](ctx))
	}

	s.fns = nil

	return errors.Join(errs...)
}

func newTracerProvider(
	ctx context.Context, cfg ExportConfig, res *resource.Resource, flush *shutdownStack,
) (trace.TracerProvider, error) {
	if cfg.OTLPEndpoint == "" {
		return nooptrace.NewTracerProvider(), nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	if len(cfg.OTLPHeaders) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.OTLPHeaders))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithBatcher(exporter), sdktrace.WithResource(res)}

	// Without WithSampler the SDK reads OTEL_TRACES_SAMPLER.
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		tpOpts = append(tpOpts, sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	flush.push(tp.Shutdown)

	return tp, nil
}

func newMeterProvider(
	ctx context.Context, cfg ExportConfig, res *resource.Resource, flush *shutdownStack,
) (metric.MeterProvider, http.Handler, error) {
	var (
		readers []sdkmetric.Reader
		handler http.Handler
	)

	if cfg.Prometheus {
		reader, promHandler, err := NewPrometheusReader()
		if err != nil {
			return nil, nil, err
		}

		readers = append(readers, reader)
		handler = promHandler
	}

	if cfg.OTLPEndpoint != "" {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}

		if len(cfg.OTLPHeaders) > 0 {
			opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.OTLPHeaders))
		}

		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create metric exporter: %w", err)
		}

		readers = append(readers, sdkmetric.NewPeriodicReader(exporter))
	}

	if len(readers) == 0 {
		return noopmetric.NewMeterProvider(), nil, nil
	}

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, reader := range readers {
		mpOpts = append(mpOpts, sdkmetric.WithReader(reader))
	}

	mp := sdkmetric.NewMeterProvider(mpOpts...)
	flush.push(mp.Shutdown)

	return mp, handler, nil
}

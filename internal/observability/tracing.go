package observability

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/satlink/internal/logging"
)

const (
	tracerName       = "github.com/signalsfoundry/satlink"
	tracingEnvPrefix = "SATLINK_TRACING_"
	defaultOTLP      = "localhost:4317"
)

// Resource attribute keys attached to every span a tier exports.
const (
	AttrServiceName      = attribute.Key("service.name")
	AttrServiceNamespace = attribute.Key("service.namespace")
	AttrServiceVersion   = attribute.Key("service.version")
	AttrServiceInstance  = attribute.Key("service.instance.id")
	AttrTier             = attribute.Key("satlink.tier")
)

// TracingConfig governs how tracing is initialised for one tier process.
type TracingConfig struct {
	Enabled bool
	// Tier is satellite, ground or monitoring.
	Tier        string
	ServiceName string
	Version     string
	InstanceID  string
	Exporter    string // stdout | otlp
	Endpoint    string // otlp collector, host:port
	SampleRatio float64
}

// TracingConfigFromEnv builds the configuration for tier from the
// SATLINK_TRACING_* variables and SATLINK_OTLP_ENDPOINT.
func TracingConfigFromEnv(tier string) TracingConfig {
	env := func(name string) string { return strings.TrimSpace(os.Getenv(tracingEnvPrefix + name)) }

	cfg := TracingConfig{
		Enabled:     strings.EqualFold(env("ENABLED"), "true"),
		Tier:        tier,
		ServiceName: env("SERVICE_NAME"),
		Version:     env("VERSION"),
		InstanceID:  env("INSTANCE_ID"),
		Exporter:    strings.ToLower(env("EXPORTER")),
		Endpoint:    strings.TrimSpace(os.Getenv("SATLINK_OTLP_ENDPOINT")),
		SampleRatio: 1.0,
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "satlink"
		if tier != "" {
			cfg.ServiceName += "-" + tier
		}
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = instanceID()
	}
	if cfg.Exporter == "" {
		cfg.Exporter = "stdout"
	}
	if raw := env("SAMPLE_RATIO"); raw != "" {
		if r, err := strconv.ParseFloat(raw, 64); err == nil && r >= 0 && r <= 1 {
			cfg.SampleRatio = r
		}
	}
	return cfg
}

func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return uuid.NewString()
}

// TracingResource describes the exporting tier.
func TracingResource(ctx context.Context, cfg TracingConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		AttrServiceName.String(cfg.ServiceName),
		AttrServiceNamespace.String("satlink"),
		AttrServiceVersion.String(cfg.Version),
		AttrServiceInstance.String(cfg.InstanceID),
	}
	if cfg.Tier != "" {
		attrs = append(attrs, AttrTier.String(cfg.Tier))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...), resource.WithHost())
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}
	return res, nil
}

// NewTracerProvider batches spans from the tier into exp, sampling root
// spans at cfg.SampleRatio and following the parent otherwise.
func NewTracerProvider(ctx context.Context, cfg TracingConfig, exp sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	res, err := TracingResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}

// InitTracing installs the global tracer provider and propagators for a
// tier. The returned function flushes and stops the exporter.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	log = logging.OrNoop(log)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled", logging.String("tier", cfg.Tier))
		return func(context.Context) error { return nil }, nil
	}

	exp, err := exporterFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tp, err := NewTracerProvider(ctx, cfg, exp)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("tier", cfg.Tier),
		logging.String("service_name", cfg.ServiceName),
		logging.String("instance", cfg.InstanceID),
		logging.String("exporter", cfg.Exporter),
		logging.Any("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func exporterFromConfig(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithoutTimestamps())
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLP
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// ShutdownWithTimeout runs shutdown with a 5s bound and logs a failure.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logging.OrNoop(log).Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}

// StartSpan starts a span on the global tracer provider. Callers must End the
// returned span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

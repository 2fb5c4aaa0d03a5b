// Package observability bootstraps logging, tracing and metrics for the
// pipeline and offers scoped helpers built on top of them.
//
// Initialize must run before anything asks for the logger or tracer;
// the engine and the CLI both do this on startup. All three signals
// share one configuration so a deployment toggles them in one place.
package observability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	tracer   trace.Tracer
	meter    metric.Meter
	logger   *zap.Logger
	initOnce sync.Once
)

// TracingConfig controls span export and sampling.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRate   float64
	ExporterType   string // "stdout" is the only exporter wired in today
	ExporterURL    string
	BatchTimeout   time.Duration
	MaxExportBatch int
	MaxQueueSize   int
}

// MetricsConfig controls the Prometheus collectors and the optional
// Pushgateway loop.
type MetricsConfig struct {
	Namespace       string
	Subsystem       string
	PrometheusPush  bool
	PushGateway     string
	PushInterval    time.Duration
	HistogramBounds []float64
}

// LoggingConfig controls construction of the zap logger.
type LoggingConfig struct {
	Level       zapcore.Level
	Format      string // "json" or "console"
	OutputPaths []string
	ErrorPaths  []string
	Sampling    *zap.SamplingConfig
	Development bool
}

// ObservabilityConfig bundles the three signal configurations.
type ObservabilityConfig struct {
	Tracing TracingConfig
	Metrics MetricsConfig
	Logging LoggingConfig
}

// Initialize sets up tracing, metrics and logging exactly once per
// process. Calls after the first are no-ops returning nil.
func Initialize(config ObservabilityConfig) error {
	var err error
	initOnce.Do(func() {
		err = setup(config)
	})
	return err
}

func setup(config ObservabilityConfig) error {
	if err := setupTracing(config.Tracing); err != nil {
		return err
	}
	if err := setupMetrics(config.Metrics); err != nil {
		return err
	}
	if err := setupLogging(config.Logging); err != nil {
		return err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func setupTracing(config TracingConfig) error {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	// Only the stdout exporter is wired in. ExporterType stays in the
	// config so an OTLP endpoint can slot in without an API change.
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(config.SamplingRate)),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(config.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(config.MaxExportBatch),
			sdktrace.WithMaxQueueSize(config.MaxQueueSize),
		),
	)
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(config.ServiceName)
	return nil
}

// samplerFor clamps rate into never and always sampling at the ends.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.NeverSample()
	case rate >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func setupLogging(config LoggingConfig) error {
	outputs := config.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	errOutputs := config.ErrorPaths
	if len(errOutputs) == 0 {
		errOutputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(config.Level),
		Development: config.Development,
		Sampling:    config.Sampling,
		Encoding:    config.Format,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      outputs,
		ErrorOutputPaths: errOutputs,
	}

	built, err := zapConfig.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	logger = built
	zap.ReplaceGlobals(logger)
	return nil
}

// DefaultConfig returns a configuration suitable for development, with
// environment variable overrides for the deployment facing knobs.
func DefaultConfig() ObservabilityConfig {
	environment := getEnv("ENVIRONMENT", "development")

	return ObservabilityConfig{
		Tracing: TracingConfig{
			ServiceName:    "pgcdc",
			ServiceVersion: "1.0.0",
			Environment:    environment,
			SamplingRate:   0.1,
			ExporterType:   getEnv("TRACING_EXPORTER", "stdout"),
			ExporterURL:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			BatchTimeout:   5 * time.Second,
			MaxExportBatch: 512,
			MaxQueueSize:   2048,
		},
		Metrics: MetricsConfig{
			Namespace:       "pgcdc",
			Subsystem:       "pipeline",
			PushGateway:     getEnv("PROMETHEUS_PUSHGATEWAY", ""),
			PushInterval:    30 * time.Second,
			HistogramBounds: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 25.0, 50.0, 100.0},
		},
		Logging: LoggingConfig{
			Level:       parseLevel(getEnv("LOG_LEVEL", "info")),
			Format:      getEnv("LOG_FORMAT", "json"),
			OutputPaths: []string{"stdout"},
			ErrorPaths:  []string{"stderr"},
			Development: environment == "development",
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseLevel falls back to info on unknown level names.
func parseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// Shutdown flushes and stops the tracing exporter, the metrics push
// loop and the logger. Call it once on process exit.
func Shutdown(ctx context.Context) error {
	stopMetricsPush()

	var errs []error
	if tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); ok {
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil && !ignorableSyncError(err) {
			errs = append(errs, fmt.Errorf("sync logger: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Sync on stdout or stderr fails on some platforms and under test
// runners, and says nothing about the pipeline.
func ignorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "bad file descriptor") ||
		strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "/dev/stdout") ||
		strings.Contains(msg, "/dev/stderr")
}

// GetTracer returns the global tracer. It is nil before Initialize.
func GetTracer() trace.Tracer {
	return tracer
}

// GetMeter returns the global meter. It is nil before Initialize.
func GetMeter() metric.Meter {
	return meter
}

// GetLogger returns the global logger. It is nil before Initialize.
func GetLogger() *zap.Logger {
	return logger
}

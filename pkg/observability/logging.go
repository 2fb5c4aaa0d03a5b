package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StructuredLogger is a zap logger carrying a connector identity, with
// helpers that scope it further to a trace context or an operation.
type StructuredLogger struct {
	*zap.Logger
}

// NewStructuredLogger returns a logger tagged with the connector
// identity.
func NewStructuredLogger(connectorType, connectorName string) *StructuredLogger {
	return &StructuredLogger{
		Logger: GetLogger().With(
			zap.String("connector_type", connectorType),
			zap.String("connector_name", connectorName),
		),
	}
}

// WithContext stamps log entries with the trace and span IDs from ctx
// when a recording span is present.
func (sl *StructuredLogger) WithContext(ctx context.Context) *ContextLogger {
	base := sl.Logger
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		base = base.With(
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	return &ContextLogger{Logger: base}
}

// WithOperation scopes the logger to one operation and starts its
// clock.
func (sl *StructuredLogger) WithOperation(operation string) *OperationLogger {
	return newOperationLogger(sl.Logger, operation)
}

// ContextLogger is a zap logger carrying trace identifiers.
type ContextLogger struct {
	*zap.Logger
}

// WithOperation scopes the logger to one operation and starts its
// clock.
func (cl *ContextLogger) WithOperation(operation string) *OperationLogger {
	return newOperationLogger(cl.Logger, operation)
}

// OperationLogger tracks one operation from start to completion and
// stamps every entry with the operation name.
type OperationLogger struct {
	*zap.Logger
	startTime time.Time
}

func newOperationLogger(base *zap.Logger, operation string) *OperationLogger {
	return &OperationLogger{
		Logger:    base.With(zap.String("operation", operation)),
		startTime: time.Now(),
	}
}

// LogStart marks the beginning of the operation.
func (ol *OperationLogger) LogStart(msg string, fields ...zap.Field) {
	ol.Info(msg, append(fields, zap.String("phase", "start"))...)
}

// LogProgress reports partial completion; progress runs from 0 to 1.
func (ol *OperationLogger) LogProgress(msg string, progress float64, fields ...zap.Field) {
	ol.Info(msg, append(fields,
		zap.String("phase", "progress"),
		zap.Float64("progress_percent", progress*100),
		zap.Duration("elapsed", time.Since(ol.startTime)),
	)...)
}

// LogComplete marks successful completion with the total duration.
func (ol *OperationLogger) LogComplete(msg string, fields ...zap.Field) {
	ol.Info(msg, append(fields,
		zap.String("phase", "complete"),
		zap.Duration("total_duration", time.Since(ol.startTime)),
	)...)
}

// LogError marks a failed operation with how long it ran before
// failing.
func (ol *OperationLogger) LogError(msg string, err error, fields ...zap.Field) {
	ol.Error(msg, append(fields,
		zap.String("phase", "error"),
		zap.Duration("duration_before_error", time.Since(ol.startTime)),
		zap.Error(err),
	)...)
}

// EventProgress periodically reports progress of a long running event
// stream, then summarizes it on LogFinal. Not safe for concurrent use;
// each stream loop owns its own instance.
type EventProgress struct {
	op          *OperationLogger
	events      int64
	errors      int64
	bytes       int64
	startTime   time.Time
	lastLog     time.Time
	logInterval time.Duration
}

// NewEventProgress wraps an operation logger with progress accounting.
func NewEventProgress(op *OperationLogger) *EventProgress {
	now := time.Now()
	return &EventProgress{
		op:          op,
		startTime:   now,
		lastLog:     now,
		logInterval: 30 * time.Second,
	}
}

// SetLogInterval overrides how often RecordProcessed emits a progress
// entry.
func (ep *EventProgress) SetLogInterval(interval time.Duration) {
	ep.logInterval = interval
}

// RecordProcessed accumulates processed events and bytes, logging
// progress once per interval.
func (ep *EventProgress) RecordProcessed(count int, bytes int64) {
	ep.events += int64(count)
	ep.bytes += bytes

	if time.Since(ep.lastLog) >= ep.logInterval {
		ep.LogProgress()
		ep.lastLog = time.Now()
	}
}

// RecordError counts one failed event.
func (ep *EventProgress) RecordError() {
	ep.errors++
}

// rate guards against division by zero on an empty or instant run.
func rate(n int64, elapsed time.Duration) float64 {
	if secs := elapsed.Seconds(); secs > 0 {
		return float64(n) / secs
	}
	return 0
}

// LogProgress emits a progress entry with running rates.
func (ep *EventProgress) LogProgress() {
	elapsed := time.Since(ep.startTime)

	ep.op.Info("processing progress",
		zap.Int64("events_processed", ep.events),
		zap.Int64("errors", ep.errors),
		zap.Int64("bytes_processed", ep.bytes),
		zap.Float64("events_per_second", rate(ep.events, elapsed)),
		zap.Float64("bytes_per_second", rate(ep.bytes, elapsed)),
		zap.Duration("elapsed", elapsed),
	)
}

// LogFinal emits the completion summary.
func (ep *EventProgress) LogFinal() {
	elapsed := time.Since(ep.startTime)

	errorRate := 0.0
	if ep.events > 0 {
		errorRate = float64(ep.errors) / float64(ep.events) * 100
	}

	ep.op.LogComplete("processing completed",
		zap.Int64("total_events", ep.events),
		zap.Int64("total_errors", ep.errors),
		zap.Int64("total_bytes", ep.bytes),
		zap.Float64("avg_events_per_second", rate(ep.events, elapsed)),
		zap.Float64("avg_bytes_per_second", rate(ep.bytes, elapsed)),
		zap.Float64("error_rate_percent", errorRate),
		zap.Duration("total_duration", elapsed),
	)
}

// PerformanceLogger grades measurements against thresholds and raises
// the log level as they degrade.
type PerformanceLogger struct {
	logger *zap.Logger
}

// NewPerformanceLogger returns a logger for performance measurements.
func NewPerformanceLogger() *PerformanceLogger {
	return &PerformanceLogger{
		logger: GetLogger().With(zap.String("component", "performance")),
	}
}

// LogThroughput reports measured throughput. Below half the threshold
// is critical, below eighty percent is degraded.
func (pl *PerformanceLogger) LogThroughput(operation string, eventsPerSecond float64, threshold float64) {
	level, status := zapcore.InfoLevel, "normal"
	switch {
	case eventsPerSecond < threshold*0.5:
		level, status = zapcore.ErrorLevel, "critical"
	case eventsPerSecond < threshold*0.8:
		level, status = zapcore.WarnLevel, "degraded"
	}

	pl.logger.Log(level, "throughput measurement",
		zap.String("operation", operation),
		zap.Float64("events_per_second", eventsPerSecond),
		zap.Float64("threshold", threshold),
		zap.String("status", status),
		zap.Float64("threshold_ratio", eventsPerSecond/threshold),
	)
}

// LogLatency reports measured latency. Twice the threshold is
// critical, anything over it is degraded.
func (pl *PerformanceLogger) LogLatency(operation string, latency time.Duration, threshold time.Duration) {
	level, status := zapcore.InfoLevel, "normal"
	switch {
	case latency > threshold*2:
		level, status = zapcore.ErrorLevel, "critical"
	case latency > threshold:
		level, status = zapcore.WarnLevel, "degraded"
	}

	pl.logger.Log(level, "latency measurement",
		zap.String("operation", operation),
		zap.Duration("latency", latency),
		zap.Duration("threshold", threshold),
		zap.String("status", status),
		zap.Float64("threshold_ratio", float64(latency)/float64(threshold)),
	)
}

// LogReplicationLag reports how far the slot has fallen behind the
// server's WAL insert position.
func (pl *PerformanceLogger) LogReplicationLag(slot string, lagBytes int64, threshold int64) {
	level, status := zapcore.InfoLevel, "normal"
	switch {
	case lagBytes > threshold*2:
		level, status = zapcore.ErrorLevel, "critical"
	case lagBytes > threshold:
		level, status = zapcore.WarnLevel, "high"
	}

	pl.logger.Log(level, "replication lag",
		zap.String("slot", slot),
		zap.Int64("lag_bytes", lagBytes),
		zap.Int64("threshold_bytes", threshold),
		zap.String("status", status),
		zap.Float64("threshold_ratio", float64(lagBytes)/float64(threshold)),
	)
}

// ErrorReporter emits uniformly shaped error entries so log pipelines
// can alert on them.
type ErrorReporter struct {
	logger *zap.Logger
}

// NewErrorReporter returns the shared error reporter.
func NewErrorReporter() *ErrorReporter {
	return &ErrorReporter{
		logger: GetLogger().With(zap.String("component", "error_reporter")),
	}
}

// ReportError logs err with its origin, the active trace if any, and
// caller supplied metadata.
func (er *ErrorReporter) ReportError(ctx context.Context, err error, component string, operation string, metadata map[string]interface{}) {
	fields := []zap.Field{
		zap.Error(err),
		zap.String("component", component),
		zap.String("operation", operation),
		zap.String("error_type", fmt.Sprintf("%T", err)),
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	for key, value := range metadata {
		fields = append(fields, zap.Any(key, value))
	}

	er.logger.Error("error reported", fields...)
}

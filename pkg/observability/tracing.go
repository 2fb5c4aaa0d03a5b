package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span wraps an OpenTelemetry span and batches attribute writes until
// End so hot paths pay for one SetAttributes call instead of many.
type Span struct {
	span       trace.Span
	name       string
	startTime  time.Time
	attributes []attribute.KeyValue
}

// NewSpan starts a span under the global tracer.
func NewSpan(ctx context.Context, operationName string) (context.Context, *Span) {
	ctx, span := tracer.Start(ctx, operationName)
	return ctx, &Span{
		span:      span,
		name:      operationName,
		startTime: time.Now(),
	}
}

// SetAttribute queues an attribute; it is written to the span on End.
func (s *Span) SetAttribute(key string, value interface{}) {
	s.attributes = append(s.attributes, toAttribute(key, value))
}

// AddEvent adds an event to the span immediately.
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetStatus sets the span status.
func (s *Span) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

// recordOutcome stamps the span with the error or marks it Ok.
func (s *Span) recordOutcome(err error) {
	if err != nil {
		s.SetStatus(codes.Error, err.Error())
		s.SetAttribute("error", true)
		s.SetAttribute("error.message", err.Error())
		return
	}
	s.SetStatus(codes.Ok, "")
}

// End flushes queued attributes, records the span duration under the
// operation name and closes the span.
func (s *Span) End() {
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}

	RecordDuration("span_duration", time.Since(s.startTime), map[string]string{
		"operation": s.name,
	})

	s.span.End()
}

func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// ConnectorTracer scopes spans and duration metrics to one connector,
// for example the postgresql source or a named kafka sink.
type ConnectorTracer struct {
	connectorType string
	connectorName string
}

// NewConnectorTracer returns a tracer scoped to one connector.
func NewConnectorTracer(connectorType, connectorName string) *ConnectorTracer {
	return &ConnectorTracer{
		connectorType: connectorType,
		connectorName: connectorName,
	}
}

// StartSpan starts a span named <type>.<name>.<operation> carrying the
// connector identity as attributes.
func (ct *ConnectorTracer) StartSpan(ctx context.Context, operation string) (context.Context, *Span) {
	ctx, span := NewSpan(ctx, ct.connectorType+"."+ct.connectorName+"."+operation)

	span.SetAttribute("connector.type", ct.connectorType)
	span.SetAttribute("connector.name", ct.connectorName)
	span.SetAttribute("connector.operation", operation)

	return ctx, span
}

// TraceEvent runs fn under a span covering one change event and records
// its duration. The error from fn is returned unchanged.
func (ct *ConnectorTracer) TraceEvent(ctx context.Context, eventID string, operation string, fn func() error) error {
	_, span := ct.StartSpan(ctx, operation)
	defer span.End()

	span.SetAttribute("event.id", eventID)

	start := time.Now()
	err := fn()

	RecordDuration("event_processing_duration", time.Since(start), map[string]string{
		"component": ct.connectorName,
		"operation": operation,
		"status":    statusLabel(err),
	})

	span.recordOutcome(err)
	return err
}

// TraceBatch runs fn under a span covering a whole batch and records
// duration plus, on success, the achieved throughput.
func (ct *ConnectorTracer) TraceBatch(ctx context.Context, batchSize int, operation string, fn func() error) error {
	_, span := ct.StartSpan(ctx, operation)
	defer span.End()

	span.SetAttribute("batch.size", batchSize)

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	RecordDuration("batch_processing_duration", elapsed, map[string]string{
		"component": ct.connectorName,
		"operation": operation,
		"status":    statusLabel(err),
	})

	if err == nil && elapsed > 0 {
		throughput := float64(batchSize) / elapsed.Seconds()
		RecordGauge("batch_throughput", throughput, map[string]string{
			"component": ct.connectorName,
		})
		span.SetAttribute("batch.throughput", throughput)
	}

	span.recordOutcome(err)
	return err
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

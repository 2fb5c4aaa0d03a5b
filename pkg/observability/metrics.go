package observability

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const promNamespace = "pgcdc"

// Collectors live at package scope so every MetricsCollector shares one
// series per label set regardless of how many connectors exist.
var (
	connectorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: promNamespace,
			Subsystem: "connector",
			Name:      "operation_duration_seconds",
			Help:      "Latency of connector operations.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"connector_type", "connector_name", "operation", "status"},
	)

	connectorThroughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: promNamespace,
			Subsystem: "connector",
			Name:      "throughput_events_per_second",
			Help:      "Most recently measured connector throughput.",
		},
		[]string{"connector_type", "connector_name", "operation"},
	)

	connectorEventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: "connector",
			Name:      "events_processed_total",
			Help:      "Events handled by connector operations.",
		},
		[]string{"connector_type", "connector_name", "operation", "status"},
	)

	connectorBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: promNamespace,
			Subsystem: "connector",
			Name:      "batch_size",
			Help:      "Distribution of processed batch sizes.",
			Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000, 10000, 50000, 100000},
		},
		[]string{"connector_type", "connector_name", "operation"},
	)

	connectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: "connector",
			Name:      "errors_total",
			Help:      "Connector errors by operation and type.",
		},
		[]string{"connector_type", "connector_name", "operation", "error_type"},
	)

	connectorRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: "connector",
			Name:      "retries_total",
			Help:      "Operation retries per connector.",
		},
		[]string{"connector_type", "connector_name", "operation"},
	)

	connectorConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: promNamespace,
			Subsystem: "connector",
			Name:      "active_connections",
			Help:      "Open connections held by a connector.",
		},
		[]string{"connector_type", "connector_name"},
	)

	generalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: promNamespace,
			Subsystem: "observability",
			Name:      "operation_duration_seconds",
			Help:      "Latency of traced operations.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"operation", "component", "status"},
	)

	generalGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: promNamespace,
			Subsystem: "observability",
			Name:      "gauge_value",
			Help:      "Free-form gauge values keyed by metric name.",
		},
		[]string{"metric", "component"},
	)
)

var pushStop chan struct{}

// setupMetrics takes the OTel meter handle and, when configured, starts
// pushing the default Prometheus registry to a Pushgateway. Scrape
// deployments leave PrometheusPush off and expose pkg/metrics instead.
func setupMetrics(config MetricsConfig) error {
	meter = otel.Meter(config.Namespace)

	if config.PrometheusPush && config.PushGateway != "" {
		pusher := push.New(config.PushGateway, config.Namespace).
			Gatherer(prometheus.DefaultGatherer)
		pushStop = make(chan struct{})
		go pushLoop(pusher, config.PushInterval, pushStop)
	}
	return nil
}

func pushLoop(pusher *push.Pusher, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := pusher.Push(); err != nil && logger != nil {
				logger.Warn("prometheus push failed", zap.Error(err))
			}
		case <-stop:
			// Final push so the gateway holds the last counters.
			_ = pusher.Push()
			return
		}
	}
}

func stopMetricsPush() {
	if pushStop != nil {
		close(pushStop)
		pushStop = nil
	}
}

// MetricsCollector records connector metrics under a fixed identity,
// caching label slices so hot paths skip rebuilding them.
type MetricsCollector struct {
	connectorType string
	connectorName string

	mutex      sync.RWMutex
	labelCache map[string][]string
}

// NewMetricsCollector returns a collector scoped to one connector.
func NewMetricsCollector(connectorType, connectorName string) *MetricsCollector {
	return &MetricsCollector{
		connectorType: connectorType,
		connectorName: connectorName,
		labelCache:    make(map[string][]string),
	}
}

// RecordDuration observes one operation latency.
func (mc *MetricsCollector) RecordDuration(operation string, duration time.Duration, status string) {
	connectorDuration.WithLabelValues(mc.getLabels(operation, status)...).Observe(duration.Seconds())
}

// RecordThroughput publishes the latest throughput measurement.
func (mc *MetricsCollector) RecordThroughput(operation string, eventsPerSecond float64) {
	connectorThroughput.WithLabelValues(mc.connectorType, mc.connectorName, operation).Set(eventsPerSecond)
}

// RecordEventsProcessed adds count to the processed events counter.
func (mc *MetricsCollector) RecordEventsProcessed(operation string, count int, status string) {
	connectorEventsProcessed.WithLabelValues(mc.connectorType, mc.connectorName, operation, status).Add(float64(count))
}

// RecordBatchSize observes the size of one processed batch.
func (mc *MetricsCollector) RecordBatchSize(operation string, size int) {
	connectorBatchSize.WithLabelValues(mc.connectorType, mc.connectorName, operation).Observe(float64(size))
}

// RecordError counts one error of the given type.
func (mc *MetricsCollector) RecordError(operation string, errorType string) {
	connectorErrors.WithLabelValues(mc.connectorType, mc.connectorName, operation, errorType).Inc()
}

// RecordRetry counts one retry of the operation.
func (mc *MetricsCollector) RecordRetry(operation string) {
	connectorRetries.WithLabelValues(mc.connectorType, mc.connectorName, operation).Inc()
}

// SetActiveConnections publishes the current connection count.
func (mc *MetricsCollector) SetActiveConnections(count int) {
	connectorConnections.WithLabelValues(mc.connectorType, mc.connectorName).Set(float64(count))
}

func (mc *MetricsCollector) getLabels(operation, status string) []string {
	key := operation + ":" + status

	mc.mutex.RLock()
	labels, ok := mc.labelCache[key]
	mc.mutex.RUnlock()
	if ok {
		return labels
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	if labels, ok := mc.labelCache[key]; ok {
		return labels
	}

	labels = []string{mc.connectorType, mc.connectorName, operation, status}
	mc.labelCache[key] = labels
	return labels
}

// orUnknown keeps Prometheus series well formed when a caller omits a
// label value.
func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// RecordDuration observes on the shared duration histogram. Recognized
// label keys are operation, component and status; operation falls back
// to the metric name.
func RecordDuration(metricName string, duration time.Duration, labels map[string]string) {
	operation := labels["operation"]
	if operation == "" {
		operation = metricName
	}

	generalDuration.WithLabelValues(
		operation,
		orUnknown(labels["component"]),
		orUnknown(labels["status"]),
	).Observe(duration.Seconds())
}

// RecordGauge sets the shared gauge named metricName for a component.
func RecordGauge(metricName string, value float64, labels map[string]string) {
	generalGauge.WithLabelValues(metricName, orUnknown(labels["component"])).Set(value)
}

// PerformanceTracker accumulates counts for one operation and derives
// throughput and error rate from them.
type PerformanceTracker struct {
	collector *MetricsCollector
	operation string
	startTime time.Time

	events  atomic.Int64
	errors  atomic.Int64
	retries atomic.Int64
}

// NewPerformanceTracker starts tracking the named operation.
func NewPerformanceTracker(collector *MetricsCollector, operation string) *PerformanceTracker {
	return &PerformanceTracker{
		collector: collector,
		operation: operation,
		startTime: time.Now(),
	}
}

// RecordProcessed adds count processed events.
func (pt *PerformanceTracker) RecordProcessed(count int) {
	pt.events.Add(int64(count))
	pt.collector.RecordEventsProcessed(pt.operation, count, "success")
}

// RecordError counts one error of the given type.
func (pt *PerformanceTracker) RecordError(errorType string) {
	pt.errors.Add(1)
	pt.collector.RecordError(pt.operation, errorType)
}

// RecordRetry counts one retry.
func (pt *PerformanceTracker) RecordRetry() {
	pt.retries.Add(1)
	pt.collector.RecordRetry(pt.operation)
}

// GetCurrentThroughput computes events per second since tracking began
// and publishes it on the throughput gauge.
func (pt *PerformanceTracker) GetCurrentThroughput() float64 {
	elapsed := time.Since(pt.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}

	throughput := float64(pt.events.Load()) / elapsed
	pt.collector.RecordThroughput(pt.operation, throughput)
	return throughput
}

// GetStats snapshots the tracker.
func (pt *PerformanceTracker) GetStats() PerformanceStats {
	elapsed := time.Since(pt.startTime)
	events := pt.events.Load()
	errs := pt.errors.Load()

	stats := PerformanceStats{
		Operation:       pt.operation,
		Duration:        elapsed,
		EventsProcessed: events,
		Errors:          errs,
		Retries:         pt.retries.Load(),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		stats.Throughput = float64(events) / secs
	}
	if events > 0 {
		stats.ErrorRate = float64(errs) / float64(events)
	}
	return stats
}

// PerformanceStats is a point-in-time view of a PerformanceTracker.
type PerformanceStats struct {
	Operation       string
	Duration        time.Duration
	EventsProcessed int64
	Throughput      float64
	Errors          int64
	Retries         int64
	ErrorRate       float64
}

// LogStats writes the snapshot at info level.
func (ps PerformanceStats) LogStats(logger *zap.Logger) {
	logger.Info("performance stats",
		zap.String("operation", ps.Operation),
		zap.Duration("duration", ps.Duration),
		zap.Int64("events_processed", ps.EventsProcessed),
		zap.Float64("throughput_eps", ps.Throughput),
		zap.Int64("errors", ps.Errors),
		zap.Int64("retries", ps.Retries),
		zap.Float64("error_rate", ps.ErrorRate),
	)
}

// ConnectorMetrics bundles the collector, tracer and logger one
// connector needs.
type ConnectorMetrics struct {
	Collector *MetricsCollector
	Tracer    *ConnectorTracer
	Logger    *zap.Logger
}

// NewConnectorMetrics builds the bundle for a connector identity.
func NewConnectorMetrics(connectorType, connectorName string) *ConnectorMetrics {
	return &ConnectorMetrics{
		Collector: NewMetricsCollector(connectorType, connectorName),
		Tracer:    NewConnectorTracer(connectorType, connectorName),
		Logger: GetLogger().With(
			zap.String("connector_type", connectorType),
			zap.String("connector_name", connectorName),
		),
	}
}

// TrackOperation runs fn under a span, records its duration and logs
// the outcome. The error from fn is returned unchanged.
func (cm *ConnectorMetrics) TrackOperation(ctx context.Context, operation string, fn func() error) error {
	_, span := cm.Tracer.StartSpan(ctx, operation)
	defer span.End()

	start := time.Now()
	err := fn()
	duration := time.Since(start)

	span.recordOutcome(err)

	if err != nil {
		cm.Collector.RecordError(operation, "execution_error")
		cm.Collector.RecordDuration(operation, duration, "error")
		cm.Logger.Error("operation failed",
			zap.String("operation", operation),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return err
	}

	cm.Collector.RecordDuration(operation, duration, "success")
	cm.Logger.Debug("operation completed",
		zap.String("operation", operation),
		zap.Duration("duration", duration),
	)
	return nil
}

// PipelineMetrics counts events through the decode, process and
// produce stages of one pipeline. All methods are safe for concurrent
// use.
type PipelineMetrics struct {
	Collector *MetricsCollector
	Logger    *zap.Logger

	eventsDecoded   atomic.Int64
	eventsProcessed atomic.Int64
	eventsProduced  atomic.Int64
	errors          atomic.Int64

	startTime  time.Time
	lastUpdate atomic.Int64 // unix nanoseconds
}

// NewPipelineMetrics starts counting for the named pipeline.
func NewPipelineMetrics(pipelineName string) *PipelineMetrics {
	pm := &PipelineMetrics{
		Collector: NewMetricsCollector("pipeline", pipelineName),
		Logger:    GetLogger().With(zap.String("pipeline", pipelineName)),
		startTime: time.Now(),
	}
	pm.touch()
	return pm
}

func (pm *PipelineMetrics) touch() {
	pm.lastUpdate.Store(time.Now().UnixNano())
}

// RecordDecoded counts one event decoded from the replication stream.
func (pm *PipelineMetrics) RecordDecoded() {
	pm.eventsDecoded.Add(1)
	pm.touch()
	pm.Collector.RecordEventsProcessed("decode", 1, "success")
}

// RecordProcessed counts one event accepted by the processing stage.
func (pm *PipelineMetrics) RecordProcessed() {
	pm.eventsProcessed.Add(1)
	pm.touch()
	pm.Collector.RecordEventsProcessed("process", 1, "success")
}

// RecordProduced counts a batch delivered to the sink.
func (pm *PipelineMetrics) RecordProduced(count int) {
	pm.eventsProduced.Add(int64(count))
	pm.touch()
	pm.Collector.RecordEventsProcessed("produce", count, "success")
	pm.Collector.RecordBatchSize("produce", count)
}

// RecordError counts one pipeline error.
func (pm *PipelineMetrics) RecordError(operation, errorType string) {
	pm.errors.Add(1)
	pm.touch()
	pm.Collector.RecordError(operation, errorType)
}

// GetStats snapshots the pipeline counters.
func (pm *PipelineMetrics) GetStats() map[string]interface{} {
	elapsed := time.Since(pm.startTime)
	produced := pm.eventsProduced.Load()

	throughput := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		throughput = float64(produced) / secs
	}

	return map[string]interface{}{
		"events_decoded":   pm.eventsDecoded.Load(),
		"events_processed": pm.eventsProcessed.Load(),
		"events_produced":  produced,
		"errors":           pm.errors.Load(),
		"elapsed_seconds":  elapsed.Seconds(),
		"throughput_eps":   throughput,
		"last_update":      time.Unix(0, pm.lastUpdate.Load()),
	}
}

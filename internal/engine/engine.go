// Package engine wires the PostgreSQL connector, the stream processor,
// and the Kafka producer into a single replication pipeline with
// checkpointed offsets.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/pgcdc/pkg/cdc"
	"github.com/ajitpratap0/pgcdc/pkg/config"
	"github.com/ajitpratap0/pgcdc/pkg/metrics"
	"github.com/ajitpratap0/pgcdc/pkg/observability"
)

// collectInterval is how often the engine drains the connector's
// event channel.
const collectInterval = 100 * time.Millisecond

// replicationLagThreshold is the lag level, in bytes of WAL, above
// which lag reports escalate from info to warning.
const replicationLagThreshold = 64 << 20

// source is the connector surface the engine drives. It extends the
// portable CDCConnector contract with the asynchronous error channel
// the PostgreSQL connector exposes.
type source interface {
	cdc.CDCConnector
	Errors() <-chan error
}

// sink delivers processed change events downstream.
type sink interface {
	Connect() error
	ProduceEvents(ctx context.Context, events []cdc.ChangeEvent) error
	Close() error
	GetMetrics() cdc.KafkaMetrics
}

// Engine coordinates the replication pipeline: it collects change
// events from the source, routes them through the stream processor to
// the Kafka producer, and commits the produced WAL position back to the
// source and the offset store.
type Engine struct {
	logger *zap.Logger
	config *config.Config

	// Pipeline components
	source       source
	processor    *cdc.StreamProcessor
	producer     sink
	offsets      OffsetStore
	commitPolicy cdc.OffsetCommitPolicy

	// Position tracking
	currentPosition   cdc.Position
	producedPosition  cdc.Position
	committedPosition cdc.Position
	eventsProduced    int64
	eventsSinceCommit int64
	lastCommit        time.Time
	positionMutex     sync.Mutex

	// Observability
	pipeline      *observability.PipelineMetrics
	errorReporter *observability.ErrorReporter
	perfLogger    *observability.PerformanceLogger
	tracer        *observability.ConnectorTracer
	throughput    *metrics.ThroughputTracker
	plugin        string
	slot          string

	// State management
	running      bool
	runningMutex sync.RWMutex
	startTime    time.Time
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// EngineStatus represents the overall status of the pipeline engine
type EngineStatus struct {
	Running           bool               `json:"running"`
	StartTime         time.Time          `json:"start_time"`
	Uptime            time.Duration      `json:"uptime"`
	Source            cdc.HealthStatus   `json:"source"`
	StreamProcessor   *cdc.StreamMetrics `json:"stream_processor,omitempty"`
	KafkaProducer     *cdc.KafkaMetrics  `json:"kafka_producer,omitempty"`
	CurrentPosition   cdc.Position       `json:"current_position"`
	CommittedPosition cdc.Position       `json:"committed_position"`
	OverallHealth     string             `json:"overall_health"`
}

// New builds a pipeline engine from the configuration. No connections
// are opened until Start is called.
func New(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	producer, err := cdc.NewKafkaProducer(cfg.Kafka, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build Kafka producer: %w", err)
	}

	return &Engine{
		logger:        logger.With(zap.String("component", "engine")),
		config:        cfg,
		source:        cdc.NewPostgreSQLConnector(logger),
		processor:     cdc.NewStreamProcessor(cfg.Streaming, logger),
		producer:      producer,
		offsets:       NewOffsetStore(cfg.Offsets.Path),
		commitPolicy:  commitPolicyFor(cfg.Offsets),
		pipeline:      observability.NewPipelineMetrics(cfg.Name),
		errorReporter: observability.NewErrorReporter(),
		perfLogger:    observability.NewPerformanceLogger(),
		tracer:        observability.NewConnectorTracer("pipeline", cfg.Name),
		throughput:    metrics.NewThroughputTracker("postgresql", "kafka"),
		plugin:        string(cfg.Source.Plugin),
		slot:          cfg.Source.SlotName,
		stopCh:        make(chan struct{}),
	}, nil
}

// commitPolicyFor maps a validated policy name onto its implementation.
func commitPolicyFor(offsets config.OffsetConfig) cdc.OffsetCommitPolicy {
	if offsets.CommitPolicy == "every_batch" {
		return cdc.AlwaysCommitPolicy{}
	}
	return cdc.NewPeriodicCommitPolicy(offsets.CommitInterval)
}

// Start connects all components and begins streaming changes
func (e *Engine) Start(ctx context.Context) error {
	e.runningMutex.Lock()
	defer e.runningMutex.Unlock()

	if e.running {
		return fmt.Errorf("engine is already running")
	}

	e.logger.Info("starting pipeline engine", zap.String("pipeline", e.config.Name))

	sourceConfig := e.config.Source.CDCConfig()

	// Resume from the last committed checkpoint unless the configuration
	// pins an explicit start position
	checkpoint, err := e.offsets.Load()
	if err != nil {
		return fmt.Errorf("failed to load offsets: %w", err)
	}
	if checkpoint.Position.IsValid() {
		if sourceConfig.StartLSN == "" {
			sourceConfig.StartLSN = checkpoint.Position.String()
		}

		e.positionMutex.Lock()
		e.committedPosition = checkpoint.Position
		e.producedPosition = checkpoint.Position
		e.eventsProduced = checkpoint.EventCount
		e.positionMutex.Unlock()

		e.logger.Info("resuming from checkpoint",
			zap.String("position", checkpoint.Position.String()),
			zap.Int64("event_count", checkpoint.EventCount),
			zap.Time("saved_at", checkpoint.Timestamp))
	}

	if err := e.source.Connect(sourceConfig); err != nil {
		return fmt.Errorf("failed to connect source: %w", err)
	}

	if err := e.processor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start stream processor: %w", err)
	}

	e.processor.RegisterBatchHandler("*", e.produceBatch)

	if err := e.producer.Connect(); err != nil {
		return fmt.Errorf("failed to connect Kafka producer: %w", err)
	}

	if err := e.source.Subscribe(e.config.Source.Tables); err != nil {
		return fmt.Errorf("failed to subscribe to tables: %w", err)
	}

	eventCh, err := e.source.ReadChanges(ctx)
	if err != nil {
		return fmt.Errorf("failed to open change stream: %w", err)
	}

	e.positionMutex.Lock()
	e.lastCommit = time.Now()
	e.positionMutex.Unlock()

	e.wg.Add(3)
	go e.runEventCollection(eventCh)
	go e.runErrorCollection()
	go e.runOffsetCommits()

	if e.config.Observability.EnableMetrics {
		e.wg.Add(1)
		go e.runMetricsCollection()
	}

	e.running = true
	e.startTime = time.Now()

	e.logger.Info("pipeline engine started",
		zap.String("slot", e.slot),
		zap.String("plugin", e.plugin),
		zap.Strings("tables", e.config.Source.Tables),
		zap.String("commit_policy", e.config.Offsets.CommitPolicy))

	return nil
}

// Stop shuts down the pipeline. The last produced position is committed
// before the source connection closes.
func (e *Engine) Stop() error {
	e.runningMutex.Lock()
	defer e.runningMutex.Unlock()

	if !e.running {
		return fmt.Errorf("engine is not running")
	}

	e.logger.Info("stopping pipeline engine")

	close(e.stopCh)
	e.wg.Wait()

	if err := e.processor.Stop(); err != nil {
		e.logger.Error("failed to stop stream processor", zap.Error(err))
	}

	if err := e.producer.Close(); err != nil {
		e.logger.Error("failed to close Kafka producer", zap.Error(err))
	}

	if err := e.commitOffsets(); err != nil {
		e.logger.Error("failed to commit final offsets", zap.Error(err))
	}

	if err := e.source.Stop(); err != nil {
		e.logger.Error("failed to stop source", zap.Error(err))
	}

	e.running = false

	e.logger.Info("pipeline engine stopped")

	return nil
}

// produceBatch delivers a batch of events to Kafka and advances the
// produced position
func (e *Engine) produceBatch(ctx context.Context, events []cdc.ChangeEvent) error {
	timer := metrics.NewTimer("produce_batch")

	err := e.tracer.TraceBatch(ctx, len(events), "produce", func() error {
		return e.producer.ProduceEvents(ctx, events)
	})

	metrics.PipelineLatency.WithLabelValues("produce", e.plugin).
		Observe(float64(timer.Stop().Nanoseconds()))

	if err != nil {
		metrics.EventsProduced.WithLabelValues("failure").Add(float64(len(events)))
		e.pipeline.RecordError("produce", "kafka_error")
		return err
	}

	metrics.EventsProduced.WithLabelValues("success").Add(float64(len(events)))
	e.pipeline.RecordProduced(len(events))
	e.throughput.Increment(int64(len(events)))

	e.positionMutex.Lock()
	if position := maxPosition(events); position.Compare(e.producedPosition) > 0 {
		e.producedPosition = position
	}
	e.eventsProduced += int64(len(events))
	e.eventsSinceCommit += int64(len(events))
	e.positionMutex.Unlock()

	e.maybeCommit()

	return nil
}

// maybeCommit commits the produced position when the commit policy fires.
// The batch is already delivered at this point; a commit failure must not
// trigger a retry of the batch, so it is logged and retried on the next
// policy evaluation.
func (e *Engine) maybeCommit() {
	e.positionMutex.Lock()
	pending := e.eventsSinceCommit
	elapsed := time.Since(e.lastCommit)
	e.positionMutex.Unlock()

	if !e.commitPolicy.PerformCommit(pending, elapsed) {
		return
	}

	if err := e.commitOffsets(); err != nil {
		e.logger.Error("failed to commit offsets", zap.Error(err))
	}
}

// runEventCollection drains the connector's event channel and feeds the
// stream processor
func (e *Engine) runEventCollection(eventCh <-chan cdc.ChangeEvent) {
	defer e.wg.Done()

	ticker := time.NewTicker(collectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.collectAndProcessEvents(eventCh)

		case <-e.stopCh:
			// Final drain so buffered events reach the processor before
			// the workers stop
			e.collectAndProcessEvents(eventCh)
			return
		}
	}
}

// collectAndProcessEvents reads available events without blocking and
// submits them for processing
func (e *Engine) collectAndProcessEvents(eventCh <-chan cdc.ChangeEvent) {
	events := readAvailableEvents(eventCh, e.config.Streaming.MaxBatchSize)
	if len(events) == 0 {
		return
	}

	for i := range events {
		metrics.EventsDecoded.WithLabelValues(e.plugin, string(events[i].Operation)).Inc()
		e.pipeline.RecordDecoded()
	}

	metrics.QueueDepth.WithLabelValues("connector_events").Set(float64(len(eventCh)))

	position := maxPosition(events)

	e.positionMutex.Lock()
	if position.Compare(e.currentPosition) > 0 {
		e.currentPosition = position
		metrics.WALPosition.WithLabelValues(e.slot, "current").Set(float64(position.LSN))
	}
	e.positionMutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	timer := metrics.NewTimer("process_batch")
	err := e.processor.ProcessEvents(ctx, events)
	metrics.PipelineLatency.WithLabelValues("process", e.plugin).
		Observe(float64(timer.Stop().Nanoseconds()))

	if err != nil {
		e.pipeline.RecordError("process", "submit_error")
		e.errorReporter.ReportError(ctx, err, "engine", "process",
			map[string]interface{}{"event_count": len(events)})
		return
	}

	for range events {
		e.pipeline.RecordProcessed()
	}

	e.logger.Debug("collected events",
		zap.Int("event_count", len(events)),
		zap.String("position", position.String()))
}

// runErrorCollection surfaces asynchronous replication errors
func (e *Engine) runErrorCollection() {
	defer e.wg.Done()

	for {
		select {
		case err := <-e.source.Errors():
			metrics.DecodeErrors.WithLabelValues(e.plugin).Inc()
			e.pipeline.RecordError("decode", "replication_error")
			e.errorReporter.ReportError(context.Background(), err, "connector", "replicate",
				map[string]interface{}{"slot": e.slot})

		case <-e.stopCh:
			return
		}
	}
}

// runOffsetCommits evaluates the commit policy on a timer so pending
// positions are committed even when no new batches arrive
func (e *Engine) runOffsetCommits() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Offsets.CommitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.maybeCommit()

		case <-e.stopCh:
			return
		}
	}
}

// commitOffsets persists the produced position and acknowledges it to
// the source. Positions only move forward.
func (e *Engine) commitOffsets() error {
	e.positionMutex.Lock()
	position := e.producedPosition
	committed := e.committedPosition
	eventCount := e.eventsProduced
	e.positionMutex.Unlock()

	if !position.IsValid() || position.Compare(committed) <= 0 {
		return nil
	}

	timer := metrics.NewTimer("commit_offsets")

	checkpoint := cdc.Checkpoint{
		ID:          e.config.Name,
		Position:    position,
		Timestamp:   time.Now(),
		EventCount:  eventCount,
		ProcessedAt: time.Now(),
		Metadata: map[string]interface{}{
			"slot":   e.slot,
			"plugin": e.plugin,
		},
	}

	if err := e.offsets.Save(checkpoint); err != nil {
		metrics.OffsetCommits.WithLabelValues(e.config.Offsets.CommitPolicy, "error").Inc()
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	if err := e.source.Acknowledge(position); err != nil {
		metrics.OffsetCommits.WithLabelValues(e.config.Offsets.CommitPolicy, "error").Inc()
		return fmt.Errorf("failed to acknowledge position %s: %w", position, err)
	}

	e.positionMutex.Lock()
	e.committedPosition = position
	e.eventsSinceCommit = 0
	e.lastCommit = time.Now()
	e.positionMutex.Unlock()

	metrics.OffsetCommits.WithLabelValues(e.config.Offsets.CommitPolicy, "ok").Inc()
	metrics.WALPosition.WithLabelValues(e.slot, "committed").Set(float64(position.LSN))
	metrics.PipelineLatency.WithLabelValues("commit", e.plugin).
		Observe(float64(timer.Stop().Nanoseconds()))

	e.logger.Debug("committed offsets",
		zap.String("position", position.String()),
		zap.Int64("event_count", eventCount))

	return nil
}

// runMetricsCollection reports pipeline metrics on the configured interval
func (e *Engine) runMetricsCollection() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Observability.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.reportMetrics()

		case <-e.stopCh:
			return
		}
	}
}

// reportMetrics publishes throughput and lag gauges and logs a summary
func (e *Engine) reportMetrics() {
	throughput := e.throughput.GetAndReset()

	e.positionMutex.Lock()
	current := e.currentPosition
	committed := e.committedPosition
	e.positionMutex.Unlock()

	if current.IsValid() && committed.IsValid() {
		lag := int64(current.LSN) - int64(committed.LSN)
		if lag < 0 {
			lag = 0
		}
		metrics.ReplicationLag.WithLabelValues(e.slot).Set(float64(lag))
		e.perfLogger.LogReplicationLag(e.slot, lag, replicationLagThreshold)
	}

	streamMetrics := e.processor.GetMetrics()

	e.logger.Info("pipeline metrics",
		zap.Float64("throughput_eps", throughput),
		zap.Int64("events_received", streamMetrics.EventsReceived),
		zap.Int64("events_processed", streamMetrics.EventsProcessed),
		zap.Int64("events_errored", streamMetrics.EventsErrored),
		zap.String("position", current.String()),
		zap.String("committed", committed.String()))
}

// GetStatus returns the current status of the engine
func (e *Engine) GetStatus() EngineStatus {
	e.runningMutex.RLock()
	running := e.running
	startTime := e.startTime
	e.runningMutex.RUnlock()

	status := EngineStatus{
		Running:   running,
		StartTime: startTime,
	}

	if !running {
		status.OverallHealth = "stopped"
		return status
	}

	status.Uptime = time.Since(startTime)
	status.Source = e.source.Health()

	streamMetrics := e.processor.GetMetrics()
	status.StreamProcessor = &streamMetrics

	producerMetrics := e.producer.GetMetrics()
	status.KafkaProducer = &producerMetrics

	e.positionMutex.Lock()
	status.CurrentPosition = e.currentPosition
	status.CommittedPosition = e.committedPosition
	e.positionMutex.Unlock()

	status.OverallHealth = calculateOverallHealth(status)

	return status
}

// calculateOverallHealth grades the pipeline from its component health
func calculateOverallHealth(status EngineStatus) string {
	healthy := 0
	total := 1

	if status.Source.IsHealthy() {
		healthy++
	}

	if status.StreamProcessor != nil {
		total++
		// Healthy while events flow, or before the first event arrives
		if time.Since(status.StreamProcessor.LastProcessedTime) < 5*time.Minute ||
			status.StreamProcessor.EventsReceived == 0 {
			healthy++
		}
	}

	if status.KafkaProducer != nil {
		total++
		if status.KafkaProducer.MessagesFailed == 0 ||
			time.Since(status.KafkaProducer.LastProducedTime) < time.Minute {
			healthy++
		}
	}

	switch ratio := float64(healthy) / float64(total); {
	case ratio >= 0.9:
		return "healthy"
	case ratio >= 0.7:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// readAvailableEvents reads available events from a channel without blocking
func readAvailableEvents(eventCh <-chan cdc.ChangeEvent, maxEvents int) []cdc.ChangeEvent {
	events := make([]cdc.ChangeEvent, 0, maxEvents)

	for i := 0; i < maxEvents; i++ {
		select {
		case event, ok := <-eventCh:
			if !ok {
				return events
			}
			events = append(events, event)
		default:
			// No more events available
			return events
		}
	}

	return events
}

// maxPosition returns the highest WAL position in the batch
func maxPosition(events []cdc.ChangeEvent) cdc.Position {
	var max cdc.Position
	for i := range events {
		if events[i].Position.Compare(max) > 0 {
			max = events[i].Position
		}
	}
	return max
}

package cdc

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/pgcdc/pkg/errors"
	stringpool "github.com/ajitpratap0/pgcdc/pkg/strings"
)

// StreamProcessor fans change events out to registered handlers on a
// fixed pool of workers. Events that hash to the same partition are
// processed by the same worker in arrival order; failed tasks retry
// with exponential backoff and move to the dead letter queue once
// retries are exhausted.
type StreamProcessor struct {
	logger *zap.Logger
	config StreamingConfig

	// Handler registry, keyed by match pattern
	handlers      map[string][]EventHandler
	batchHandlers map[string][]BatchEventHandler
	handlersMutex sync.RWMutex

	filters      []EventFilter
	filtersMutex sync.RWMutex

	deadLetterQueue DeadLetterQueue

	metrics      StreamMetrics
	metricsMutex sync.RWMutex

	workCh    chan ProcessingTask
	running   atomic.Bool
	startTime time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// ProcessingTask is one unit of work for a worker: a batch of events
// bound for the handlers registered under one pattern.
type ProcessingTask struct {
	Events     []ChangeEvent
	Handler    string
	Partition  int
	Timestamp  time.Time
	RetryCount int
	MaxRetries int
}

// StreamMetrics contains counters for stream processing.
type StreamMetrics struct {
	EventsReceived    int64         `json:"events_received"`
	EventsProcessed   int64         `json:"events_processed"`
	EventsFiltered    int64         `json:"events_filtered"`
	EventsErrored     int64         `json:"events_errored"`
	EventsRetried     int64         `json:"events_retried"`
	BatchesProcessed  int64         `json:"batches_processed"`
	ProcessingLatency time.Duration `json:"processing_latency"`
	ThroughputRPS     float64       `json:"throughput_rps"`
	BacklogSize       int64         `json:"backlog_size"`
	LastProcessedTime time.Time     `json:"last_processed_time"`

	HandlerMetrics map[string]HandlerMetrics `json:"handler_metrics"`
}

// HandlerMetrics contains counters for a single handler pattern.
type HandlerMetrics struct {
	EventsProcessed int64         `json:"events_processed"`
	EventsErrored   int64         `json:"events_errored"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastExecution   time.Time     `json:"last_execution"`
}

// NewStreamProcessor creates a stream processor. Handlers and filters
// may be registered before or after Start.
func NewStreamProcessor(config StreamingConfig, logger *zap.Logger) *StreamProcessor {
	if err := config.Validate(); err != nil {
		logger.Error("invalid streaming config", zap.Error(err))
	}

	sp := &StreamProcessor{
		logger:        logger.With(zap.String("component", "stream_processor")),
		config:        config,
		handlers:      make(map[string][]EventHandler),
		batchHandlers: make(map[string][]BatchEventHandler),
		workCh:        make(chan ProcessingTask, config.ParallelWorkers*10),
		stopCh:        make(chan struct{}),
		metrics: StreamMetrics{
			HandlerMetrics: make(map[string]HandlerMetrics),
		},
	}

	if config.DeadLetterQueue {
		sp.deadLetterQueue = NewMemoryDeadLetterQueue(10000)
	}

	return sp
}

// Start launches the worker pool.
func (sp *StreamProcessor) Start(ctx context.Context) error {
	if !sp.running.CompareAndSwap(false, true) {
		return errors.New(errors.ErrorTypeConflict, "stream processor is already running")
	}

	sp.startTime = time.Now()

	for i := 0; i < sp.config.ParallelWorkers; i++ {
		sp.wg.Add(1)
		go sp.worker(i)
	}

	sp.wg.Add(1)
	go sp.metricsLoop()

	sp.logger.Info("stream processor started",
		zap.Int("workers", sp.config.ParallelWorkers),
		zap.Int("max_batch_size", sp.config.MaxBatchSize))

	return nil
}

// Stop drains the workers and shuts the processor down.
func (sp *StreamProcessor) Stop() error {
	if !sp.running.CompareAndSwap(true, false) {
		return errors.New(errors.ErrorTypeConflict, "stream processor is not running")
	}

	close(sp.stopCh)
	sp.wg.Wait()

	sp.logger.Info("stream processor stopped")

	return nil
}

// RegisterHandler registers a per-event handler under a pattern. A
// pattern is "*", a table name, "schema.table", "database.table", an
// operation, or "table:OPERATION".
func (sp *StreamProcessor) RegisterHandler(pattern string, handler EventHandler) {
	sp.handlersMutex.Lock()
	sp.handlers[pattern] = append(sp.handlers[pattern], handler)
	sp.handlersMutex.Unlock()

	sp.seedHandlerMetrics(pattern)

	sp.logger.Info("registered event handler", zap.String("pattern", pattern))
}

// RegisterBatchHandler registers a handler that receives whole task
// batches under a pattern.
func (sp *StreamProcessor) RegisterBatchHandler(pattern string, handler BatchEventHandler) {
	sp.handlersMutex.Lock()
	sp.batchHandlers[pattern] = append(sp.batchHandlers[pattern], handler)
	sp.handlersMutex.Unlock()

	sp.seedHandlerMetrics(pattern)

	sp.logger.Info("registered batch event handler", zap.String("pattern", pattern))
}

func (sp *StreamProcessor) seedHandlerMetrics(pattern string) {
	sp.metricsMutex.Lock()
	if _, ok := sp.metrics.HandlerMetrics[pattern]; !ok {
		sp.metrics.HandlerMetrics[pattern] = HandlerMetrics{}
	}
	sp.metricsMutex.Unlock()
}

// AddFilter adds an event filter. All filters must pass for an event to
// be processed.
func (sp *StreamProcessor) AddFilter(filter EventFilter) {
	sp.filtersMutex.Lock()
	sp.filters = append(sp.filters, filter)
	sp.filtersMutex.Unlock()
}

// ProcessEvent submits a single event for processing.
func (sp *StreamProcessor) ProcessEvent(ctx context.Context, event ChangeEvent) error {
	return sp.ProcessEvents(ctx, []ChangeEvent{event})
}

// ProcessEvents filters, partitions, and queues events for the workers.
// It returns once every task is queued; handler execution is
// asynchronous.
func (sp *StreamProcessor) ProcessEvents(ctx context.Context, events []ChangeEvent) error {
	if !sp.running.Load() {
		return errors.New(errors.ErrorTypeConflict, "stream processor is not running")
	}

	start := time.Now()
	defer func() {
		sp.metricsMutex.Lock()
		sp.metrics.EventsReceived += int64(len(events))
		sp.metrics.ProcessingLatency = time.Since(start)
		sp.metrics.LastProcessedTime = time.Now()
		sp.metricsMutex.Unlock()
	}()

	kept := sp.filterEvents(events)
	if dropped := len(events) - len(kept); dropped > 0 {
		sp.metricsMutex.Lock()
		sp.metrics.EventsFiltered += int64(dropped)
		sp.metricsMutex.Unlock()
	}
	if len(kept) == 0 {
		return nil
	}

	for _, task := range sp.groupEventsByHandler(kept) {
		if err := sp.enqueue(ctx, task); err != nil {
			return err
		}
	}

	return nil
}

// enqueue hands a task to the worker pool, waiting briefly when the
// queue is saturated.
func (sp *StreamProcessor) enqueue(ctx context.Context, task ProcessingTask) error {
	select {
	case sp.workCh <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	sp.metricsMutex.Lock()
	sp.metrics.BacklogSize = int64(len(sp.workCh))
	sp.metricsMutex.Unlock()

	select {
	case sp.workCh <- task:
		return nil
	case <-time.After(100 * time.Millisecond):
		return errors.New(errors.ErrorTypeRateLimit, "work queue is full").
			WithDetail("handler", task.Handler).
			WithDetail("event_count", len(task.Events))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// filterEvents returns the events that pass every registered filter.
func (sp *StreamProcessor) filterEvents(events []ChangeEvent) []ChangeEvent {
	sp.filtersMutex.RLock()
	defer sp.filtersMutex.RUnlock()

	if len(sp.filters) == 0 {
		return events
	}

	kept := events[:0:0]
	for _, event := range events {
		include := true
		for i := range sp.filters {
			if !sp.filters[i].ShouldInclude(event) {
				include = false
				break
			}
		}
		if include {
			kept = append(kept, event)
		}
	}

	return kept
}

// taskKey identifies one task group: a handler pattern on one partition.
type taskKey struct {
	pattern   string
	partition int
}

// groupEventsByHandler groups events into per-pattern, per-partition
// tasks, splitting groups larger than the configured batch size.
func (sp *StreamProcessor) groupEventsByHandler(events []ChangeEvent) []ProcessingTask {
	sp.handlersMutex.RLock()
	defer sp.handlersMutex.RUnlock()

	groups := make(map[taskKey][]ChangeEvent)

	for _, event := range events {
		partition := sp.calculatePartition(event)

		for pattern := range sp.handlers {
			if sp.matchesPattern(event, pattern) {
				key := taskKey{pattern, partition}
				groups[key] = append(groups[key], event)
			}
		}
		for pattern := range sp.batchHandlers {
			// Patterns present in both registries were grouped above
			if _, dup := sp.handlers[pattern]; dup {
				continue
			}
			if sp.matchesPattern(event, pattern) {
				key := taskKey{pattern, partition}
				groups[key] = append(groups[key], event)
			}
		}
	}

	tasks := make([]ProcessingTask, 0, len(groups))
	for key, group := range groups {
		for start := 0; start < len(group); start += sp.config.MaxBatchSize {
			end := start + sp.config.MaxBatchSize
			if end > len(group) {
				end = len(group)
			}
			tasks = append(tasks, ProcessingTask{
				Events:     group[start:end],
				Handler:    key.pattern,
				Partition:  key.partition,
				Timestamp:  time.Now(),
				MaxRetries: sp.config.MaxRetries,
			})
		}
	}

	return tasks
}

// matchesPattern reports whether an event matches a handler pattern.
func (sp *StreamProcessor) matchesPattern(event ChangeEvent, pattern string) bool {
	switch pattern {
	case "*",
		event.Table,
		event.QualifiedTable(),
		stringpool.Sprintf("%s.%s", event.Database, event.Table),
		string(event.Operation),
		stringpool.Sprintf("%s:%s", event.Table, event.Operation):
		return true
	}
	return false
}

// calculatePartition picks the worker partition for an event. With an
// ordering key configured, rows with the same key value stay ordered
// across tables; otherwise ordering is per table.
func (sp *StreamProcessor) calculatePartition(event ChangeEvent) int {
	key := event.Table

	if sp.config.OrderingKey != "" {
		if v, ok := event.After[sp.config.OrderingKey]; ok {
			key = stringpool.ValueToString(v)
		} else if v, ok := event.Before[sp.config.OrderingKey]; ok {
			key = stringpool.ValueToString(v)
		}
	}

	return fnvHash(key) % sp.config.ParallelWorkers
}

func fnvHash(s string) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32())
}

// worker consumes tasks until the processor stops.
func (sp *StreamProcessor) worker(id int) {
	defer sp.wg.Done()

	logger := sp.logger.With(zap.Int("worker_id", id))

	for {
		select {
		case task := <-sp.workCh:
			if err := sp.execute(task); err != nil {
				sp.retryOrBury(logger, task, err)
				continue
			}

			sp.metricsMutex.Lock()
			sp.metrics.EventsProcessed += int64(len(task.Events))
			sp.metrics.BatchesProcessed++
			sp.metricsMutex.Unlock()

		case <-sp.stopCh:
			return
		}
	}
}

// execute runs every handler registered under the task's pattern. The
// first handler failure aborts the task.
func (sp *StreamProcessor) execute(task ProcessingTask) error {
	sp.handlersMutex.RLock()
	handlers := sp.handlers[task.Handler]
	batchHandlers := sp.batchHandlers[task.Handler]
	sp.handlersMutex.RUnlock()

	ctx := context.Background()

	for _, handler := range handlers {
		for _, event := range task.Events {
			start := time.Now()
			err := handler(ctx, event)
			sp.observeHandler(task.Handler, 1, time.Since(start), err != nil)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeInternal, "event handler failed").
					WithDetail("pattern", task.Handler)
			}
		}
	}

	for _, handler := range batchHandlers {
		start := time.Now()
		err := handler(ctx, task.Events)
		sp.observeHandler(task.Handler, len(task.Events), time.Since(start), err != nil)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "batch event handler failed").
				WithDetail("pattern", task.Handler).
				WithDetail("event_count", len(task.Events))
		}
	}

	return nil
}

// observeHandler records one handler execution. Latency is smoothed
// toward recent executions.
func (sp *StreamProcessor) observeHandler(pattern string, eventCount int, elapsed time.Duration, failed bool) {
	sp.metricsMutex.Lock()
	defer sp.metricsMutex.Unlock()

	hm := sp.metrics.HandlerMetrics[pattern]
	hm.LastExecution = time.Now()
	if hm.AverageLatency == 0 {
		hm.AverageLatency = elapsed
	} else {
		hm.AverageLatency = (hm.AverageLatency + elapsed) / 2
	}
	if failed {
		hm.EventsErrored += int64(eventCount)
	} else {
		hm.EventsProcessed += int64(eventCount)
	}
	sp.metrics.HandlerMetrics[pattern] = hm
}

// retryOrBury requeues a failed task with exponential backoff, or sends
// it to the dead letter queue once retries are exhausted.
func (sp *StreamProcessor) retryOrBury(logger *zap.Logger, task ProcessingTask, err error) {
	if task.RetryCount < task.MaxRetries {
		task.RetryCount++
		backoff := sp.config.RetryBackoff << task.RetryCount

		logger.Warn("task failed, retrying",
			zap.String("handler", task.Handler),
			zap.Int("retry_count", task.RetryCount),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		go func() {
			time.Sleep(backoff)
			select {
			case sp.workCh <- task:
				sp.metricsMutex.Lock()
				sp.metrics.EventsRetried++
				sp.metricsMutex.Unlock()
			case <-sp.stopCh:
				// Processor is stopping, the retry is abandoned
			}
		}()
		return
	}

	logger.Error("task failed permanently",
		zap.String("handler", task.Handler),
		zap.Int("partition", task.Partition),
		zap.Int("event_count", len(task.Events)),
		zap.Int("retry_count", task.RetryCount),
		zap.Error(err))

	if sp.deadLetterQueue != nil {
		if dlqErr := sp.deadLetterQueue.Send(task, err); dlqErr != nil {
			logger.Error("failed to send task to dead letter queue",
				zap.Error(dlqErr),
				zap.String("original_error", err.Error()))
		}
	}

	sp.metricsMutex.Lock()
	sp.metrics.EventsErrored += int64(len(task.Events))
	sp.metricsMutex.Unlock()
}

// metricsLoop logs processing counters periodically for debugging.
func (sp *StreamProcessor) metricsLoop() {
	defer sp.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m := sp.GetMetrics()
			sp.logger.Debug("stream processing metrics",
				zap.Int64("events_received", m.EventsReceived),
				zap.Int64("events_processed", m.EventsProcessed),
				zap.Int64("events_errored", m.EventsErrored),
				zap.Float64("throughput_rps", m.ThroughputRPS),
				zap.Int64("backlog_size", m.BacklogSize))

		case <-sp.stopCh:
			return
		}
	}
}

// GetMetrics returns a snapshot of the processing counters. Throughput
// is computed over the processor's lifetime.
func (sp *StreamProcessor) GetMetrics() StreamMetrics {
	sp.metricsMutex.RLock()
	defer sp.metricsMutex.RUnlock()

	snapshot := sp.metrics
	if !sp.startTime.IsZero() {
		if elapsed := time.Since(sp.startTime); elapsed > 0 {
			snapshot.ThroughputRPS = float64(snapshot.EventsProcessed) / elapsed.Seconds()
		}
	}

	return snapshot
}

// GetDeadLetterQueueStats returns dead letter queue statistics, or the
// zero value when no queue is configured.
func (sp *StreamProcessor) GetDeadLetterQueueStats() DeadLetterStats {
	if sp.deadLetterQueue == nil {
		return DeadLetterStats{}
	}
	return sp.deadLetterQueue.GetStats()
}

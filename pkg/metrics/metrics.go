// Package metrics exposes the Prometheus collectors for the replication
// pipeline. Collectors register themselves on import and cover the three
// pipeline stages (process, produce, commit) plus WAL position tracking
// and type descriptor parse accounting, so callers only ever touch the
// package level vectors:
//
//	metrics.EventsDecoded.WithLabelValues("pgoutput", "INSERT").Inc()
//
//	timer := metrics.NewTimer("produce_batch")
//	err := producer.ProduceEvents(ctx, batch)
//	metrics.PipelineLatency.WithLabelValues("produce", "pgoutput").
//		Observe(float64(timer.Stop().Nanoseconds()))
//
// Serve the default registry over HTTP (promhttp.Handler) to scrape
// everything recorded here.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// latencyBuckets spans 100ns to 1s. Decode work for a single event sits
// in the low microseconds while a full produce round trip to Kafka can
// take tens of milliseconds, so the buckets stretch across both.
var latencyBuckets = []float64{100, 1000, 10000, 100000, 1e6, 1e7, 1e8, 1e9}

var (
	// EventsDecoded counts change events decoded from the replication
	// stream, labeled by plugin (pgoutput/wal2json) and operation.
	EventsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcdc_events_decoded_total",
			Help: "Total number of change events decoded from the replication stream",
		},
		[]string{"plugin", "operation"},
	)

	// EventsProduced counts change events handed to the sink, labeled
	// by delivery status (success/failure).
	EventsProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcdc_events_produced_total",
			Help: "Total number of change events delivered to the sink",
		},
		[]string{"status"},
	)

	// DecodeErrors counts errors surfaced by the replication connector,
	// labeled by plugin.
	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcdc_decode_errors_total",
			Help: "Total number of replication decode errors",
		},
		[]string{"plugin"},
	)

	// DescriptorsParsed counts type descriptor parses, labeled by result
	// (ok/error). Parsing is lazy, so this moves only when a consumer
	// actually asks a column for its metadata.
	DescriptorsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcdc_descriptors_parsed_total",
			Help: "Total number of column type descriptor parses",
		},
		[]string{"result"},
	)

	// OffsetCommits counts offset commit attempts, labeled by the commit
	// policy in force and the result (ok/error).
	OffsetCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcdc_offset_commits_total",
			Help: "Total number of offset commit attempts",
		},
		[]string{"policy", "result"},
	)

	// PipelineLatency observes per stage latency in nanoseconds,
	// labeled by stage (process/produce/commit) and plugin.
	PipelineLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgcdc_pipeline_latency_nanoseconds",
			Help:    "Pipeline stage latency in nanoseconds",
			Buckets: latencyBuckets,
		},
		[]string{"stage", "plugin"},
	)

	// WALPosition reports WAL positions as byte offsets, labeled by
	// slot and kind (current/committed).
	WALPosition = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgcdc_wal_position_bytes",
			Help: "WAL position as a byte offset",
		},
		[]string{"slot", "kind"},
	)

	// ReplicationLag reports the gap between the received and the
	// committed WAL position, labeled by slot.
	ReplicationLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgcdc_replication_lag_bytes",
			Help: "Bytes of WAL received but not yet committed",
		},
		[]string{"slot"},
	)

	// QueueDepth reports how many events sit in a named pipeline queue.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgcdc_queue_depth",
			Help: "Events waiting in a pipeline queue",
		},
		[]string{"queue_name"},
	)

	// Throughput reports events per second for a source to destination
	// pair. ThroughputTracker keeps it updated.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgcdc_throughput_events_per_second",
			Help: "Pipeline throughput in events per second",
		},
		[]string{"source", "destination"},
	)
)

// Timer measures elapsed time from its creation. The name is carried
// for log correlation only; nothing is recorded automatically.
type Timer struct {
	name  string
	start time.Time
}

// NewTimer starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now()}
}

// Stop returns the time elapsed since creation. Calling it again keeps
// measuring from the original start.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker accumulates an event count and converts it to
// events per second over the window since the last read. Safe for
// concurrent use.
type ThroughputTracker struct {
	source      string
	destination string

	mu          sync.Mutex
	events      int64
	windowStart time.Time
}

// NewThroughputTracker returns a tracker reporting under the given
// source and destination labels.
func NewThroughputTracker(source, destination string) *ThroughputTracker {
	return &ThroughputTracker{
		source:      source,
		destination: destination,
		windowStart: time.Now(),
	}
}

// Increment adds n processed events to the current window.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	t.events += n
	t.mu.Unlock()
}

// GetAndReset publishes the throughput of the window just ended to the
// Throughput gauge, starts a new window and returns the value.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.windowStart).Seconds()
	if elapsed <= 0 {
		return 0
	}
	throughput := float64(t.events) / elapsed

	t.events = 0
	t.windowStart = time.Now()

	Throughput.WithLabelValues(t.source, t.destination).Set(throughput)
	return throughput
}

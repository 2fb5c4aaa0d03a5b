// Package cdc streams change data capture events from PostgreSQL
// logical replication, with lazily parsed per-column type metadata.
package cdc

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pglogrepl"

	"github.com/ajitpratap0/pgcdc/pkg/errors"
	stringpool "github.com/ajitpratap0/pgcdc/pkg/strings"
)

// CDCConnector is the contract a change data capture source implements.
// The engine drives it through Connect, Subscribe and ReadChanges, and
// feeds handled positions back through Acknowledge.
type CDCConnector interface {
	// Connect validates the configuration and opens the source
	// connections.
	Connect(config CDCConfig) error

	// Subscribe registers the tables to stream and starts replication.
	Subscribe(tables []string) error

	// ReadChanges hands out the channel change events arrive on.
	ReadChanges(ctx context.Context) (<-chan ChangeEvent, error)

	// GetPosition reports the latest received replication position.
	GetPosition() Position

	// Acknowledge marks everything up to position as durably handled.
	Acknowledge(position Position) error

	// Stop ends replication and releases the connections.
	Stop() error

	// Health reports connector status and event counters.
	Health() HealthStatus
}

// Plugin identifies the logical decoding plugin feeding the stream.
type Plugin string

const (
	// PluginPgoutput is the built-in binary protocol. Column types
	// arrive as numeric OIDs on relation messages.
	PluginPgoutput Plugin = "pgoutput"
	// PluginWal2JSON emits JSON change records. Column types arrive as
	// textual type strings that need parsing.
	PluginWal2JSON Plugin = "wal2json"
)

// CDCConfig holds the replication settings for the PostgreSQL
// connector.
type CDCConfig struct {
	ConnectionString string        `json:"connection_string" yaml:"connection_string"`
	Database         string        `json:"database" yaml:"database"`
	Tables           []string      `json:"tables" yaml:"tables"`
	SlotName         string        `json:"slot_name" yaml:"slot_name"`
	Publication      string        `json:"publication" yaml:"publication"`
	Plugin           Plugin        `json:"plugin" yaml:"plugin"`
	StartLSN         string        `json:"start_lsn,omitempty" yaml:"start_lsn,omitempty"`
	TemporarySlot    bool          `json:"temporary_slot" yaml:"temporary_slot"`
	StatusInterval   time.Duration `json:"status_interval" yaml:"status_interval"`
	BufferSize       int           `json:"buffer_size" yaml:"buffer_size"`
}

// Validate validates the connector configuration and fills defaults.
func (c *CDCConfig) Validate() error {
	if c.ConnectionString == "" {
		return errors.New(errors.ErrorTypeConfig, "connection string is required")
	}

	if c.Database == "" {
		return errors.New(errors.ErrorTypeConfig, "database name is required")
	}

	if len(c.Tables) == 0 {
		return errors.New(errors.ErrorTypeConfig, "at least one table must be specified")
	}

	switch c.Plugin {
	case "":
		c.Plugin = PluginPgoutput
	case PluginPgoutput, PluginWal2JSON:
	default:
		return errors.New(errors.ErrorTypeConfig,
			stringpool.Sprintf("unsupported decoding plugin: %s", c.Plugin))
	}

	if c.StartLSN != "" {
		if _, err := pglogrepl.ParseLSN(c.StartLSN); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid start LSN")
		}
	}

	if c.SlotName == "" {
		c.SlotName = "pgcdc_slot"
	}

	if c.Publication == "" {
		c.Publication = "pgcdc_pub"
	}

	if c.StatusInterval <= 0 {
		c.StatusInterval = 10 * time.Second
	}

	if c.BufferSize <= 0 {
		c.BufferSize = 10000
	}

	return nil
}

// OperationType is the kind of change a WAL record describes.
type OperationType string

const (
	OperationInsert   OperationType = "INSERT"
	OperationUpdate   OperationType = "UPDATE"
	OperationDelete   OperationType = "DELETE"
	OperationTruncate OperationType = "TRUNCATE"
	OperationBegin    OperationType = "BEGIN"
	OperationCommit   OperationType = "COMMIT"
)

// ChangeEvent is one decoded change: the row images plus the WAL
// position the change arrived at.
type ChangeEvent struct {
	ID            string                 `json:"id"`
	Operation     OperationType          `json:"operation"`
	Database      string                 `json:"database"`
	Schema        string                 `json:"schema,omitempty"`
	Table         string                 `json:"table"`
	Before        map[string]interface{} `json:"before,omitempty"`
	After         map[string]interface{} `json:"after,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Position      Position               `json:"position"`
	TransactionID uint32                 `json:"transaction_id,omitempty"`

	// Columns carries per-column lazy type metadata. It is populated
	// by the decoding plugin adapter and not serialized.
	Columns []*Column `json:"-"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Source   SourceInfo             `json:"source"`
}

// QualifiedTable returns "<schema>.<table>", or just the table name
// when no schema is known.
func (ce *ChangeEvent) QualifiedTable() string {
	if ce.Schema == "" {
		return ce.Table
	}
	return stringpool.Concat(ce.Schema, ".", ce.Table)
}

// Column returns the named column's lazy metadata, or nil when the
// event does not carry it.
func (ce *ChangeEvent) Column(name string) *Column {
	for _, col := range ce.Columns {
		if col.Name() == name {
			return col
		}
	}
	return nil
}

// Position is a location in the WAL stream. It serializes as the
// textual LSN form, e.g. "0/16B3748".
type Position struct {
	LSN pglogrepl.LSN
}

// ParsePosition parses the textual LSN form.
func ParsePosition(s string) (Position, error) {
	lsn, err := pglogrepl.ParseLSN(s)
	if err != nil {
		return Position{}, errors.Wrap(err, errors.ErrorTypeData, "failed to parse LSN")
	}
	return Position{LSN: lsn}, nil
}

// String returns the textual LSN representation
func (p Position) String() string {
	return p.LSN.String()
}

// IsValid reports whether the position has been set.
func (p Position) IsValid() bool {
	return p.LSN > 0
}

// Compare returns -1, 0 or 1 for less, equal, greater
func (p Position) Compare(other Position) int {
	switch {
	case p.LSN < other.LSN:
		return -1
	case p.LSN > other.LSN:
		return 1
	}
	return 0
}

func (p Position) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(p.LSN.String())), nil
}

func (p *Position) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "position must be a JSON string")
	}
	if s == "" {
		p.LSN = 0
		return nil
	}
	lsn, err := pglogrepl.ParseLSN(s)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to parse LSN")
	}
	p.LSN = lsn
	return nil
}

// SourceInfo identifies where an event originated.
type SourceInfo struct {
	Name      string    `json:"name"`
	Database  string    `json:"database"`
	Schema    string    `json:"schema,omitempty"`
	Table     string    `json:"table"`
	Plugin    Plugin    `json:"plugin"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus is a point in time snapshot of connector health.
type HealthStatus struct {
	Status     string                 `json:"status"`
	Message    string                 `json:"message,omitempty"`
	LastEvent  time.Time              `json:"last_event"`
	EventCount int64                  `json:"event_count"`
	ErrorCount int64                  `json:"error_count"`
	Lag        time.Duration          `json:"lag,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// IsHealthy reports whether the connector is in a working state.
func (h HealthStatus) IsHealthy() bool {
	return h.Status == "healthy" || h.Status == "running"
}

// EventFilter selects which change events continue down the pipeline.
// A zero filter includes everything.
type EventFilter struct {
	IncludeTables []string          `json:"include_tables,omitempty"`
	ExcludeTables []string          `json:"exclude_tables,omitempty"`
	Operations    []OperationType   `json:"operations,omitempty"`
	Conditions    []FilterCondition `json:"conditions,omitempty"`
}

// FilterCondition compares one row field against a value.
type FilterCondition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"` // eq, ne, lt, gt, lte, gte, in, like
	Value    interface{} `json:"value"`
}

// EventHandler processes a single change event.
type EventHandler func(ctx context.Context, event ChangeEvent) error

// BatchEventHandler processes a batch of change events in one call.
type BatchEventHandler func(ctx context.Context, events []ChangeEvent) error

// StreamingConfig tunes the stream processor's batching, retries and
// parallelism.
type StreamingConfig struct {
	MaxBatchSize    int           `json:"max_batch_size" yaml:"max_batch_size"`
	BatchTimeout    time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
	MaxRetries      int           `json:"max_retries" yaml:"max_retries"`
	RetryBackoff    time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
	DeadLetterQueue bool          `json:"dead_letter_queue" yaml:"dead_letter_queue"`
	ParallelWorkers int           `json:"parallel_workers" yaml:"parallel_workers"`
	OrderingKey     string        `json:"ordering_key,omitempty" yaml:"ordering_key,omitempty"`
}

// Validate fills unset streaming options with their defaults.
func (c *StreamingConfig) Validate() error {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 1000
	}

	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Second
	}

	if c.MaxRetries < 0 {
		c.MaxRetries = 3
	}

	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 1 * time.Second
	}

	if c.ParallelWorkers <= 0 {
		c.ParallelWorkers = 1
	}

	return nil
}

// Checkpoint records a durable position in the stream. It is the unit
// the offset store persists and the engine resumes from.
type Checkpoint struct {
	ID          string                 `json:"id"`
	Position    Position               `json:"position"`
	Timestamp   time.Time              `json:"timestamp"`
	EventCount  int64                  `json:"event_count"`
	ProcessedAt time.Time              `json:"processed_at"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// EventMetrics aggregates stream processing counters.
type EventMetrics struct {
	EventsReceived    int64         `json:"events_received"`
	EventsProcessed   int64         `json:"events_processed"`
	EventsFiltered    int64         `json:"events_filtered"`
	EventsErrored     int64         `json:"events_errored"`
	ProcessingLatency time.Duration `json:"processing_latency"`
	ThroughputRPS     float64       `json:"throughput_rps"`
	LastEventTime     time.Time     `json:"last_event_time"`
	BacklogSize       int64         `json:"backlog_size"`
}

// AddCondition appends a field comparison to the filter.
func (f *EventFilter) AddCondition(field, operator string, value interface{}) {
	f.Conditions = append(f.Conditions, FilterCondition{
		Field:    field,
		Operator: operator,
		Value:    value,
	})
}

// ShouldInclude reports whether the filter lets the event through.
func (f *EventFilter) ShouldInclude(event ChangeEvent) bool {
	if len(f.IncludeTables) > 0 && !matchesAnyTable(f.IncludeTables, event) {
		return false
	}
	if matchesAnyTable(f.ExcludeTables, event) {
		return false
	}
	if len(f.Operations) > 0 && !slices.Contains(f.Operations, event.Operation) {
		return false
	}
	for _, condition := range f.Conditions {
		if !condition.matches(event) {
			return false
		}
	}
	return true
}

// matchesAnyTable accepts both bare and schema qualified table names.
func matchesAnyTable(tables []string, event ChangeEvent) bool {
	for _, table := range tables {
		if table == event.Table || table == event.QualifiedTable() {
			return true
		}
	}
	return false
}

// matches evaluates the condition against the event's row images.
func (c FilterCondition) matches(event ChangeEvent) bool {
	fieldValue := lookupField(event, c.Field)

	switch c.Operator {
	case "eq", "=":
		return stringpool.ValueToString(fieldValue) == stringpool.ValueToString(c.Value)
	case "ne", "!=":
		return stringpool.ValueToString(fieldValue) != stringpool.ValueToString(c.Value)
	case "gt", ">":
		return compareValues(fieldValue, c.Value) > 0
	case "lt", "<":
		return compareValues(fieldValue, c.Value) < 0
	case "gte", ">=":
		return compareValues(fieldValue, c.Value) >= 0
	case "lte", "<=":
		return compareValues(fieldValue, c.Value) <= 0
	case "in":
		values, ok := c.Value.([]interface{})
		if !ok {
			return false
		}
		want := stringpool.ValueToString(fieldValue)
		for _, v := range values {
			if stringpool.ValueToString(v) == want {
				return true
			}
		}
		return false
	case "like":
		pattern := stringpool.ValueToString(c.Value)
		return pattern == "%" || stringpool.ValueToString(fieldValue) == pattern
	}

	// Unknown operators never filter an event out.
	return true
}

// lookupField finds a field value in the after image first, the before
// image second. A NULL in the after image falls through to the before
// image.
func lookupField(event ChangeEvent, field string) interface{} {
	if val := event.After[field]; val != nil {
		return val
	}
	return event.Before[field]
}

// compareValues orders two values by their canonical string forms.
func compareValues(a, b interface{}) int {
	return strings.Compare(stringpool.ValueToString(a), stringpool.ValueToString(b))
}

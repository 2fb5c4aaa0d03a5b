package cdc

import (
	"bytes"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/pgcdc/pkg/errors"
	jsonpool "github.com/ajitpratap0/pgcdc/pkg/json"
	"github.com/ajitpratap0/pgcdc/pkg/pgoid"
	stringpool "github.com/ajitpratap0/pgcdc/pkg/strings"
	"github.com/ajitpratap0/pgcdc/pkg/typemeta"
)

// wal2json format version 1 payload shapes. One payload carries all
// changes of a transaction.
type wal2jsonMessage struct {
	Xid       uint32           `json:"xid"`
	Timestamp string           `json:"timestamp"`
	Change    []wal2jsonChange `json:"change"`
}

type wal2jsonChange struct {
	Kind         string        `json:"kind"`
	Schema       string        `json:"schema"`
	Table        string        `json:"table"`
	ColumnNames  []string      `json:"columnnames"`
	ColumnTypes  []string      `json:"columntypes"`
	ColumnValues []interface{} `json:"columnvalues"`
	OldKeys      *wal2jsonKeys `json:"oldkeys,omitempty"`
}

type wal2jsonKeys struct {
	KeyNames  []string      `json:"keynames"`
	KeyTypes  []string      `json:"keytypes"`
	KeyValues []interface{} `json:"keyvalues"`
}

// wal2jsonTimestampLayout matches include-timestamp output
const wal2jsonTimestampLayout = "2006-01-02 15:04:05.999999-07"

// NullabilityFunc reports whether a column accepts NULL. Decoders use
// it to enrich column metadata from the session's schema cache.
type NullabilityFunc func(schema, table, column string) bool

// Wal2JSONDecoder turns wal2json (format version 1) payloads into
// ChangeEvents. Column type strings are attached as lazy metadata and
// parsed only when a consumer asks for them.
//
// A decoder belongs to a single replication session goroutine; the name
// interner it carries is not safe for concurrent use.
type Wal2JSONDecoder struct {
	database string
	parser   *typemeta.Parser
	resolver OidResolver
	nullable NullabilityFunc
	names    *stringpool.Intern
	logger   *zap.Logger
}

// NewWal2JSONDecoder builds a decoder for one replication session. A
// nil registry falls back to pgoid.DefaultRegistry, a nil nullable
// treats every column as nullable.
func NewWal2JSONDecoder(database string, registry *pgoid.Registry, nullable NullabilityFunc, logger *zap.Logger) *Wal2JSONDecoder {
	if registry == nil {
		registry = pgoid.DefaultRegistry()
	}
	if nullable == nil {
		nullable = func(string, string, string) bool { return true }
	}
	return &Wal2JSONDecoder{
		database: database,
		parser:   typemeta.DefaultParser(),
		resolver: registryResolver{registry: registry},
		nullable: nullable,
		names:    stringpool.NewIntern(),
		logger:   logger.With(zap.String("decoder", "wal2json")),
	}
}

// Decode parses one wal2json payload into change events. pos is the
// WAL location the payload was read at and is stamped on every event.
func (d *Wal2JSONDecoder) Decode(walData []byte, pos Position) ([]ChangeEvent, error) {
	decoder := jsonpool.GetDecoder(bytes.NewReader(walData))
	defer jsonpool.PutDecoder(decoder)

	var msg wal2jsonMessage
	if err := decoder.Decode(&msg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode wal2json payload").
			WithDetail("lsn", pos.String())
	}

	timestamp := time.Now()
	if msg.Timestamp != "" {
		if ts, err := time.Parse(wal2jsonTimestampLayout, msg.Timestamp); err == nil {
			timestamp = ts
		}
	}

	events := make([]ChangeEvent, 0, len(msg.Change))
	for i := range msg.Change {
		change := &msg.Change[i]

		operation, ok := operationFromKind(change.Kind)
		if !ok {
			// wal2json also emits "message" records for logical
			// decoding messages, which have no tabular payload
			d.logger.Debug("skipping change of unsupported kind",
				zap.String("kind", change.Kind),
				zap.String("table", change.Table))
			continue
		}

		event, err := d.buildEvent(change, operation, msg.Xid, timestamp, pos)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, nil
}

func (d *Wal2JSONDecoder) buildEvent(change *wal2jsonChange, operation OperationType, xid uint32, timestamp time.Time, pos Position) (ChangeEvent, error) {
	schema := d.names.Get(change.Schema)
	table := d.names.Get(change.Table)

	event := ChangeEvent{
		ID:            stringpool.Sprintf("pg_%d_%s", time.Now().UnixNano(), pos.String()),
		Operation:     operation,
		Database:      d.database,
		Schema:        schema,
		Table:         table,
		Timestamp:     timestamp,
		Position:      pos,
		TransactionID: xid,
		Source: SourceInfo{
			Name:      stringpool.Sprintf("postgresql_%s", d.database),
			Database:  d.database,
			Schema:    schema,
			Table:     table,
			Plugin:    PluginWal2JSON,
			Timestamp: timestamp,
		},
	}

	switch operation {
	case OperationInsert, OperationUpdate:
		after, err := d.tupleToMap(change.ColumnNames, change.ColumnValues, table)
		if err != nil {
			return ChangeEvent{}, err
		}
		event.After = after

		columns, err := d.buildColumns(schema, table, change.ColumnNames, change.ColumnTypes)
		if err != nil {
			return ChangeEvent{}, err
		}
		event.Columns = columns

		if operation == OperationUpdate && change.OldKeys != nil {
			before, err := d.tupleToMap(change.OldKeys.KeyNames, change.OldKeys.KeyValues, table)
			if err != nil {
				return ChangeEvent{}, err
			}
			event.Before = before
		}

	case OperationDelete:
		if change.OldKeys != nil {
			before, err := d.tupleToMap(change.OldKeys.KeyNames, change.OldKeys.KeyValues, table)
			if err != nil {
				return ChangeEvent{}, err
			}
			event.Before = before

			columns, err := d.buildColumns(schema, table, change.OldKeys.KeyNames, change.OldKeys.KeyTypes)
			if err != nil {
				return ChangeEvent{}, err
			}
			event.Columns = columns
		}

	case OperationTruncate:
		// no tuple data
	}

	return event, nil
}

// buildColumns attaches lazy type metadata for each column. The type
// strings stay unparsed until somebody asks.
func (d *Wal2JSONDecoder) buildColumns(schema, table string, names, types []string) ([]*Column, error) {
	if len(names) != len(types) {
		return nil, errors.New(errors.ErrorTypeData, "column name and type counts differ").
			WithDetail("table", table).
			WithDetail("names", len(names)).
			WithDetail("types", len(types))
	}

	columns := make([]*Column, len(names))
	for i, name := range names {
		interned := d.names.Get(name)
		columns[i] = NewColumn(interned, types[i], d.nullable(schema, table, interned), true, d.parser, d.resolver)
	}
	return columns, nil
}

func (d *Wal2JSONDecoder) tupleToMap(names []string, values []interface{}, table string) (map[string]interface{}, error) {
	if len(names) != len(values) {
		return nil, errors.New(errors.ErrorTypeData, "column name and value counts differ").
			WithDetail("table", table).
			WithDetail("names", len(names)).
			WithDetail("values", len(values))
	}

	result := make(map[string]interface{}, len(names))
	for i, name := range names {
		// Values keep their json.Number form so bigint and numeric
		// survive without float rounding
		result[d.names.Get(name)] = values[i]
	}
	return result, nil
}

func operationFromKind(kind string) (OperationType, bool) {
	switch kind {
	case "insert":
		return OperationInsert, true
	case "update":
		return OperationUpdate, true
	case "delete":
		return OperationDelete, true
	case "truncate":
		return OperationTruncate, true
	}
	return "", false
}

// registryResolver resolves OIDs from parsed type metadata against a
// catalog registry. For arrays it resolves the element type; Column
// reports the array itself as anyarray.
type registryResolver struct {
	registry *pgoid.Registry
}

func (r registryResolver) ResolveOid(meta *typemeta.Descriptor) (pgoid.Oid, error) {
	if meta == nil {
		return 0, errors.New(errors.ErrorTypeContract, "wal2json columns require parsed type metadata")
	}
	name := meta.Name()
	if meta.IsArray() {
		name = name[1:]
	}
	return r.registry.Resolve(name)
}

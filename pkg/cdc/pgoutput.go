package cdc

import (
	"strconv"
	"time"

	"github.com/jackc/pglogrepl"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pgcdc/pkg/errors"
	"github.com/ajitpratap0/pgcdc/pkg/pgoid"
	stringpool "github.com/ajitpratap0/pgcdc/pkg/strings"
	"github.com/ajitpratap0/pgcdc/pkg/typemeta"
)

const (
	pgoutputTimestampLayout   = "2006-01-02 15:04:05.999999"
	pgoutputTimestamptzLayout = "2006-01-02 15:04:05.999999-07"
)

// wireOidResolver reports the OID the relation message carried for the
// column. Pgoutput columns have no type metadata to consult, so the
// descriptor argument is ignored.
type wireOidResolver struct {
	oid pgoid.Oid
}

func (r wireOidResolver) ResolveOid(*typemeta.Descriptor) (pgoid.Oid, error) {
	return r.oid, nil
}

// PgoutputDecoder turns pgoutput logical replication messages into
// ChangeEvents. Relation messages describe table shape and must arrive
// before the DML messages that reference them, which the protocol
// guarantees per session. The decoder is confined to the replication
// goroutine and keeps no locks.
type PgoutputDecoder struct {
	database  string
	relations map[uint32]*pglogrepl.RelationMessage
	nullable  NullabilityFunc
	names     *stringpool.Intern
	logger    *zap.Logger

	xid        uint32
	commitTime time.Time
}

// NewPgoutputDecoder creates a decoder for the named database. nullable
// reports column nullability looked up from the catalog; nil treats every
// column as nullable.
func NewPgoutputDecoder(database string, nullable NullabilityFunc, logger *zap.Logger) *PgoutputDecoder {
	if nullable == nil {
		nullable = func(schema, table, column string) bool { return true }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgoutputDecoder{
		database:  database,
		relations: make(map[uint32]*pglogrepl.RelationMessage),
		nullable:  nullable,
		names:     stringpool.NewIntern(),
		logger:    logger.With(zap.String("decoder", "pgoutput")),
	}
}

// Decode parses one pgoutput message. Relation, begin, commit, type and
// origin messages update decoder state and yield no events.
func (d *PgoutputDecoder) Decode(walData []byte, pos Position) ([]ChangeEvent, error) {
	logicalMsg, err := pglogrepl.Parse(walData)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse pgoutput message").
			WithDetail("lsn", pos.String())
	}

	switch msg := logicalMsg.(type) {
	case *pglogrepl.RelationMessage:
		d.relations[msg.RelationID] = msg
		return nil, nil

	case *pglogrepl.BeginMessage:
		d.xid = msg.Xid
		d.commitTime = msg.CommitTime
		return nil, nil

	case *pglogrepl.CommitMessage:
		d.xid = 0
		d.commitTime = time.Time{}
		return nil, nil

	case *pglogrepl.InsertMessage:
		rel, err := d.relation(msg.RelationID, "insert")
		if err != nil {
			return nil, err
		}
		after, err := d.tupleToMap(rel, msg.Tuple)
		if err != nil {
			return nil, err
		}
		event := d.buildEvent(OperationInsert, rel, pos)
		event.After = after
		return []ChangeEvent{event}, nil

	case *pglogrepl.UpdateMessage:
		rel, err := d.relation(msg.RelationID, "update")
		if err != nil {
			return nil, err
		}
		after, err := d.tupleToMap(rel, msg.NewTuple)
		if err != nil {
			return nil, err
		}
		event := d.buildEvent(OperationUpdate, rel, pos)
		event.After = after
		if msg.OldTuple != nil {
			before, err := d.tupleToMap(rel, msg.OldTuple)
			if err != nil {
				return nil, err
			}
			event.Before = before
		}
		return []ChangeEvent{event}, nil

	case *pglogrepl.DeleteMessage:
		rel, err := d.relation(msg.RelationID, "delete")
		if err != nil {
			return nil, err
		}
		before, err := d.tupleToMap(rel, msg.OldTuple)
		if err != nil {
			return nil, err
		}
		event := d.buildEvent(OperationDelete, rel, pos)
		event.Before = before
		return []ChangeEvent{event}, nil

	case *pglogrepl.TruncateMessage:
		events := make([]ChangeEvent, 0, len(msg.RelationIDs))
		for _, relID := range msg.RelationIDs {
			rel, err := d.relation(relID, "truncate")
			if err != nil {
				return nil, err
			}
			event := d.buildEvent(OperationTruncate, rel, pos)
			event.Columns = nil
			events = append(events, event)
		}
		return events, nil

	default:
		d.logger.Debug("Skipping pgoutput message",
			zap.String("type", logicalMsg.Type().String()))
		return nil, nil
	}
}

func (d *PgoutputDecoder) relation(id uint32, kind string) (*pglogrepl.RelationMessage, error) {
	rel, ok := d.relations[id]
	if !ok {
		return nil, errors.New(errors.ErrorTypeData,
			stringpool.Sprintf("received %s for unknown relation %d", kind, id)).
			WithDetail("relation_id", strconv.FormatUint(uint64(id), 10))
	}
	return rel, nil
}

func (d *PgoutputDecoder) buildEvent(op OperationType, rel *pglogrepl.RelationMessage, pos Position) ChangeEvent {
	timestamp := d.commitTime
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	schema := d.names.Get(rel.Namespace)
	table := d.names.Get(rel.RelationName)

	columns := make([]*Column, len(rel.Columns))
	for i, col := range rel.Columns {
		name := d.names.Get(col.Name)
		columns[i] = NewColumn(name, "",
			d.nullable(schema, table, name), false,
			nil, wireOidResolver{oid: pgoid.Oid(col.DataType)})
	}

	return ChangeEvent{
		ID:            stringpool.Sprintf("pg_%d_%s", time.Now().UnixNano(), pos.String()),
		Operation:     op,
		Database:      d.database,
		Schema:        schema,
		Table:         table,
		Timestamp:     timestamp,
		Position:      pos,
		TransactionID: d.xid,
		Columns:       columns,
		Source: SourceInfo{
			Name:      stringpool.Concat("postgresql_", d.database),
			Database:  d.database,
			Schema:    schema,
			Table:     table,
			Plugin:    PluginPgoutput,
			Timestamp: timestamp,
		},
	}
}

// tupleToMap decodes the wire tuple against the relation's column list.
// Unchanged TOAST columns are omitted rather than set to nil so consumers
// can tell "not sent" from "null".
func (d *PgoutputDecoder) tupleToMap(rel *pglogrepl.RelationMessage, tuple *pglogrepl.TupleData) (map[string]interface{}, error) {
	if tuple == nil {
		return nil, nil
	}
	if len(tuple.Columns) != len(rel.Columns) {
		return nil, errors.New(errors.ErrorTypeData, "tuple column count does not match relation").
			WithDetail("table", rel.RelationName).
			WithDetail("tuple_columns", strconv.Itoa(len(tuple.Columns))).
			WithDetail("relation_columns", strconv.Itoa(len(rel.Columns)))
	}

	result := make(map[string]interface{}, len(tuple.Columns))
	for i, col := range tuple.Columns {
		name := d.names.Get(rel.Columns[i].Name)
		switch col.DataType {
		case 'n':
			result[name] = nil
		case 'u':
			// unchanged TOAST value, not present on the wire
		case 't':
			result[name] = decodeWireValue(col.Data, pgoid.Oid(rel.Columns[i].DataType))
		}
	}
	return result, nil
}

// decodeWireValue converts the text-format wire value into a Go value
// based on the column's wire OID. Values that fail to parse stay strings
// so a malformed cell never poisons the event.
func decodeWireValue(data []byte, oid pgoid.Oid) interface{} {
	text := string(data)
	switch oid {
	case pgoid.Int2OID, pgoid.Int4OID, pgoid.Int8OID:
		if v, err := strconv.ParseInt(text, 10, 64); err == nil {
			return v
		}
	case pgoid.Float4OID, pgoid.Float8OID:
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			return v
		}
	case pgoid.BoolOID:
		return text == "t"
	case pgoid.TimestampOID:
		if v, err := time.Parse(pgoutputTimestampLayout, text); err == nil {
			return v
		}
	case pgoid.TimestamptzOID:
		if v, err := time.Parse(pgoutputTimestamptzLayout, text); err == nil {
			return v
		}
	}
	// numeric stays textual to preserve precision
	return text
}

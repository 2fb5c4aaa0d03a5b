package cdc

import (
	"fmt"

	"github.com/linkedin/goavro/v2"

	jsonpool "github.com/ajitpratap0/pgcdc/pkg/json"
)

// MessageSerializer turns change events into Kafka message payloads.
type MessageSerializer interface {
	Serialize(event ChangeEvent) ([]byte, error)
	SerializeKey(event ChangeEvent) ([]byte, error)
	ContentType() string
}

// JSONMessageSerializer serializes events as JSON documents.
type JSONMessageSerializer struct{}

// Serialize encodes the full change event.
func (s *JSONMessageSerializer) Serialize(event ChangeEvent) ([]byte, error) {
	return jsonpool.Marshal(event)
}

// SerializeKey encodes the partitioning key.
func (s *JSONMessageSerializer) SerializeKey(event ChangeEvent) ([]byte, error) {
	return jsonpool.Marshal(eventKey(event))
}

// ContentType reports the payload media type.
func (s *JSONMessageSerializer) ContentType() string {
	return "application/json"
}

// eventKey builds the partitioning key from database, table and the "id"
// column when the event carries one.
func eventKey(event ChangeEvent) map[string]interface{} {
	key := map[string]interface{}{
		"database": event.Database,
		"table":    event.Table,
	}

	if event.After != nil {
		if id, exists := event.After["id"]; exists {
			key["id"] = id
		}
	} else if event.Before != nil {
		if id, exists := event.Before["id"]; exists {
			key["id"] = id
		}
	}

	return key
}

// changeEventAvroSchema is the Avro envelope for change events. Row images
// are nested JSON text because their shape varies per table.
const changeEventAvroSchema = `{
	"type": "record",
	"name": "ChangeEvent",
	"namespace": "pgcdc",
	"fields": [
		{"name": "id", "type": "string"},
		{"name": "operation", "type": "string"},
		{"name": "database", "type": "string"},
		{"name": "schema", "type": "string", "default": ""},
		{"name": "table", "type": "string"},
		{"name": "before", "type": ["null", "string"], "default": null},
		{"name": "after", "type": ["null", "string"], "default": null},
		{"name": "timestamp_micros", "type": "long"},
		{"name": "position", "type": "string"},
		{"name": "transaction_id", "type": "long", "default": 0}
	]
}`

// AvroMessageSerializer serializes events with the binary Avro codec.
type AvroMessageSerializer struct {
	codec *goavro.Codec
}

// NewAvroMessageSerializer compiles the change event schema.
func NewAvroMessageSerializer() (*AvroMessageSerializer, error) {
	codec, err := goavro.NewCodec(changeEventAvroSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile Avro schema: %w", err)
	}
	return &AvroMessageSerializer{codec: codec}, nil
}

// Serialize encodes a ChangeEvent into binary Avro.
func (s *AvroMessageSerializer) Serialize(event ChangeEvent) ([]byte, error) {
	before, err := avroRowImage(event.Before)
	if err != nil {
		return nil, err
	}
	after, err := avroRowImage(event.After)
	if err != nil {
		return nil, err
	}

	record := map[string]interface{}{
		"id":               event.ID,
		"operation":        string(event.Operation),
		"database":         event.Database,
		"schema":           event.Schema,
		"table":            event.Table,
		"before":           before,
		"after":            after,
		"timestamp_micros": event.Timestamp.UnixMicro(),
		"position":         event.Position.String(),
		"transaction_id":   int64(event.TransactionID),
	}

	return s.codec.BinaryFromNative(nil, record)
}

// SerializeKey encodes the partitioning key. Keys stay JSON so consumers
// can partition without an Avro decoder.
func (s *AvroMessageSerializer) SerializeKey(event ChangeEvent) ([]byte, error) {
	return jsonpool.Marshal(eventKey(event))
}

// ContentType reports the payload media type.
func (s *AvroMessageSerializer) ContentType() string {
	return "application/avro"
}

// Decode turns a binary Avro payload back into the native record form.
// Used by tests and tooling that inspect produced messages.
func (s *AvroMessageSerializer) Decode(data []byte) (map[string]interface{}, error) {
	decoded, _, err := s.codec.NativeFromBinary(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Avro payload: %w", err)
	}
	record, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected Avro payload type %T", decoded)
	}
	return record, nil
}

// avroRowImage wraps a row image for the ["null","string"] union.
func avroRowImage(row map[string]interface{}) (interface{}, error) {
	if row == nil {
		return nil, nil
	}
	data, err := jsonpool.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("failed to encode row image: %w", err)
	}
	return map[string]interface{}{"string": string(data)}, nil
}

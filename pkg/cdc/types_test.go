package cdc_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pgcdc/pkg/cdc"
	"github.com/ajitpratap0/pgcdc/pkg/errors"
	jsonpool "github.com/ajitpratap0/pgcdc/pkg/json"
)

func TestCDCConfigValidate(t *testing.T) {
	valid := func() cdc.CDCConfig {
		return cdc.CDCConfig{
			ConnectionString: "postgres://localhost:5432/shopdb",
			Database:         "shopdb",
			Tables:           []string{"orders"},
		}
	}

	t.Run("fills defaults", func(t *testing.T) {
		cfg := valid()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, cdc.PluginPgoutput, cfg.Plugin)
		assert.Equal(t, "pgcdc_slot", cfg.SlotName)
		assert.Equal(t, "pgcdc_pub", cfg.Publication)
		assert.Equal(t, 10*time.Second, cfg.StatusInterval)
		assert.Equal(t, 10000, cfg.BufferSize)
	})

	t.Run("accepts wal2json", func(t *testing.T) {
		cfg := valid()
		cfg.Plugin = cdc.PluginWal2JSON
		require.NoError(t, cfg.Validate())
		assert.Equal(t, cdc.PluginWal2JSON, cfg.Plugin)
	})

	t.Run("rejects unknown plugin", func(t *testing.T) {
		cfg := valid()
		cfg.Plugin = "decoderbufs"
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	})

	t.Run("requires connection string", func(t *testing.T) {
		cfg := valid()
		cfg.ConnectionString = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("requires database", func(t *testing.T) {
		cfg := valid()
		cfg.Database = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("requires tables", func(t *testing.T) {
		cfg := valid()
		cfg.Tables = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("validates start LSN", func(t *testing.T) {
		cfg := valid()
		cfg.StartLSN = "not-an-lsn"
		assert.Error(t, cfg.Validate())

		cfg = valid()
		cfg.StartLSN = "0/16B3748"
		assert.NoError(t, cfg.Validate())
	})
}

func TestParsePosition(t *testing.T) {
	pos, err := cdc.ParsePosition("0/16B3748")
	require.NoError(t, err)
	assert.Equal(t, "0/16B3748", pos.String())
	assert.True(t, pos.IsValid())

	_, err = cdc.ParsePosition("bogus")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestPositionCompare(t *testing.T) {
	low, err := cdc.ParsePosition("0/16B3748")
	require.NoError(t, err)
	high, err := cdc.ParsePosition("1/0")
	require.NoError(t, err)

	assert.Equal(t, -1, low.Compare(high))
	assert.Equal(t, 1, high.Compare(low))
	assert.Equal(t, 0, low.Compare(low))
	assert.False(t, cdc.Position{}.IsValid())
}

func TestPositionJSONRoundTrip(t *testing.T) {
	pos, err := cdc.ParsePosition("0/16B3748")
	require.NoError(t, err)

	data, err := jsonpool.Marshal(pos)
	require.NoError(t, err)
	assert.Equal(t, `"0/16B3748"`, string(data))

	var decoded cdc.Position
	require.NoError(t, jsonpool.Unmarshal(data, &decoded))
	assert.Equal(t, pos, decoded)

	// Empty string decodes to the zero position
	require.NoError(t, jsonpool.Unmarshal([]byte(`""`), &decoded))
	assert.False(t, decoded.IsValid())

	assert.Error(t, jsonpool.Unmarshal([]byte(`"nonsense"`), &decoded))
}

func TestQualifiedTable(t *testing.T) {
	event := cdc.ChangeEvent{Schema: "public", Table: "orders"}
	assert.Equal(t, "public.orders", event.QualifiedTable())

	event.Schema = ""
	assert.Equal(t, "orders", event.QualifiedTable())
}

func TestChangeEventColumnLookup(t *testing.T) {
	col := cdc.NewColumn("id", "bigint", false, true, nil, nil)
	event := cdc.ChangeEvent{Columns: []*cdc.Column{col}}

	assert.Same(t, col, event.Column("id"))
	assert.Nil(t, event.Column("missing"))
}

func TestEventFilterTables(t *testing.T) {
	event := cdc.ChangeEvent{
		Schema:    "public",
		Table:     "orders",
		Operation: cdc.OperationInsert,
	}

	filter := &cdc.EventFilter{IncludeTables: []string{"orders"}}
	assert.True(t, filter.ShouldInclude(event))

	filter = &cdc.EventFilter{IncludeTables: []string{"public.orders"}}
	assert.True(t, filter.ShouldInclude(event))

	filter = &cdc.EventFilter{IncludeTables: []string{"customers"}}
	assert.False(t, filter.ShouldInclude(event))

	filter = &cdc.EventFilter{ExcludeTables: []string{"public.orders"}}
	assert.False(t, filter.ShouldInclude(event))
}

func TestEventFilterOperations(t *testing.T) {
	event := cdc.ChangeEvent{Table: "orders", Operation: cdc.OperationDelete}

	filter := &cdc.EventFilter{Operations: []cdc.OperationType{cdc.OperationInsert, cdc.OperationUpdate}}
	assert.False(t, filter.ShouldInclude(event))

	filter.Operations = append(filter.Operations, cdc.OperationDelete)
	assert.True(t, filter.ShouldInclude(event))
}

func TestEventFilterConditions(t *testing.T) {
	event := cdc.ChangeEvent{
		Table:     "orders",
		Operation: cdc.OperationInsert,
		After: map[string]interface{}{
			"status": "shipped",
			"amount": 250,
		},
	}

	filter := &cdc.EventFilter{}
	filter.AddCondition("status", "eq", "shipped")
	assert.True(t, filter.ShouldInclude(event))

	filter = &cdc.EventFilter{}
	filter.AddCondition("status", "ne", "shipped")
	assert.False(t, filter.ShouldInclude(event))

	filter = &cdc.EventFilter{}
	filter.AddCondition("status", "in", []interface{}{"pending", "shipped"})
	assert.True(t, filter.ShouldInclude(event))

	// Falls back to Before when After lacks the field
	event.Before = map[string]interface{}{"region": "eu"}
	filter = &cdc.EventFilter{}
	filter.AddCondition("region", "eq", "eu")
	assert.True(t, filter.ShouldInclude(event))
}

func TestStreamingConfigValidate(t *testing.T) {
	cfg := &cdc.StreamingConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.MaxBatchSize)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.Equal(t, 1, cfg.ParallelWorkers)
}

package pgoid_test

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pgcdc/pkg/errors"
	"github.com/ajitpratap0/pgcdc/pkg/pgoid"
)

// The constant table must agree with the driver's catalog constants.
func TestOidConstantsMatchDriver(t *testing.T) {
	tests := []struct {
		name string
		got  pgoid.Oid
		want uint32
	}{
		{"bool", pgoid.BoolOID, pgtype.BoolOID},
		{"bytea", pgoid.ByteaOID, pgtype.ByteaOID},
		{"char", pgoid.QCharOID, pgtype.QCharOID},
		{"name", pgoid.NameOID, pgtype.NameOID},
		{"int8", pgoid.Int8OID, pgtype.Int8OID},
		{"int2", pgoid.Int2OID, pgtype.Int2OID},
		{"int4", pgoid.Int4OID, pgtype.Int4OID},
		{"text", pgoid.TextOID, pgtype.TextOID},
		{"oid", pgoid.OIDOID, pgtype.OIDOID},
		{"json", pgoid.JSONOID, pgtype.JSONOID},
		{"point", pgoid.PointOID, pgtype.PointOID},
		{"float4", pgoid.Float4OID, pgtype.Float4OID},
		{"float8", pgoid.Float8OID, pgtype.Float8OID},
		{"unknown", pgoid.UnknownOID, pgtype.UnknownOID},
		{"macaddr", pgoid.MacaddrOID, pgtype.MacaddrOID},
		{"inet", pgoid.InetOID, pgtype.InetOID},
		{"bool array", pgoid.BoolArrayOID, pgtype.BoolArrayOID},
		{"bytea array", pgoid.ByteaArrayOID, pgtype.ByteaArrayOID},
		{"int2 array", pgoid.Int2ArrayOID, pgtype.Int2ArrayOID},
		{"int4 array", pgoid.Int4ArrayOID, pgtype.Int4ArrayOID},
		{"text array", pgoid.TextArrayOID, pgtype.TextArrayOID},
		{"bpchar array", pgoid.BPCharArrayOID, pgtype.BPCharArrayOID},
		{"varchar array", pgoid.VarcharArrayOID, pgtype.VarcharArrayOID},
		{"int8 array", pgoid.Int8ArrayOID, pgtype.Int8ArrayOID},
		{"float4 array", pgoid.Float4ArrayOID, pgtype.Float4ArrayOID},
		{"float8 array", pgoid.Float8ArrayOID, pgtype.Float8ArrayOID},
		{"bpchar", pgoid.BPCharOID, pgtype.BPCharOID},
		{"varchar", pgoid.VarcharOID, pgtype.VarcharOID},
		{"date", pgoid.DateOID, pgtype.DateOID},
		{"time", pgoid.TimeOID, pgtype.TimeOID},
		{"timestamp", pgoid.TimestampOID, pgtype.TimestampOID},
		{"timestamp array", pgoid.TimestampArrayOID, pgtype.TimestampArrayOID},
		{"date array", pgoid.DateArrayOID, pgtype.DateArrayOID},
		{"timestamptz", pgoid.TimestamptzOID, pgtype.TimestamptzOID},
		{"timestamptz array", pgoid.TimestamptzArrayOID, pgtype.TimestamptzArrayOID},
		{"interval", pgoid.IntervalOID, pgtype.IntervalOID},
		{"numeric array", pgoid.NumericArrayOID, pgtype.NumericArrayOID},
		{"bit", pgoid.BitOID, pgtype.BitOID},
		{"varbit", pgoid.VarbitOID, pgtype.VarbitOID},
		{"numeric", pgoid.NumericOID, pgtype.NumericOID},
		{"record", pgoid.RecordOID, pgtype.RecordOID},
		{"uuid", pgoid.UUIDOID, pgtype.UUIDOID},
		{"uuid array", pgoid.UUIDArrayOID, pgtype.UUIDArrayOID},
		{"jsonb", pgoid.JSONBOID, pgtype.JSONBOID},
		{"jsonb array", pgoid.JSONBArrayOID, pgtype.JSONBArrayOID},
		{"int4range", pgoid.Int4rangeOID, pgtype.Int4rangeOID},
		{"daterange", pgoid.DaterangeOID, pgtype.DaterangeOID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualValues(t, tt.want, tt.got)
		})
	}
}

func TestNormalizeTypeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"boolean", "bool"},
		{"bigint", "int8"},
		{"bit varying", "varbit"},
		{"character", "bpchar"},
		{"character varying", "varchar"},
		{"double precision", "float8"},
		{"integer", "int4"},
		{"real", "float4"},
		{"smallint", "int2"},
		{"timestamp without time zone", "timestamp"},
		{"timestamp with time zone", "timestamptz"},
		{"time without time zone", "time"},
		{"time with time zone", "timetz"},
		// Catalog names and extension types pass through
		{"int4", "int4"},
		{"text", "text"},
		{"geometry", "geometry"},
		{"hstore", "hstore"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, pgoid.NormalizeTypeName(tt.input))
		})
	}
}

func TestRegistryResolve(t *testing.T) {
	registry := pgoid.DefaultRegistry()

	tests := []struct {
		name     string
		expected pgoid.Oid
	}{
		{"int4", pgoid.Int4OID},
		{"_int4", pgoid.Int4ArrayOID},
		{"varchar", pgoid.VarcharOID},
		{"timestamptz", pgoid.TimestamptzOID},
		{"_timestamptz", pgoid.TimestamptzArrayOID},
		{"numeric", pgoid.NumericOID},
		{"uuid", pgoid.UUIDOID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oid, err := registry.Resolve(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, oid)
		})
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	registry := pgoid.DefaultRegistry()

	_, err := registry.Resolve("geometry")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownType))
	assert.False(t, errors.IsRetryable(err))

	var typedErr *errors.Error
	require.ErrorAs(t, err, &typedErr)
	assert.Equal(t, "geometry", typedErr.Details["type"])
}

func TestRegistryElementOf(t *testing.T) {
	registry := pgoid.DefaultRegistry()

	element, ok := registry.ElementOf(pgoid.Int4ArrayOID)
	require.True(t, ok)
	assert.Equal(t, pgoid.Int4OID, element)

	element, ok = registry.ElementOf(pgoid.TimestamptzArrayOID)
	require.True(t, ok)
	assert.Equal(t, pgoid.TimestamptzOID, element)

	// Scalar types have no element
	_, ok = registry.ElementOf(pgoid.Int4OID)
	assert.False(t, ok)
}

func TestRegistryName(t *testing.T) {
	registry := pgoid.DefaultRegistry()

	name, ok := registry.Name(pgoid.Int4OID)
	require.True(t, ok)
	assert.Equal(t, "int4", name)

	name, ok = registry.Name(pgoid.Int4ArrayOID)
	require.True(t, ok)
	assert.Equal(t, "_int4", name)

	_, ok = registry.Name(pgoid.Oid(999999))
	assert.False(t, ok)
}

func TestRegistryIsArray(t *testing.T) {
	registry := pgoid.DefaultRegistry()

	assert.True(t, registry.IsArray(pgoid.Int4ArrayOID))
	assert.True(t, registry.IsArray(pgoid.TextArrayOID))
	assert.False(t, registry.IsArray(pgoid.Int4OID))
	assert.False(t, registry.IsArray(pgoid.Oid(999999)))
}

func TestRegistryRegisterCustomType(t *testing.T) {
	registry := pgoid.NewRegistry()

	// PostGIS geometry as it would be read from pg_type
	registry.Register("geometry", pgoid.Oid(17063), pgoid.Oid(17071))

	oid, err := registry.Resolve("geometry")
	require.NoError(t, err)
	assert.Equal(t, pgoid.Oid(17063), oid)

	arrayOid, err := registry.Resolve("_geometry")
	require.NoError(t, err)
	assert.Equal(t, pgoid.Oid(17071), arrayOid)

	element, ok := registry.ElementOf(arrayOid)
	require.True(t, ok)
	assert.Equal(t, pgoid.Oid(17063), element)

	name, ok := registry.Name(pgoid.Oid(17063))
	require.True(t, ok)
	assert.Equal(t, "geometry", name)
}

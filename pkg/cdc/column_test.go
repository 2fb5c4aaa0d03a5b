package cdc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pgcdc/pkg/cdc"
	"github.com/ajitpratap0/pgcdc/pkg/errors"
	"github.com/ajitpratap0/pgcdc/pkg/pgoid"
	"github.com/ajitpratap0/pgcdc/pkg/typemeta"
)

type stubResolver struct {
	oid   pgoid.Oid
	err   error
	calls int
	meta  *typemeta.Descriptor
}

func (r *stubResolver) ResolveOid(meta *typemeta.Descriptor) (pgoid.Oid, error) {
	r.calls++
	r.meta = meta
	if r.err != nil {
		return 0, r.err
	}
	return r.oid, nil
}

// countingParser counts parses through the normalize hook, which runs
// exactly once per successful parse.
func countingParser(calls *int) *typemeta.Parser {
	return typemeta.NewParser(func(name string) string {
		*calls++
		return pgoid.NormalizeTypeName(name)
	})
}

func assertContractPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		err, ok := r.(*errors.Error)
		require.True(t, ok, "panic value should be *errors.Error, got %T", r)
		assert.Equal(t, errors.ErrorTypeContract, err.Type)
	}()
	fn()
}

func TestColumnAccessors(t *testing.T) {
	col := cdc.NewColumn("id", "bigint", false, true, nil, &stubResolver{})

	assert.Equal(t, "id", col.Name())
	assert.False(t, col.IsOptional())
	assert.True(t, col.HasMetadata())
	assert.Equal(t, "bigint", col.TypeString())
}

func TestColumnOidTypeScalar(t *testing.T) {
	resolver := &stubResolver{oid: pgoid.Int8OID}
	col := cdc.NewColumn("id", "bigint", false, true, nil, resolver)

	oid, err := col.OidType()
	require.NoError(t, err)
	assert.Equal(t, pgoid.Int8OID, oid)
	assert.Equal(t, 1, resolver.calls)
	require.NotNil(t, resolver.meta)
	assert.Equal(t, "int8", resolver.meta.Name())
}

func TestColumnOidTypeArray(t *testing.T) {
	resolver := &stubResolver{oid: pgoid.Int4OID}
	col := cdc.NewColumn("ids", "int[]", true, true, nil, resolver)

	oid, err := col.OidType()
	require.NoError(t, err)
	assert.Equal(t, pgoid.AnyArrayOID, oid)
	// The element resolver is not consulted for the array itself
	assert.Equal(t, 0, resolver.calls)
}

func TestColumnComponentOidType(t *testing.T) {
	resolver := &stubResolver{oid: pgoid.Int4OID}
	col := cdc.NewColumn("ids", "integer[]", true, true, nil, resolver)

	oid, err := col.ComponentOidType()
	require.NoError(t, err)
	assert.Equal(t, pgoid.Int4OID, oid)
	require.NotNil(t, resolver.meta)
	assert.Equal(t, "_int4", resolver.meta.Name())
	assert.True(t, resolver.meta.IsArray())
}

func TestColumnComponentOidTypeNonArrayPanics(t *testing.T) {
	col := cdc.NewColumn("name", "text", true, true, nil, &stubResolver{oid: pgoid.TextOID})

	assertContractPanic(t, func() {
		_, _ = col.ComponentOidType()
	})
}

func TestColumnMetadataWithoutCapabilityPanics(t *testing.T) {
	col := cdc.NewColumn("id", "", false, false, nil, &stubResolver{oid: pgoid.Int8OID})

	assertContractPanic(t, func() {
		_, _ = col.Metadata()
	})
	assertContractPanic(t, func() {
		_, _ = col.ComponentOidType()
	})
}

func TestColumnOidTypeWithoutMetadata(t *testing.T) {
	var parses int
	resolver := &stubResolver{oid: pgoid.VarcharOID}
	col := cdc.NewColumn("name", "", true, false, countingParser(&parses), resolver)

	oid, err := col.OidType()
	require.NoError(t, err)
	assert.Equal(t, pgoid.VarcharOID, oid)
	assert.Equal(t, 1, resolver.calls)
	assert.Nil(t, resolver.meta)
	assert.Zero(t, parses)
}

func TestColumnParsesAtMostOnce(t *testing.T) {
	var parses int
	resolver := &stubResolver{oid: pgoid.NumericOID}
	col := cdc.NewColumn("total", "numeric(10,2)", false, true, countingParser(&parses), resolver)

	first, err := col.Metadata()
	require.NoError(t, err)

	second, err := col.Metadata()
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = col.OidType()
	require.NoError(t, err)
	_, err = col.OidType()
	require.NoError(t, err)

	assert.Equal(t, 1, parses)
}

func TestColumnParseFailure(t *testing.T) {
	resolver := &stubResolver{oid: pgoid.TextOID}
	col := cdc.NewColumn("total", "not a valid type (", false, true, nil, resolver)

	_, err := col.OidType()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeParse))
	assert.Equal(t, 0, resolver.calls)

	_, err = col.Metadata()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeParse))
}

func TestColumnResolverFailurePropagates(t *testing.T) {
	resolver := &stubResolver{err: errors.New(errors.ErrorTypeUnknownType, "no OID mapping for geometry")}
	col := cdc.NewColumn("geom", "geometry", true, true, nil, resolver)

	_, err := col.OidType()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownType))
}

func TestOidResolverFunc(t *testing.T) {
	resolver := cdc.OidResolverFunc(func(meta *typemeta.Descriptor) (pgoid.Oid, error) {
		return pgoid.BoolOID, nil
	})

	col := cdc.NewColumn("active", "boolean", false, true, nil, resolver)
	oid, err := col.OidType()
	require.NoError(t, err)
	assert.Equal(t, pgoid.BoolOID, oid)
}

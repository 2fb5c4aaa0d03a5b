package typemeta_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pgcdc/pkg/errors"
	"github.com/ajitpratap0/pgcdc/pkg/typemeta"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input     string
		schema    string
		baseType  string
		fullType  string
		typeName  string
		isArray   bool
		modifiers []string
		length    int
		hasLength bool
		scale     int
		hasScale  bool
	}{
		{
			input:    "text",
			baseType: "text",
			fullType: "text",
			typeName: "text",
		},
		{
			input:     "character varying(255)",
			baseType:  "character varying",
			fullType:  "character varying(255)",
			typeName:  "varchar",
			modifiers: []string{"255"},
			length:    255,
			hasLength: true,
		},
		{
			input:    "character varying",
			baseType: "character varying",
			fullType: "character varying",
			typeName: "varchar",
		},
		{
			input:     "numeric(12,3)",
			baseType:  "numeric",
			fullType:  "numeric(12,3)",
			typeName:  "numeric",
			modifiers: []string{"12", "3"},
			length:    12,
			hasLength: true,
			scale:     3,
			hasScale:  true,
		},
		{
			// Token 0 is a subtype, token 1 an SRID. The positional
			// extraction still lands the SRID in the scale slot.
			input:     "geometry(MultiPolygon,4326)",
			baseType:  "geometry",
			fullType:  "geometry(MultiPolygon,4326)",
			typeName:  "geometry",
			modifiers: []string{"MultiPolygon", "4326"},
			scale:     4326,
			hasScale:  true,
		},
		{
			input:     "timestamp (12) with time zone",
			baseType:  "timestamp with time zone",
			fullType:  "timestamp (12) with time zone",
			typeName:  "timestamptz",
			modifiers: []string{"12"},
			length:    12,
			hasLength: true,
		},
		{
			input:    "time with time zone",
			baseType: "time with time zone",
			fullType: "time with time zone",
			typeName: "timetz",
		},
		{
			input:    "double precision",
			baseType: "double precision",
			fullType: "double precision",
			typeName: "float8",
		},
		{
			input:    "int[]",
			baseType: "int",
			fullType: "int",
			typeName: "_int",
			isArray:  true,
		},
		{
			// full keeps the raw spacing
			input:    "int []",
			baseType: "int",
			fullType: "int ",
			typeName: "_int",
			isArray:  true,
		},
		{
			input:    "integer[]",
			baseType: "integer",
			fullType: "integer",
			typeName: "_int4",
			isArray:  true,
		},
		{
			input:    "_int4",
			baseType: "int4",
			fullType: "int4",
			typeName: "_int4",
			isArray:  true,
		},
		{
			input:    "_numeric",
			baseType: "numeric",
			fullType: "numeric",
			typeName: "_numeric",
			isArray:  true,
		},
		{
			input:    "myschema.geometry",
			schema:   "myschema",
			baseType: "geometry",
			fullType: "geometry",
			typeName: "geometry",
		},
		{
			input:     "myschema.geometry(Point,4326)",
			schema:    "myschema",
			baseType:  "geometry",
			fullType:  "geometry(Point,4326)",
			typeName:  "geometry",
			modifiers: []string{"Point", "4326"},
			scale:     4326,
			hasScale:  true,
		},
		{
			input:     "complaint_status('open','closed')",
			baseType:  "complaint_status",
			fullType:  "complaint_status('open','closed')",
			typeName:  "complaint_status",
			modifiers: []string{"'open'", "'closed'"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			desc, err := typemeta.Parse("c1", tt.input, false)
			require.NoError(t, err)

			assert.Equal(t, tt.schema, desc.Schema())
			assert.Equal(t, tt.baseType, desc.BaseType())
			assert.Equal(t, tt.fullType, desc.FullType())
			assert.Equal(t, tt.typeName, desc.Name())
			assert.Equal(t, tt.isArray, desc.IsArray())
			assert.Equal(t, tt.modifiers, desc.Modifiers())

			length, ok := desc.Length()
			assert.Equal(t, tt.hasLength, ok)
			if tt.hasLength {
				assert.Equal(t, tt.length, length)
			}

			scale, ok := desc.Scale()
			assert.Equal(t, tt.hasScale, ok)
			if tt.hasScale {
				assert.Equal(t, tt.scale, scale)
			}
		})
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	inputs := []string{
		"not a valid type (",
		"",
		"(",
		"numeric()",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := typemeta.Parse("total", input, false)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeParse))
			assert.False(t, errors.IsRetryable(err))

			var typedErr *errors.Error
			require.ErrorAs(t, err, &typedErr)
			assert.Equal(t, "total", typedErr.Details["column"])
			assert.Equal(t, input, typedErr.Details["type"])
		})
	}
}

func TestParseCarriesNullability(t *testing.T) {
	desc, err := typemeta.Parse("c1", "text", true)
	require.NoError(t, err)
	assert.True(t, desc.IsOptional())

	desc, err = typemeta.Parse("c1", "text", false)
	require.NoError(t, err)
	assert.False(t, desc.IsOptional())
}

func TestParseCustomNormalizer(t *testing.T) {
	parser := typemeta.NewParser(func(name string) string {
		if name == "int" {
			return "int4"
		}
		return name
	})

	desc, err := parser.Parse("c1", "int[]", false)
	require.NoError(t, err)
	assert.Equal(t, "int", desc.BaseType())
	assert.Equal(t, "_int4", desc.Name())
}

func TestDescriptorSchemaHelpers(t *testing.T) {
	desc, err := typemeta.Parse("geom", "myschema.geometry(Point,4326)", false)
	require.NoError(t, err)
	assert.Equal(t, "myschema.", desc.SchemaPrefix())
	assert.Equal(t, "myschema.geometry", desc.BaseTypeWithSchema())
	assert.Equal(t, "myschema.geometry(Point,4326)", desc.FullTypeWithSchema())

	desc, err = typemeta.Parse("geom", "geometry", false)
	require.NoError(t, err)
	assert.Equal(t, "", desc.SchemaPrefix())
	assert.Equal(t, "geometry", desc.BaseTypeWithSchema())
	assert.Equal(t, "geometry", desc.FullTypeWithSchema())
}

func TestParseLegacyArrayWithSchema(t *testing.T) {
	desc, err := typemeta.Parse("tags", "myschema._citext", false)
	require.NoError(t, err)
	assert.Equal(t, "myschema", desc.Schema())
	assert.Equal(t, "citext", desc.BaseType())
	assert.Equal(t, "citext", desc.FullType())
	assert.Equal(t, "_citext", desc.Name())
	assert.True(t, desc.IsArray())
}

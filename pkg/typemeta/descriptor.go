package typemeta

import (
	stringpool "github.com/ajitpratap0/pgcdc/pkg/strings"
)

// Descriptor is the structured form of a column type string. Instances
// are immutable once constructed and owned by the column that parsed
// them.
type Descriptor struct {
	schema    string
	baseType  string
	fullType  string
	name      string
	isArray   bool
	optional  bool
	modifiers []string
	length    int
	hasLength bool
	scale     int
	hasScale  bool
}

// Schema returns the schema qualifier without its trailing dot, or ""
// when the type string was not schema-qualified.
func (d *Descriptor) Schema() string { return d.schema }

// SchemaPrefix returns "<schema>." or "" when no schema is present.
func (d *Descriptor) SchemaPrefix() string {
	if d.schema == "" {
		return ""
	}
	return d.schema + "."
}

// BaseType returns the type name without modifiers, e.g. "numeric" for
// "numeric(12,3)". Multi-word names keep their trailing words, so
// "timestamp (12) with time zone" yields "timestamp with time zone".
func (d *Descriptor) BaseType() string { return d.baseType }

func (d *Descriptor) BaseTypeWithSchema() string {
	if d.schema == "" {
		return d.baseType
	}
	return stringpool.Concat(d.schema, ".", d.baseType)
}

// FullType returns the type name including the original modifier text,
// e.g. "numeric(12,3)" or "timestamp (12) with time zone". A "[]"
// array suffix is not part of the full type.
func (d *Descriptor) FullType() string { return d.fullType }

func (d *Descriptor) FullTypeWithSchema() string {
	if d.schema == "" {
		return d.fullType
	}
	return stringpool.Concat(d.schema, ".", d.fullType)
}

// Name returns the catalog-normalized type name, prefixed with "_" for
// array types: "integer[]" yields "_int4".
func (d *Descriptor) Name() string { return d.name }

// IsArray reports whether the type is an array, signaled by either a
// "[]" suffix or the legacy "_" name prefix.
func (d *Descriptor) IsArray() bool { return d.isArray }

// IsOptional reports whether the owning column accepts NULL. This is
// carried from the column definition, not derived from the type string.
func (d *Descriptor) IsOptional() bool { return d.optional }

// Modifiers returns the raw modifier tokens in their original order,
// e.g. ["MultiPolygon", "4326"] for "geometry(MultiPolygon,4326)".
func (d *Descriptor) Modifiers() []string { return d.modifiers }

// Length returns the length modifier when the first modifier token is
// an integer.
func (d *Descriptor) Length() (int, bool) { return d.length, d.hasLength }

// Scale returns the scale modifier when the second modifier token is an
// integer. For spatial types this slot carries the SRID.
func (d *Descriptor) Scale() (int, bool) { return d.scale, d.hasScale }

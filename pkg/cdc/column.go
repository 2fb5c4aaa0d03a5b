package cdc

import (
	"github.com/ajitpratap0/pgcdc/pkg/errors"
	"github.com/ajitpratap0/pgcdc/pkg/metrics"
	"github.com/ajitpratap0/pgcdc/pkg/pgoid"
	stringpool "github.com/ajitpratap0/pgcdc/pkg/strings"
	"github.com/ajitpratap0/pgcdc/pkg/typemeta"
)

// OidResolver maps a column to its numeric type identifier. Each
// decoding plugin supplies its own strategy: wal2json resolves the
// parsed type name against a catalog registry, pgoutput already carries
// the OID on the wire. The meta argument is nil when the column has no
// parseable type metadata.
type OidResolver interface {
	ResolveOid(meta *typemeta.Descriptor) (pgoid.Oid, error)
}

// OidResolverFunc adapts a plain function to an OidResolver.
type OidResolverFunc func(meta *typemeta.Descriptor) (pgoid.Oid, error)

func (f OidResolverFunc) ResolveOid(meta *typemeta.Descriptor) (pgoid.Oid, error) {
	return f(meta)
}

// Column is one column of a decoded change event. Its type string is
// parsed into a typemeta.Descriptor on first metadata access and the
// result is cached, so consumers that never inspect type metadata never
// pay for the parse.
//
// A Column lives within the processing of a single change event and is
// confined to the goroutine handling that event; there is no internal
// locking.
type Column struct {
	name              string
	typeWithModifiers string
	optional          bool
	hasMetadata       bool
	parser            *typemeta.Parser
	resolver          OidResolver
	metadata          *typemeta.Descriptor
}

// NewColumn builds a lazily parsed column. hasMetadata declares whether
// typeWithModifiers is a parseable type string; plugins that only ship
// numeric OIDs set it to false and must supply a resolver that works
// without a descriptor. A nil parser falls back to
// typemeta.DefaultParser.
func NewColumn(name, typeWithModifiers string, optional, hasMetadata bool, parser *typemeta.Parser, resolver OidResolver) *Column {
	if parser == nil {
		parser = typemeta.DefaultParser()
	}
	return &Column{
		name:              name,
		typeWithModifiers: typeWithModifiers,
		optional:          optional,
		hasMetadata:       hasMetadata,
		parser:            parser,
		resolver:          resolver,
	}
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// IsOptional reports whether the column accepts NULL.
func (c *Column) IsOptional() bool { return c.optional }

// HasMetadata reports whether type metadata can be requested. Callers
// must check this before Metadata or ComponentOidType.
func (c *Column) HasMetadata() bool { return c.hasMetadata }

// TypeString returns the raw type string as received from the decoding
// plugin.
func (c *Column) TypeString() string { return c.typeWithModifiers }

// Metadata returns the parsed type descriptor, parsing it on first
// call. Calling Metadata on a column without metadata is a programming
// defect and panics; a type string the parser cannot understand is
// returned as a parse error.
func (c *Column) Metadata() (*typemeta.Descriptor, error) {
	if !c.hasMetadata {
		panic(errors.New(errors.ErrorTypeContract,
			stringpool.Sprintf("type metadata requested for column %s but none is available", c.name)))
	}
	if c.metadata == nil {
		meta, err := c.parser.Parse(c.name, c.typeWithModifiers, c.optional)
		if err != nil {
			metrics.DescriptorsParsed.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.DescriptorsParsed.WithLabelValues("ok").Inc()
		c.metadata = meta
	}
	return c.metadata, nil
}

// OidType resolves the column's type OID. Array columns report the
// generic anyarray OID; use ComponentOidType for the element type.
// Columns without metadata delegate straight to the resolver.
func (c *Column) OidType() (pgoid.Oid, error) {
	if c.hasMetadata {
		meta, err := c.Metadata()
		if err != nil {
			return 0, err
		}
		if meta.IsArray() {
			return pgoid.AnyArrayOID, nil
		}
		return c.resolver.ResolveOid(meta)
	}
	return c.resolver.ResolveOid(nil)
}

// ComponentOidType resolves the element type OID of an array column.
// Calling it on a non-array column, or on a column without metadata, is
// a programming defect and panics.
func (c *Column) ComponentOidType() (pgoid.Oid, error) {
	meta, err := c.Metadata()
	if err != nil {
		return 0, err
	}
	if !meta.IsArray() {
		panic(errors.New(errors.ErrorTypeContract,
			stringpool.Sprintf("component type requested for non-array column %s of type %s", c.name, c.typeWithModifiers)))
	}
	return c.resolver.ResolveOid(meta)
}

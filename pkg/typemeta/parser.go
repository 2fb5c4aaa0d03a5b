// Package typemeta parses the textual column type strings carried by
// PostgreSQL logical decoding output into structured type metadata.
//
// Logical decoding plugins identify column types by name rather than
// OID, and the grammar is overloaded: parentheses hold length, scale,
// enum values or a spatial subtype and SRID depending on the base type,
// arrays are written either with a "[]" suffix or a legacy "_" name
// prefix, and a schema qualifier may or may not be present. The parser
// resolves all of those forms without catalog access.
package typemeta

import (
	"regexp"
	"strconv"

	"github.com/ajitpratap0/pgcdc/pkg/errors"
	"github.com/ajitpratap0/pgcdc/pkg/pgoid"
	stringpool "github.com/ajitpratap0/pgcdc/pkg/strings"
)

// typePattern matches type strings as emitted by logical decoding, e.g.
// "text", "character varying(255)", "numeric(12,3)",
// "geometry(MultiPolygon,4326)", "timestamp (12) with time zone",
// "int[]", "myschema.geometry", "_int4". The modifier group binds to
// the first parenthesized group after the base token and the suffix is
// non-greedy; type names with parentheses outside the modifier position
// do not match.
var typePattern = regexp.MustCompile(`^(?P<schema>[^.(]+\.)?(?P<full>(?P<base>[^(\[]+)(?:\((?P<mod>.+)\))?(?P<suffix>[^(\[]*?))(?P<array>\[\])?$`)

var (
	schemaIdx = typePattern.SubexpIndex("schema")
	fullIdx   = typePattern.SubexpIndex("full")
	baseIdx   = typePattern.SubexpIndex("base")
	modIdx    = typePattern.SubexpIndex("mod")
	suffixIdx = typePattern.SubexpIndex("suffix")
	arrayIdx  = typePattern.SubexpIndex("array")
)

// NormalizeFunc maps a base type name to its catalog-canonical
// spelling. Implementations must be total: unrecognized names pass
// through unchanged.
type NormalizeFunc func(string) string

// Parser turns raw column type strings into Descriptors. The zero
// value is not usable; construct with NewParser.
type Parser struct {
	normalize NormalizeFunc
}

// NewParser returns a Parser using the given normalization function. A
// nil normalize falls back to pgoid.NormalizeTypeName.
func NewParser(normalize NormalizeFunc) *Parser {
	if normalize == nil {
		normalize = pgoid.NormalizeTypeName
	}
	return &Parser{normalize: normalize}
}

var defaultParser = NewParser(nil)

// DefaultParser returns the shared parser backed by
// pgoid.NormalizeTypeName.
func DefaultParser() *Parser {
	return defaultParser
}

// Parse extracts structured type metadata from a raw type string. The
// column name and the offending string are carried on the error when
// the input does not match the grammar; a malformed type string means
// the decoding plugin emitted something this version does not
// understand, so the failure must not be swallowed.
func (p *Parser) Parse(columnName, typeWithModifiers string, optional bool) (*Descriptor, error) {
	m := typePattern.FindStringSubmatch(typeWithModifiers)
	if m == nil {
		return nil, errors.New(errors.ErrorTypeParse,
			stringpool.Sprintf("failed to parse column type '%s' for column %s", typeWithModifiers, columnName)).
			WithDetail("column", columnName).
			WithDetail("type", typeWithModifiers)
	}

	schema := m[schemaIdx]
	fullType := m[fullIdx]
	baseType := stringpool.TrimSpace(m[baseIdx])
	if suffix := stringpool.TrimSpace(m[suffixIdx]); suffix != "" {
		baseType = stringpool.Concat(baseType, " ", suffix)
	}

	var modifiers []string
	if mod := m[modIdx]; mod != "" {
		modifiers = stringpool.Split(mod, ",")
		for i := range modifiers {
			modifiers[i] = stringpool.TrimSpace(modifiers[i])
		}
	}

	isArray := m[arrayIdx] != ""
	if stringpool.HasPrefix(baseType, "_") {
		// legacy notation: int4[] arrives as "_int4"
		baseType = baseType[1:]
		fullType = fullType[1:]
		isArray = true
	}

	name := p.normalize(baseType)
	if schema != "" {
		schema = schema[:len(schema)-1]
	}
	if isArray {
		name = "_" + name
	}

	desc := &Descriptor{
		schema:    schema,
		baseType:  baseType,
		fullType:  fullType,
		name:      name,
		isArray:   isArray,
		optional:  optional,
		modifiers: modifiers,
	}

	// Positional and lenient: a non-integer token leaves the field
	// unset without failing the parse. geometry(MultiPolygon,4326)
	// therefore gets no length but a scale of 4326.
	if len(modifiers) > 0 {
		if v, err := strconv.Atoi(modifiers[0]); err == nil {
			desc.length, desc.hasLength = v, true
		}
	}
	if len(modifiers) > 1 {
		if v, err := strconv.Atoi(modifiers[1]); err == nil {
			desc.scale, desc.hasScale = v, true
		}
	}

	return desc, nil
}

// Parse parses typeWithModifiers using the default parser.
func Parse(columnName, typeWithModifiers string, optional bool) (*Descriptor, error) {
	return defaultParser.Parse(columnName, typeWithModifiers, optional)
}

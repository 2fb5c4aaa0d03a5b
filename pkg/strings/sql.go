package strings

import "strconv"

// SQLBuilder assembles the small statements a replication session
// issues, publication DDL and catalog lookups mostly, with identifier
// and literal quoting handled in one place.
//
// Close returns the underlying builder to the pool. String must be
// called before Close.
type SQLBuilder struct {
	b    *Builder
	size BuilderSize
}

// NewSQLBuilder returns a builder sized for a statement of roughly
// estimatedLength bytes.
func NewSQLBuilder(estimatedLength int) *SQLBuilder {
	size := sizeFor(estimatedLength)
	return &SQLBuilder{b: GetBuilder(size), size: size}
}

// WriteQuery appends raw SQL text.
func (sb *SQLBuilder) WriteQuery(query string) *SQLBuilder {
	sb.b.WriteString(query)
	return sb
}

// WriteSpace appends a single space.
func (sb *SQLBuilder) WriteSpace() *SQLBuilder {
	sb.b.WriteByte(' ')
	return sb
}

// WriteStringLiteral appends value as a single quoted SQL literal,
// doubling embedded quotes.
func (sb *SQLBuilder) WriteStringLiteral(value string) *SQLBuilder {
	sb.b.WriteByte('\'')
	for i := 0; i < len(value); i++ {
		if value[i] == '\'' {
			sb.b.WriteString("''")
		} else {
			sb.b.WriteByte(value[i])
		}
	}
	sb.b.WriteByte('\'')
	return sb
}

// WriteIdentifier appends name as a double quoted identifier, doubling
// embedded quotes.
func (sb *SQLBuilder) WriteIdentifier(name string) *SQLBuilder {
	sb.b.WriteByte('"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			sb.b.WriteString(`""`)
		} else {
			sb.b.WriteByte(name[i])
		}
	}
	sb.b.WriteByte('"')
	return sb
}

// WriteQualifiedIdentifier appends schema.name with both parts quoted.
func (sb *SQLBuilder) WriteQualifiedIdentifier(schema, name string) *SQLBuilder {
	sb.WriteIdentifier(schema)
	sb.b.WriteByte('.')
	sb.WriteIdentifier(name)
	return sb
}

// WriteInt appends a decimal integer.
func (sb *SQLBuilder) WriteInt(value int64) *SQLBuilder {
	sb.b.WriteString(strconv.FormatInt(value, 10))
	return sb
}

// String returns an owned copy of the statement built so far.
func (sb *SQLBuilder) String() string {
	return Clone(sb.b.String())
}

// Close releases the builder. The SQLBuilder must not be used after.
func (sb *SQLBuilder) Close() {
	if sb.b != nil {
		PutBuilder(sb.b, sb.size)
		sb.b = nil
	}
}

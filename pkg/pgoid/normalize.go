package pgoid

// NormalizeTypeName collapses the verbose SQL spellings reported by the
// server into the catalog names in pg_type. Names already in catalog
// form, including extension types, pass through unchanged.
func NormalizeTypeName(typeName string) string {
	switch typeName {
	case "boolean":
		return "bool"
	case "bigint":
		return "int8"
	case "bit varying":
		return "varbit"
	case "character":
		return "bpchar"
	case "character varying":
		return "varchar"
	case "double precision":
		return "float8"
	case "integer":
		return "int4"
	case "real":
		return "float4"
	case "smallint":
		return "int2"
	case "timestamp without time zone":
		return "timestamp"
	case "timestamp with time zone":
		return "timestamptz"
	case "time without time zone":
		return "time"
	case "time with time zone":
		return "timetz"
	default:
		return typeName
	}
}

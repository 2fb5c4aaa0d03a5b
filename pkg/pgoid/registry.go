package pgoid

import (
	"github.com/ajitpratap0/pgcdc/pkg/errors"
)

// typeEntry describes one built-in type and, when present, its array form.
type typeEntry struct {
	name     string
	oid      Oid
	arrayOid Oid // zero when the type has no array form
}

// builtinTypes is the catalog subset the decoder paths rely on. Array
// forms are registered under the leading underscore names PostgreSQL
// itself uses in pg_type.
var builtinTypes = []typeEntry{
	{"bool", BoolOID, BoolArrayOID},
	{"bytea", ByteaOID, ByteaArrayOID},
	{"char", QCharOID, QCharArrayOID},
	{"name", NameOID, NameArrayOID},
	{"int8", Int8OID, Int8ArrayOID},
	{"int2", Int2OID, Int2ArrayOID},
	{"int4", Int4OID, Int4ArrayOID},
	{"text", TextOID, TextArrayOID},
	{"oid", OIDOID, OIDArrayOID},
	{"tid", TIDOID, TIDArrayOID},
	{"xid", XIDOID, XIDArrayOID},
	{"cid", CIDOID, CIDArrayOID},
	{"json", JSONOID, JSONArrayOID},
	{"xml", XMLOID, XMLArrayOID},
	{"point", PointOID, PointArrayOID},
	{"lseg", LsegOID, LsegArrayOID},
	{"path", PathOID, PathArrayOID},
	{"box", BoxOID, BoxArrayOID},
	{"polygon", PolygonOID, PolygonArrayOID},
	{"line", LineOID, LineArrayOID},
	{"cidr", CidrOID, CidrArrayOID},
	{"float4", Float4OID, Float4ArrayOID},
	{"float8", Float8OID, Float8ArrayOID},
	{"unknown", UnknownOID, 0},
	{"circle", CircleOID, CircleArrayOID},
	{"money", MoneyOID, MoneyArrayOID},
	{"macaddr", MacaddrOID, MacaddrArrayOID},
	{"inet", InetOID, InetArrayOID},
	{"aclitem", ACLItemOID, ACLItemArrayOID},
	{"bpchar", BPCharOID, BPCharArrayOID},
	{"varchar", VarcharOID, VarcharArrayOID},
	{"date", DateOID, DateArrayOID},
	{"time", TimeOID, TimeArrayOID},
	{"timestamp", TimestampOID, TimestampArrayOID},
	{"timestamptz", TimestamptzOID, TimestamptzArrayOID},
	{"interval", IntervalOID, IntervalArrayOID},
	{"timetz", TimetzOID, TimetzArrayOID},
	{"bit", BitOID, BitArrayOID},
	{"varbit", VarbitOID, VarbitArrayOID},
	{"numeric", NumericOID, NumericArrayOID},
	{"refcursor", RefcursorOID, RefcursorArrayOID},
	{"record", RecordOID, RecordArrayOID},
	{"uuid", UUIDOID, UUIDArrayOID},
	{"jsonb", JSONBOID, JSONBArrayOID},
	{"int4range", Int4rangeOID, 0},
	{"numrange", NumrangeOID, 0},
	{"tsrange", TsrangeOID, 0},
	{"tstzrange", TstzrangeOID, 0},
	{"daterange", DaterangeOID, 0},
	{"int8range", Int8rangeOID, 0},
	{"anyarray", AnyArrayOID, 0},
}

// Registry resolves type names to OIDs and array OIDs to their element
// types. Lookups take no locks: register any custom types during setup,
// before the registry is shared across streams.
type Registry struct {
	byName  map[string]Oid
	byOid   map[Oid]string
	element map[Oid]Oid
}

// NewRegistry builds a registry over the built-in catalog subset.
func NewRegistry() *Registry {
	r := &Registry{
		byName:  make(map[string]Oid, 2*len(builtinTypes)),
		byOid:   make(map[Oid]string, 2*len(builtinTypes)),
		element: make(map[Oid]Oid, len(builtinTypes)),
	}
	for _, entry := range builtinTypes {
		r.Register(entry.name, entry.oid, entry.arrayOid)
	}
	return r
}

// Register adds a type, with an optional array form, under the catalog
// naming convention. Extension and enum types live outside the built-in
// set; register them from pg_type before streaming starts.
func (r *Registry) Register(name string, oid Oid, arrayOid Oid) {
	r.byName[name] = oid
	r.byOid[oid] = name

	if arrayOid != 0 {
		arrayName := "_" + name
		r.byName[arrayName] = arrayOid
		r.byOid[arrayOid] = arrayName
		r.element[arrayOid] = oid
	}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the shared built-in registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Resolve returns the OID for a normalized type name.
func (r *Registry) Resolve(name string) (Oid, error) {
	oid, ok := r.byName[name]
	if !ok {
		return 0, errors.New(errors.ErrorTypeUnknownType, "no OID mapping for type").
			WithDetail("type", name)
	}
	return oid, nil
}

// Name returns the catalog name for an OID.
func (r *Registry) Name(oid Oid) (string, bool) {
	name, ok := r.byOid[oid]
	return name, ok
}

// ElementOf returns the element type OID for an array type OID.
func (r *Registry) ElementOf(oid Oid) (Oid, bool) {
	element, ok := r.element[oid]
	return element, ok
}

// IsArray reports whether the OID names a known array type.
func (r *Registry) IsArray(oid Oid) bool {
	_, ok := r.element[oid]
	return ok
}

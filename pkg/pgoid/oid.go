// Package pgoid maps PostgreSQL type names to object identifiers and back.
//
// Replication messages identify column types either by name (wal2json)
// or by wire OID (pgoutput). This package carries the built-in catalog
// subset both paths need, plus the name normalization applied to parsed
// type descriptors.
package pgoid

import "strconv"

// Oid is a PostgreSQL object identifier.
type Oid uint32

// String returns the decimal representation used in logs and errors.
func (o Oid) String() string {
	return strconv.FormatUint(uint64(o), 10)
}

// OIDs of built-in types, as assigned in pg_type.dat.
const (
	BoolOID             Oid = 16
	ByteaOID            Oid = 17
	QCharOID            Oid = 18
	NameOID             Oid = 19
	Int8OID             Oid = 20
	Int2OID             Oid = 21
	Int4OID             Oid = 23
	TextOID             Oid = 25
	OIDOID              Oid = 26
	TIDOID              Oid = 27
	XIDOID              Oid = 28
	CIDOID              Oid = 29
	JSONOID             Oid = 114
	XMLOID              Oid = 142
	XMLArrayOID         Oid = 143
	JSONArrayOID        Oid = 199
	PointOID            Oid = 600
	LsegOID             Oid = 601
	PathOID             Oid = 602
	BoxOID              Oid = 603
	PolygonOID          Oid = 604
	LineOID             Oid = 628
	LineArrayOID        Oid = 629
	CidrOID             Oid = 650
	CidrArrayOID        Oid = 651
	Float4OID           Oid = 700
	Float8OID           Oid = 701
	UnknownOID          Oid = 705
	CircleOID           Oid = 718
	CircleArrayOID      Oid = 719
	MoneyOID            Oid = 790
	MoneyArrayOID       Oid = 791
	MacaddrOID          Oid = 829
	InetOID             Oid = 869
	BoolArrayOID        Oid = 1000
	ByteaArrayOID       Oid = 1001
	QCharArrayOID       Oid = 1002
	NameArrayOID        Oid = 1003
	Int2ArrayOID        Oid = 1005
	Int4ArrayOID        Oid = 1007
	TextArrayOID        Oid = 1009
	TIDArrayOID         Oid = 1010
	XIDArrayOID         Oid = 1011
	CIDArrayOID         Oid = 1012
	BPCharArrayOID      Oid = 1014
	VarcharArrayOID     Oid = 1015
	Int8ArrayOID        Oid = 1016
	PointArrayOID       Oid = 1017
	LsegArrayOID        Oid = 1018
	PathArrayOID        Oid = 1019
	BoxArrayOID         Oid = 1020
	Float4ArrayOID      Oid = 1021
	Float8ArrayOID      Oid = 1022
	PolygonArrayOID     Oid = 1027
	OIDArrayOID         Oid = 1028
	ACLItemOID          Oid = 1033
	ACLItemArrayOID     Oid = 1034
	MacaddrArrayOID     Oid = 1040
	InetArrayOID        Oid = 1041
	BPCharOID           Oid = 1042
	VarcharOID          Oid = 1043
	DateOID             Oid = 1082
	TimeOID             Oid = 1083
	TimestampOID        Oid = 1114
	TimestampArrayOID   Oid = 1115
	DateArrayOID        Oid = 1182
	TimeArrayOID        Oid = 1183
	TimestamptzOID      Oid = 1184
	TimestamptzArrayOID Oid = 1185
	IntervalOID         Oid = 1186
	IntervalArrayOID    Oid = 1187
	NumericArrayOID     Oid = 1231
	TimetzOID           Oid = 1266
	TimetzArrayOID      Oid = 1270
	BitOID              Oid = 1560
	BitArrayOID         Oid = 1561
	VarbitOID           Oid = 1562
	VarbitArrayOID      Oid = 1563
	NumericOID          Oid = 1700
	RefcursorOID        Oid = 1790
	RefcursorArrayOID   Oid = 2201
	RecordOID           Oid = 2249
	AnyArrayOID         Oid = 2277
	RecordArrayOID      Oid = 2287
	UUIDOID             Oid = 2950
	UUIDArrayOID        Oid = 2951
	JSONBOID            Oid = 3802
	JSONBArrayOID       Oid = 3807
	Int4rangeOID        Oid = 3904
	NumrangeOID         Oid = 3906
	TsrangeOID          Oid = 3908
	TstzrangeOID        Oid = 3910
	DaterangeOID        Oid = 3912
	Int8rangeOID        Oid = 3926
)

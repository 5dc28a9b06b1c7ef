// Package bson implements the document value model and byte-level codec
// TinyDb stores on disk: a length-prefixed, ordered sequence of typed
// fields, bit-exact compatible with the BSON wire format for the
// fixed-width scalar types.
package bson

import "time"

// Type tags a BSON value variant.
type Type byte

const (
	TypeNull       Type = 0x0A
	TypeBool       Type = 0x08
	TypeInt32      Type = 0x10
	TypeInt64      Type = 0x12
	TypeDouble     Type = 0x01
	TypeDecimal128 Type = 0x13
	TypeString     Type = 0x02
	TypeDateTime   Type = 0x09
	TypeTimestamp  Type = 0x11
	TypeObjectID   Type = 0x07
	TypeBinary     Type = 0x05
	TypeRegex      Type = 0x0B
	TypeDocument   Type = 0x03
	TypeArray      Type = 0x04
	TypeMinKey     Type = 0xFF
	TypeMaxKey     Type = 0x7F
)

// Decimal128 is the raw 16-byte IEEE 754-2008 decimal128 encoding.
// TinyDb never falls back to an ASCII-string-behind-a-length-prefix
// encoding for this type.
type Decimal128 [16]byte

// Timestamp is a BSON internal replication timestamp: seconds since the
// epoch plus an ordinal counter within that second.
type Timestamp struct {
	T uint32
	I uint32
}

// Binary is a length-prefixed byte blob tagged with a subtype.
type Binary struct {
	Subtype byte
	Data    []byte
}

// Regex is a BSON regular expression: pattern and option flags, both
// stored as NUL-terminated strings.
type Regex struct {
	Pattern string
	Options string
}

// MinKey compares lower than every other BSON value.
type MinKey struct{}

// MaxKey compares higher than every other BSON value.
type MaxKey struct{}

// Value is any value a document field may hold. Concrete dynamic types:
// nil, bool, int32, int64, float64, Decimal128, string, time.Time,
// Timestamp, ObjectID, Binary, Regex, *Document, *Array, MinKey, MaxKey.
type Value = interface{}

// TypeOf returns the BSON type tag for a Go value produced by this
// package's codec or constructed directly by a caller.
func TypeOf(v Value) Type {
	switch v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBool
	case int32:
		return TypeInt32
	case int64:
		return TypeInt64
	case int:
		return TypeInt64
	case float64:
		return TypeDouble
	case Decimal128:
		return TypeDecimal128
	case string:
		return TypeString
	case time.Time:
		return TypeDateTime
	case Timestamp:
		return TypeTimestamp
	case ObjectID:
		return TypeObjectID
	case Binary:
		return TypeBinary
	case Regex:
		return TypeRegex
	case *Document:
		return TypeDocument
	case *Array:
		return TypeArray
	case MinKey:
		return TypeMinKey
	case MaxKey:
		return TypeMaxKey
	default:
		return TypeNull
	}
}

// normalizeInt widens Go's native `int` to int64 so callers building
// documents with literal integers get Int64 rather than a silently
// unsupported type.
func normalizeInt(v Value) Value {
	if i, ok := v.(int); ok {
		return int64(i)
	}
	return v
}

// Package index implements TinyDb's disk-backed secondary index: an
// ordered B+Tree keyed by a composite, BSON-type-ordered IndexKey and
// valued by a RecordID pointing back into collection storage.
package index

import (
	"encoding/binary"

	"github.com/tinydb-go/tinydb/bson"
)

// IndexKey is an ordered tuple of BSON values — one per indexed field.
// A single-field index has len(Values) == 1; a compound index has one
// entry per field in declaration order.
type IndexKey struct {
	Values []bson.Value
}

// NewKey builds a composite key from field values in index-field order.
func NewKey(values ...bson.Value) IndexKey {
	return IndexKey{Values: values}
}

// Compare orders two keys lexicographically over their components
// using bson.Compare. MinValue/MaxValue let a caller build open-ended
// range bounds that still compare correctly against any field type.
func (k IndexKey) Compare(other IndexKey) int {
	n := len(k.Values)
	if len(other.Values) < n {
		n = len(other.Values)
	}
	for i := 0; i < n; i++ {
		if c := bson.Compare(k.Values[i], other.Values[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(k.Values) < len(other.Values):
		return -1
	case len(k.Values) > len(other.Values):
		return 1
	default:
		return 0
	}
}

// MinValue sorts lower than every possible field value; used to build
// an unbounded lower range endpoint.
var MinValue bson.Value = bson.MinKey{}

// MaxValue sorts higher than every possible field value; used to build
// an unbounded upper range endpoint.
var MaxValue bson.Value = bson.MaxKey{}

// Encode serializes the key as a count-prefixed sequence of
// length-prefixed BSON-tagged values, sortable only through Compare —
// the byte encoding itself carries no ordering guarantee.
func (k IndexKey) Encode() ([]byte, error) {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, uint16(len(k.Values)))
	for _, v := range k.Values {
		vb, err := bson.EncodeKeyValue(v)
		if err != nil {
			return nil, err
		}
		lenPrefix := make([]byte, 2)
		binary.LittleEndian.PutUint16(lenPrefix, uint16(len(vb)))
		out = append(out, lenPrefix...)
		out = append(out, vb...)
	}
	return out, nil
}

// DecodeKey reverses Encode, returning the key and bytes consumed.
func DecodeKey(data []byte) (IndexKey, int, error) {
	count := int(binary.LittleEndian.Uint16(data[0:2]))
	off := 2
	values := make([]bson.Value, 0, count)
	for i := 0; i < count; i++ {
		l := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		v, _, err := bson.DecodeKeyValue(data[off : off+l])
		if err != nil {
			return IndexKey{}, 0, err
		}
		off += l
		values = append(values, v)
	}
	return IndexKey{Values: values}, off, nil
}

// RecordID locates a stored document: the collection data page it
// lives on and its byte offset within that page's payload.
type RecordID struct {
	PageID uint32
	Offset uint32
}

// Pack encodes a RecordID as a single uint64 for leaf storage.
func (r RecordID) Pack() uint64 {
	return uint64(r.PageID)<<32 | uint64(r.Offset)
}

// UnpackRecordID reverses Pack.
func UnpackRecordID(v uint64) RecordID {
	return RecordID{PageID: uint32(v >> 32), Offset: uint32(v)}
}

package bson

import (
	"encoding/binary"
	"fmt"
)

// SpanReader iterates a document's elements over a borrowed byte region
// without allocating a Document or any Value — the hot path for field
// projection and for the binary predicate evaluator.
type SpanReader struct {
	data []byte // the full document buffer, length-prefixed
	pos  int
	end  int // index of the terminating 0x00
}

// NewSpanReader wraps a length-prefixed document buffer for zero-alloc
// iteration. It validates the outer length prefix but does not touch
// field contents until Next is called.
func NewSpanReader(data []byte) (*SpanReader, error) {
	if len(data) < 5 {
		return nil, ErrTruncated
	}
	total := int(binary.LittleEndian.Uint32(data[0:4]))
	if total < 5 || total > len(data) {
		return nil, fmt.Errorf("bson: declared length %d inconsistent with buffer of %d bytes", total, len(data))
	}
	return &SpanReader{data: data, pos: 4, end: total - 1}, nil
}

// Element describes one field without copying its value bytes.
type Element struct {
	Type      Type
	Key       string // allocates; keys are short and this keeps call sites simple
	ValueOff  int    // offset into the reader's buffer where the value begins
	ValueLen  int    // byte length of the value's encoding (0 for Null/MinKey/MaxKey)
}

// Next advances to the following element, returning false at the
// terminator. On error the reader must not be reused.
func (r *SpanReader) Next() (Element, bool, error) {
	if r.pos >= r.end {
		return Element{}, false, nil
	}
	t := Type(r.data[r.pos])
	r.pos++
	keyStart := r.pos
	for r.pos < r.end && r.data[r.pos] != 0x00 {
		r.pos++
	}
	if r.pos >= r.end {
		return Element{}, false, ErrTruncated
	}
	key := string(r.data[keyStart:r.pos])
	r.pos++ // skip key NUL
	valOff := r.pos
	n, err := sizeOfValue(t, r.data[valOff:r.end])
	if err != nil {
		return Element{}, false, err
	}
	r.pos = valOff + n
	return Element{Type: t, Key: key, ValueOff: valOff, ValueLen: n}, true, nil
}

// Bytes returns the raw slice backing the reader (used by callers that
// need to pass (data, offset) to the binary evaluator).
func (r *SpanReader) Bytes() []byte { return r.data }

// sizeOfValue returns the number of bytes the value encoding for type t
// occupies at the front of data, without decoding the value.
func sizeOfValue(t Type, data []byte) (int, error) {
	switch t {
	case TypeNull, TypeMinKey, TypeMaxKey:
		return 0, nil
	case TypeBool:
		if len(data) < 1 {
			return 0, ErrTruncated
		}
		return 1, nil
	case TypeInt32:
		if len(data) < 4 {
			return 0, ErrTruncated
		}
		return 4, nil
	case TypeInt64, TypeDouble, TypeDateTime, TypeTimestamp:
		if len(data) < 8 {
			return 0, ErrTruncated
		}
		return 8, nil
	case TypeDecimal128:
		if len(data) < 16 {
			return 0, ErrTruncated
		}
		return 16, nil
	case TypeObjectID:
		if len(data) < 12 {
			return 0, ErrTruncated
		}
		return 12, nil
	case TypeString:
		if len(data) < 4 {
			return 0, ErrTruncated
		}
		l := int(binary.LittleEndian.Uint32(data[0:4]))
		if l < 1 || 4+l > len(data) {
			return 0, ErrTruncated
		}
		return 4 + l, nil
	case TypeBinary:
		if len(data) < 5 {
			return 0, ErrTruncated
		}
		l := int(binary.LittleEndian.Uint32(data[0:4]))
		if 5+l > len(data) {
			return 0, ErrTruncated
		}
		return 5 + l, nil
	case TypeRegex:
		i := 0
		nuls := 0
		for i < len(data) && nuls < 2 {
			if data[i] == 0x00 {
				nuls++
			}
			i++
		}
		if nuls < 2 {
			return 0, ErrTruncated
		}
		return i, nil
	case TypeDocument, TypeArray:
		if len(data) < 4 {
			return 0, ErrTruncated
		}
		l := int(binary.LittleEndian.Uint32(data[0:4]))
		if l < 5 || l > len(data) {
			return 0, ErrTruncated
		}
		return l, nil
	default:
		return 0, fmt.Errorf("bson: unknown type tag 0x%02x", byte(t))
	}
}

// FieldSpan scans a document buffer for a top-level field by name,
// returning its type and raw value byte range without decoding it or
// any sibling field.
func FieldSpan(data []byte, key string) (Element, bool, error) {
	r, err := NewSpanReader(data)
	if err != nil {
		return Element{}, false, err
	}
	for {
		el, ok, err := r.Next()
		if err != nil {
			return Element{}, false, err
		}
		if !ok {
			return Element{}, false, nil
		}
		if el.Key == key {
			return el, true, nil
		}
	}
}

// FieldSpans scans a document buffer once, returning raw spans for
// every requested key present (multi-key field projection).
func FieldSpans(data []byte, keys map[string]bool) (map[string]Element, error) {
	r, err := NewSpanReader(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Element, len(keys))
	remaining := len(keys)
	for remaining > 0 {
		el, ok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if keys[el.Key] {
			out[el.Key] = el
			remaining--
		}
	}
	return out, nil
}

// DecodeSpanValue materializes a Value from a previously located span
// (used once the caller decides it actually needs the typed value,
// e.g. after binary evaluation returned an indeterminate result).
func DecodeSpanValue(r *SpanReader, el Element) (Value, error) {
	v, _, err := decodeValue(el.Type, r.data[el.ValueOff:el.ValueOff+el.ValueLen])
	return v, err
}

package bson

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrTruncated is returned when a buffer ends before a value's declared
// length is satisfied.
var ErrTruncated = errors.New("bson: truncated buffer")

// Encode serializes a document as `i32 length | elements | 0x00`,
// bit-exact with BSON for the fixed-width scalar types.
func Encode(d *Document) ([]byte, error) {
	var body []byte
	for _, e := range d.elems {
		eb, err := encodeElement(e.Key, e.Val)
		if err != nil {
			return nil, err
		}
		body = append(body, eb...)
	}
	total := 4 + len(body) + 1
	out := make([]byte, total)
	binary.LittleEndian.PutUint32(out[0:4], uint32(total))
	copy(out[4:], body)
	out[total-1] = 0x00
	return out, nil
}

func encodeElement(key string, v Value) ([]byte, error) {
	t := TypeOf(v)
	var buf []byte
	buf = append(buf, byte(t))
	buf = append(buf, []byte(key)...)
	buf = append(buf, 0x00)
	vb, err := encodeValue(t, v)
	if err != nil {
		return nil, fmt.Errorf("bson: encode field %q: %w", key, err)
	}
	return append(buf, vb...), nil
}

func encodeValue(t Type, v Value) ([]byte, error) {
	switch t {
	case TypeNull, TypeMinKey, TypeMaxKey:
		return nil, nil
	case TypeBool:
		if v.(bool) {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case TypeInt32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v.(int32)))
		return b, nil
	case TypeInt64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v.(int64)))
		return b, nil
	case TypeDouble:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.(float64)))
		return b, nil
	case TypeDecimal128:
		d := v.(Decimal128)
		return d[:], nil
	case TypeString:
		s := v.(string)
		b := make([]byte, 4+len(s)+1)
		binary.LittleEndian.PutUint32(b[0:4], uint32(len(s)+1))
		copy(b[4:], s)
		b[len(b)-1] = 0x00
		return b, nil
	case TypeDateTime:
		ms := v.(time.Time).UnixMilli()
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(ms))
		return b, nil
	case TypeTimestamp:
		ts := v.(Timestamp)
		b := make([]byte, 8)
		binary.LittleEndian.PutUint32(b[0:4], ts.I)
		binary.LittleEndian.PutUint32(b[4:8], ts.T)
		return b, nil
	case TypeObjectID:
		id := v.(ObjectID)
		return id[:], nil
	case TypeBinary:
		bin := v.(Binary)
		b := make([]byte, 4+1+len(bin.Data))
		binary.LittleEndian.PutUint32(b[0:4], uint32(len(bin.Data)))
		b[4] = bin.Subtype
		copy(b[5:], bin.Data)
		return b, nil
	case TypeRegex:
		r := v.(Regex)
		b := append([]byte(r.Pattern), 0x00)
		b = append(b, []byte(r.Options)...)
		b = append(b, 0x00)
		return b, nil
	case TypeDocument:
		return Encode(v.(*Document))
	case TypeArray:
		return Encode(v.(*Array).AsDocument())
	default:
		return nil, fmt.Errorf("bson: unsupported value type %v", t)
	}
}

// Decode deserializes a document from its length-prefixed form,
// validating that the inner length prefix matches the consumed
// bytes.
func Decode(data []byte) (*Document, error) {
	doc, n, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("bson: trailing %d bytes after document", len(data)-n)
	}
	return doc, nil
}

func decodeDocument(data []byte) (*Document, int, error) {
	if len(data) < 5 {
		return nil, 0, ErrTruncated
	}
	total := int(binary.LittleEndian.Uint32(data[0:4]))
	if total < 5 || total > len(data) {
		return nil, 0, fmt.Errorf("bson: declared length %d inconsistent with buffer of %d bytes", total, len(data))
	}
	if data[total-1] != 0x00 {
		return nil, 0, errors.New("bson: missing document terminator")
	}
	doc := NewDocument()
	off := 4
	for off < total-1 {
		if off >= total-1 {
			break
		}
		t := Type(data[off])
		off++
		keyStart := off
		for off < total-1 && data[off] != 0x00 {
			off++
		}
		if off >= total-1 {
			return nil, 0, ErrTruncated
		}
		key := string(data[keyStart:off])
		off++ // skip NUL
		v, n, err := decodeValue(t, data[off:total-1])
		if err != nil {
			return nil, 0, err
		}
		off += n
		doc.Set(key, v)
	}
	return doc, total, nil
}

func decodeValue(t Type, data []byte) (Value, int, error) {
	switch t {
	case TypeNull, TypeMinKey, TypeMaxKey:
		switch t {
		case TypeMinKey:
			return MinKey{}, 0, nil
		case TypeMaxKey:
			return MaxKey{}, 0, nil
		default:
			return nil, 0, nil
		}
	case TypeBool:
		if len(data) < 1 {
			return nil, 0, ErrTruncated
		}
		return data[0] != 0, 1, nil
	case TypeInt32:
		if len(data) < 4 {
			return nil, 0, ErrTruncated
		}
		return int32(binary.LittleEndian.Uint32(data[0:4])), 4, nil
	case TypeInt64:
		if len(data) < 8 {
			return nil, 0, ErrTruncated
		}
		return int64(binary.LittleEndian.Uint64(data[0:8])), 8, nil
	case TypeDouble:
		if len(data) < 8 {
			return nil, 0, ErrTruncated
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data[0:8])), 8, nil
	case TypeDecimal128:
		if len(data) < 16 {
			return nil, 0, ErrTruncated
		}
		var d Decimal128
		copy(d[:], data[0:16])
		return d, 16, nil
	case TypeString:
		if len(data) < 4 {
			return nil, 0, ErrTruncated
		}
		l := int(binary.LittleEndian.Uint32(data[0:4]))
		if l < 1 || 4+l > len(data) {
			return nil, 0, ErrTruncated
		}
		s := string(data[4 : 4+l-1])
		return s, 4 + l, nil
	case TypeDateTime:
		if len(data) < 8 {
			return nil, 0, ErrTruncated
		}
		ms := int64(binary.LittleEndian.Uint64(data[0:8]))
		return time.UnixMilli(ms).UTC(), 8, nil
	case TypeTimestamp:
		if len(data) < 8 {
			return nil, 0, ErrTruncated
		}
		i := binary.LittleEndian.Uint32(data[0:4])
		tt := binary.LittleEndian.Uint32(data[4:8])
		return Timestamp{T: tt, I: i}, 8, nil
	case TypeObjectID:
		if len(data) < 12 {
			return nil, 0, ErrTruncated
		}
		var id ObjectID
		copy(id[:], data[0:12])
		return id, 12, nil
	case TypeBinary:
		if len(data) < 5 {
			return nil, 0, ErrTruncated
		}
		l := int(binary.LittleEndian.Uint32(data[0:4]))
		if 5+l > len(data) {
			return nil, 0, ErrTruncated
		}
		subtype := data[4]
		buf := make([]byte, l)
		copy(buf, data[5:5+l])
		return Binary{Subtype: subtype, Data: buf}, 5 + l, nil
	case TypeRegex:
		i := 0
		for i < len(data) && data[i] != 0x00 {
			i++
		}
		if i >= len(data) {
			return nil, 0, ErrTruncated
		}
		pattern := string(data[:i])
		i++
		optStart := i
		for i < len(data) && data[i] != 0x00 {
			i++
		}
		if i >= len(data) {
			return nil, 0, ErrTruncated
		}
		options := string(data[optStart:i])
		return Regex{Pattern: pattern, Options: options}, i + 1, nil
	case TypeDocument:
		doc, n, err := decodeDocument(data)
		return doc, n, err
	case TypeArray:
		doc, n, err := decodeDocument(data)
		if err != nil {
			return nil, 0, err
		}
		return &Array{doc: doc}, n, nil
	default:
		return nil, 0, fmt.Errorf("bson: unknown type tag 0x%02x", byte(t))
	}
}

// EncodeKeyValue serializes a single value as `type(1) | value bytes`,
// reusing the document element codec. Index keys (composite or not)
// are built by concatenating one of these per field.
func EncodeKeyValue(v Value) ([]byte, error) {
	t := TypeOf(v)
	vb, err := encodeValue(t, v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+len(vb))
	out[0] = byte(t)
	copy(out[1:], vb)
	return out, nil
}

// DecodeKeyValue reverses EncodeKeyValue, returning the value and the
// number of bytes consumed.
func DecodeKeyValue(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrTruncated
	}
	t := Type(data[0])
	v, n, err := decodeValue(t, data[1:])
	if err != nil {
		return nil, 0, err
	}
	return v, 1 + n, nil
}

// MaxDocumentBytes bounds accepted document size (design note: cyclic
// references are the mapper's problem; the core only guards size).
const MaxDocumentBytes = 16 * 1024 * 1024

// ValidateSize rejects documents exceeding MaxDocumentBytes.
func ValidateSize(encoded []byte) error {
	if len(encoded) > MaxDocumentBytes {
		return fmt.Errorf("bson: document of %d bytes exceeds max_document_bytes %d", len(encoded), MaxDocumentBytes)
	}
	return nil
}

package bson

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	oid := NewObjectID()
	doc := NewDocument()
	doc.Set("_id", oid)
	doc.Set("name", "Alice")
	doc.Set("age", int32(30))
	doc.Set("balance", int64(9999999999))
	doc.Set("score", 3.25)
	doc.Set("active", true)
	doc.Set("nothing", nil)
	doc.Set("created", time.UnixMilli(1700000000000).UTC())
	doc.Set("ts", Timestamp{T: 42, I: 7})
	doc.Set("tag", Binary{Subtype: 0x80, Data: []byte{1, 2, 3}})
	doc.Set("re", Regex{Pattern: "^a.*z$", Options: "i"})
	sub := NewDocument()
	sub.Set("street", "Main")
	doc.Set("address", sub)
	doc.Set("tags", NewArray("a", "b", "c"))

	encoded, err := Encode(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !doc.Equal(decoded) {
		t.Errorf("round trip mismatch:\n  got  %v\n  want %v", decoded, doc)
	}
}

func TestDocumentIDAlwaysFirst(t *testing.T) {
	doc := NewDocument()
	doc.Set("name", "Bob")
	doc.Set("_id", int64(1))
	keys := doc.Keys()
	if keys[0] != "_id" {
		t.Errorf("expected _id first, got %v", keys)
	}

	doc.Set("other", "x")
	doc.Set("_id", int64(2))
	if doc.Keys()[0] != "_id" {
		t.Errorf("expected _id to stay first after overwrite, got %v", doc.Keys())
	}
	v, _ := doc.Get("_id")
	if v != int64(2) {
		t.Errorf("expected _id value updated to 2, got %v", v)
	}
}

func TestDecimal128RawBytesRoundTrip(t *testing.T) {
	var d Decimal128
	for i := range d {
		d[i] = byte(i + 1)
	}
	doc := NewDocument()
	doc.Set("price", d)

	encoded, err := Encode(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	v, ok := decoded.Get("price")
	if !ok {
		t.Fatal("price field missing after decode")
	}
	got, ok := v.(Decimal128)
	if !ok {
		t.Fatalf("expected Decimal128, got %T", v)
	}
	if got != d {
		t.Errorf("decimal128 bytes mismatch: got %v, want %v", got, d)
	}
}

func TestEncodeValueWidensNativeInt(t *testing.T) {
	doc := NewDocument()
	doc.Set("n", 7) // native int, not int32/int64
	v, _ := doc.Get("n")
	if _, ok := v.(int64); !ok {
		t.Errorf("expected native int to normalize to int64, got %T", v)
	}
}

func TestDecodeTruncatedBuffer(t *testing.T) {
	doc := NewDocument()
	doc.Set("x", int32(1))
	encoded, err := Encode(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(encoded[:len(encoded)-3]); err == nil {
		t.Error("expected error decoding truncated buffer")
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	doc := NewDocument()
	doc.Set("x", int32(1))
	encoded, err := Encode(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	padded := append(encoded, 0xAB)
	if _, err := Decode(padded); err == nil {
		t.Error("expected error decoding buffer with trailing bytes")
	}
}

func TestEncodeKeyValueRoundTrip(t *testing.T) {
	cases := []Value{int32(5), int64(-9), "hello", true, 1.5, NewObjectID()}
	for _, c := range cases {
		kb, err := EncodeKeyValue(c)
		if err != nil {
			t.Fatalf("encode key value %v: %v", c, err)
		}
		got, n, err := DecodeKeyValue(kb)
		if err != nil {
			t.Fatalf("decode key value %v: %v", c, err)
		}
		if n != len(kb) {
			t.Errorf("expected to consume %d bytes, consumed %d", len(kb), n)
		}
		if !Equal(got, c) {
			t.Errorf("key value round trip mismatch: got %v, want %v", got, c)
		}
	}
}

func TestValidateSizeRejectsOversized(t *testing.T) {
	big := make([]byte, MaxDocumentBytes+1)
	if err := ValidateSize(big); err == nil {
		t.Error("expected oversized document to be rejected")
	}
	if err := ValidateSize(big[:MaxDocumentBytes]); err != nil {
		t.Errorf("expected document at the limit to be accepted, got %v", err)
	}
}

func TestArrayRoundTrip(t *testing.T) {
	doc := NewDocument()
	doc.Set("items", NewArray(int32(1), int32(2), int32(3)))
	encoded, err := Encode(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	v, ok := decoded.Get("items")
	if !ok {
		t.Fatal("items field missing")
	}
	arr, ok := v.(*Array)
	if !ok {
		t.Fatalf("expected *Array, got %T", v)
	}
	if arr.Len() != 3 {
		t.Fatalf("expected 3 elements, got %d", arr.Len())
	}
	for i, want := range []int32{1, 2, 3} {
		got, _ := arr.At(i)
		if got != want {
			t.Errorf("element %d: got %v, want %v", i, got, want)
		}
	}
}

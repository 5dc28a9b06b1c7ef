package bson

import "testing"

func TestDocumentGetNested(t *testing.T) {
	addr := NewDocument()
	addr.Set("city", "Paris")
	doc := NewDocument()
	doc.Set("address", addr)

	v, ok := doc.GetNested([]string{"address", "city"})
	if !ok {
		t.Fatal("expected nested field to resolve")
	}
	if v != "Paris" {
		t.Errorf("expected Paris, got %v", v)
	}

	if _, ok := doc.GetNested([]string{"address", "zip"}); ok {
		t.Error("expected missing nested field to report absent")
	}
	if _, ok := doc.GetNested([]string{"name", "first"}); ok {
		t.Error("expected descent into a non-document field to fail")
	}
}

func TestDocumentDeleteAndKeys(t *testing.T) {
	doc := NewDocument()
	doc.Set("a", int32(1))
	doc.Set("b", int32(2))
	doc.Delete("a")
	if doc.Len() != 1 {
		t.Fatalf("expected 1 field after delete, got %d", doc.Len())
	}
	if _, ok := doc.Get("a"); ok {
		t.Error("expected a to be gone")
	}
}

func TestDocumentCloneIsIndependent(t *testing.T) {
	sub := NewDocument()
	sub.Set("x", int32(1))
	doc := NewDocument()
	doc.Set("sub", sub)

	clone := doc.Clone()
	subClone, _ := clone.Get("sub")
	subClone.(*Document).Set("x", int32(99))

	orig, _ := doc.Get("sub")
	if v, _ := orig.(*Document).Get("x"); v != int32(1) {
		t.Errorf("expected original sub-document untouched, got %v", v)
	}
}

func TestDocumentEqual(t *testing.T) {
	a := NewDocument()
	a.Set("x", int32(1))
	a.Set("y", "hi")

	b := NewDocument()
	b.Set("x", int32(1))
	b.Set("y", "hi")

	if !a.Equal(b) {
		t.Error("expected equal documents with same fields in same order to be equal")
	}

	c := NewDocument()
	c.Set("y", "hi")
	c.Set("x", int32(1))
	if a.Equal(c) {
		t.Error("expected field order to matter for Equal")
	}
}

func TestDocumentFromMapPlacesIDFirst(t *testing.T) {
	m := map[string]Value{
		"name": "Bob",
		"_id":  int64(5),
		"age":  int32(40),
	}
	doc := DocumentFromMap(m)
	if doc.Keys()[0] != "_id" {
		t.Errorf("expected _id first, got %v", doc.Keys())
	}
	if doc.Len() != 3 {
		t.Fatalf("expected 3 fields, got %d", doc.Len())
	}
}

func TestArrayAsDocumentStringKeys(t *testing.T) {
	arr := NewArray("x", "y")
	doc := arr.AsDocument()
	if v, ok := doc.Get("0"); !ok || v != "x" {
		t.Errorf("expected element 0 = x, got %v (ok=%v)", v, ok)
	}
	if v, ok := doc.Get("1"); !ok || v != "y" {
		t.Errorf("expected element 1 = y, got %v (ok=%v)", v, ok)
	}
}

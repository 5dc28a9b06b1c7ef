package bson

import (
	"fmt"
	"sort"
)

// element is one (key, value) pair inside a Document, kept in insertion
// order. Keys are unique within a document.
type element struct {
	Key string
	Val Value
}

// Document is an ordered, length-prefixed sequence of typed fields.
// Keys are unique in insertion order; the `_id` field, if present, is
// always the first element.
type Document struct {
	elems []element
	index map[string]int // key -> position in elems
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{index: make(map[string]int)}
}

// DocumentFromMap builds a document from a plain map, in key-sorted
// order except that `_id` (if present) is always placed first. Maps
// are unordered in Go so this is only a convenience for tests/fixtures
// where field order does not matter beyond the `_id`-first invariant.
func DocumentFromMap(m map[string]Value) *Document {
	d := NewDocument()
	if id, ok := m["_id"]; ok {
		d.Set("_id", id)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "_id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.Set(k, m[k])
	}
	return d
}

// Set adds or replaces a field. `_id` is always relocated to position 0.
func (d *Document) Set(key string, val Value) {
	val = normalizeInt(val)
	if pos, ok := d.index[key]; ok {
		d.elems[pos].Val = val
		if key == "_id" && pos != 0 {
			d.moveToFront(pos)
		}
		return
	}
	if key == "_id" {
		d.elems = append([]element{{Key: key, Val: val}}, d.elems...)
		d.reindex()
		return
	}
	d.elems = append(d.elems, element{Key: key, Val: val})
	d.index[key] = len(d.elems) - 1
}

func (d *Document) moveToFront(pos int) {
	e := d.elems[pos]
	d.elems = append(d.elems[:pos], d.elems[pos+1:]...)
	d.elems = append([]element{e}, d.elems...)
	d.reindex()
}

func (d *Document) reindex() {
	d.index = make(map[string]int, len(d.elems))
	for i, e := range d.elems {
		d.index[e.Key] = i
	}
}

// Get returns a field's value and whether it is present.
func (d *Document) Get(key string) (Value, bool) {
	pos, ok := d.index[key]
	if !ok {
		return nil, false
	}
	return d.elems[pos].Val, true
}

// GetNested resolves a dotted path, descending into sub-documents.
func (d *Document) GetNested(path []string) (Value, bool) {
	if len(path) == 0 {
		return nil, false
	}
	if len(path) == 1 {
		return d.Get(path[0])
	}
	v, ok := d.Get(path[0])
	if !ok {
		return nil, false
	}
	sub, ok := v.(*Document)
	if !ok {
		return nil, false
	}
	return sub.GetNested(path[1:])
}

// Delete removes a field if present.
func (d *Document) Delete(key string) {
	pos, ok := d.index[key]
	if !ok {
		return
	}
	d.elems = append(d.elems[:pos], d.elems[pos+1:]...)
	d.reindex()
}

// Keys returns field names in document order.
func (d *Document) Keys() []string {
	keys := make([]string, len(d.elems))
	for i, e := range d.elems {
		keys[i] = e.Key
	}
	return keys
}

// Len returns the number of fields.
func (d *Document) Len() int { return len(d.elems) }

// ID is a convenience accessor for the `_id` field.
func (d *Document) ID() (Value, bool) {
	return d.Get("_id")
}

// Clone returns a deep-enough copy safe to mutate independently
// (sub-documents and arrays are cloned recursively; scalar values,
// being immutable in Go, are shared).
func (d *Document) Clone() *Document {
	out := NewDocument()
	for _, e := range d.elems {
		v := e.Val
		switch vv := v.(type) {
		case *Document:
			v = vv.Clone()
		case *Array:
			v = vv.Clone()
		}
		out.Set(e.Key, v)
	}
	return out
}

// Equal reports whether two documents hold the same fields in the same
// order with equal values (used by round-trip tests).
func (d *Document) Equal(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	if len(d.elems) != len(other.elems) {
		return false
	}
	for i, e := range d.elems {
		o := other.elems[i]
		if e.Key != o.Key {
			return false
		}
		if !valuesDeepEqual(e.Val, o.Val) {
			return false
		}
	}
	return true
}

func valuesDeepEqual(a, b Value) bool {
	switch av := a.(type) {
	case *Document:
		bv, ok := b.(*Document)
		return ok && av.Equal(bv)
	case *Array:
		bv, ok := b.(*Array)
		return ok && av.Equal(bv)
	case Binary:
		bv, ok := b.(Binary)
		if !ok || av.Subtype != bv.Subtype || len(av.Data) != len(bv.Data) {
			return false
		}
		for i := range av.Data {
			if av.Data[i] != bv.Data[i] {
				return false
			}
		}
		return true
	default:
		return Equal(a, b)
	}
}

func (d *Document) String() string {
	return fmt.Sprintf("Document(%d fields)", d.Len())
}

// Array is a BSON array: a document whose keys are the string forms of
// consecutive indices "0","1",....
type Array struct {
	doc *Document
}

// NewArray builds an Array from a slice of values.
func NewArray(values ...Value) *Array {
	a := &Array{doc: NewDocument()}
	for i, v := range values {
		a.doc.Set(fmt.Sprintf("%d", i), v)
	}
	return a
}

// Len returns the number of elements.
func (a *Array) Len() int { return a.doc.Len() }

// At returns the element at index i.
func (a *Array) At(i int) (Value, bool) {
	return a.doc.Get(fmt.Sprintf("%d", i))
}

// Values returns the array contents as a plain Go slice, in order.
func (a *Array) Values() []Value {
	out := make([]Value, a.Len())
	for i := range out {
		v, _ := a.At(i)
		out[i] = v
	}
	return out
}

// AsDocument exposes the underlying positional document; an array is
// stored on disk exactly like a document with stringified index keys.
func (a *Array) AsDocument() *Document { return a.doc }

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	return &Array{doc: a.doc.Clone()}
}

// Equal reports element-wise equality.
func (a *Array) Equal(other *Array) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.doc.Equal(other.doc)
}

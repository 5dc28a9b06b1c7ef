// Package mapper bridges typed Go values and the untyped bson.Document
// the storage layer persists, via a small generic interface plus a
// reflection-based convenience implementation for plain structs.
package mapper

import "github.com/tinydb-go/tinydb/bson"

// EntityMapper converts between an application type T and the document
// form the engine stores. Collection[T] is generic over this interface
// so callers can plug in hand-written, faster mappers for hot types
// while still getting StructMapper for free on everything else.
//
// IDOf and SetID give Collection[T].Insert both directions of id
// access, since a value with no _id gets a fresh
// ObjectID generated for it that must be written back onto the
// caller's own entity, not just the document built for storage.
type EntityMapper[T any] interface {
	ToDocument(v T) (*bson.Document, error)
	FromDocument(d *bson.Document) (T, error)
	// IDOf reports v's _id value and whether it has one set.
	IDOf(v T) (id bson.Value, ok bool)
	// SetID writes id onto v's _id field.
	SetID(v *T, id bson.Value)
}

// Package txn implements TinyDb's transaction manager: a single
// active transaction per engine instance, buffering operations in an
// in-memory overlay until commit.
package txn

import (
	"iter"

	"github.com/tinydb-go/tinydb/bson"
)

// entry is the overlay's merged view of one document across however
// many operations the transaction performed against it. doc is nil
// when the last operation was a delete.
type entry struct {
	id  bson.Value
	doc *bson.Document
}

// Overlay is the in-memory delta of a single transaction's writes.
// It satisfies query.Overlay so the executor can consult it directly while the
// transaction is open.
type Overlay struct {
	order []string // key insertion order, for log-order commit replay
	byKey map[string]*entry
}

// NewOverlay returns an empty overlay for a freshly begun transaction.
func NewOverlay() *Overlay {
	return &Overlay{byKey: make(map[string]*entry)}
}

// RecordWrite buffers an insert or update: doc becomes the
// transaction's pending value for its own _id. doc must already carry
// an _id (the caller assigns one before recording the write).
func (o *Overlay) RecordWrite(doc *bson.Document) {
	id, ok := doc.ID()
	if !ok {
		return
	}
	k := keyFor(id)
	if _, exists := o.byKey[k]; !exists {
		o.order = append(o.order, k)
	}
	o.byKey[k] = &entry{id: id, doc: doc}
}

// RecordDelete buffers a delete: the transaction now considers id
// absent regardless of what's on disk.
func (o *Overlay) RecordDelete(id bson.Value) {
	k := keyFor(id)
	if _, exists := o.byKey[k]; !exists {
		o.order = append(o.order, k)
	}
	o.byKey[k] = &entry{id: id, doc: nil}
}

// Lookup implements query.Overlay.
func (o *Overlay) Lookup(id bson.Value) (doc *bson.Document, deleted bool, touched bool) {
	e, ok := o.byKey[keyFor(id)]
	if !ok {
		return nil, false, false
	}
	if e.doc == nil {
		return nil, true, true
	}
	return e.doc, false, true
}

// Inserted implements query.Overlay: every entry the transaction
// still considers present, in write order. The executor's full-scan
// strategy is responsible for skipping ids it already surfaced while
// walking the stored rows, so this includes both true new inserts and
// updates to existing rows without ambiguity.
func (o *Overlay) Inserted() iter.Seq[*bson.Document] {
	return func(yield func(*bson.Document) bool) {
		for _, k := range o.order {
			e := o.byKey[k]
			if e.doc == nil {
				continue
			}
			if !yield(e.doc) {
				return
			}
		}
	}
}

// Writes returns every id the transaction touched, in log order, with
// its final buffered document (nil for a delete) — the replay list
// Commit applies against the real collection.
func (o *Overlay) Writes() []struct {
	ID  bson.Value
	Doc *bson.Document
} {
	out := make([]struct {
		ID  bson.Value
		Doc *bson.Document
	}, 0, len(o.order))
	for _, k := range o.order {
		e := o.byKey[k]
		out = append(out, struct {
			ID  bson.Value
			Doc *bson.Document
		}{ID: e.id, Doc: e.doc})
	}
	return out
}

// Empty reports whether the transaction has buffered no operations.
func (o *Overlay) Empty() bool { return len(o.order) == 0 }

func keyFor(id bson.Value) string {
	b, err := bson.EncodeKeyValue(id)
	if err != nil {
		return ""
	}
	return string(b)
}

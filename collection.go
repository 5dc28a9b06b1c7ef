package tinydb

import (
	"context"
	"fmt"
	"iter"

	"github.com/tinydb-go/tinydb/bson"
	"github.com/tinydb-go/tinydb/catalog"
	"github.com/tinydb-go/tinydb/index"
	"github.com/tinydb-go/tinydb/mapper"
	"github.com/tinydb-go/tinydb/query"
	"github.com/tinydb-go/tinydb/storage"
	"github.com/tinydb-go/tinydb/txn"
)

// Collection is a typed view over one catalog.Collection, converting
// between an application type T and the stored bson.Document via an
// EntityMapper: a typed handle, not a raw document store.
//
// A Collection is bound to the Engine it was obtained from. If a
// transaction is active on that engine when an operation runs, the
// operation is buffered in the transaction's overlay instead of
// touching storage directly — the same Collection value
// works both inside and outside a transaction, matching get_collection's
// signature, which takes no transaction argument.
type Collection[T any] struct {
	engine *Engine
	store  *catalog.Collection
	mapper mapper.EntityMapper[T]
}

// GetCollection returns a typed handle for collection name, creating it
// empty on first use. Go has no generic methods on non-generic
// receivers, so this is a package-level function rather than
// Engine.GetCollection.
func GetCollection[T any](e *Engine, name string, m mapper.EntityMapper[T]) (*Collection[T], error) {
	store, err := e.ensureCollection(name)
	if err != nil {
		return nil, err
	}
	return &Collection[T]{engine: e, store: store, mapper: m}, nil
}

// GetStructCollection is GetCollection with the reflection-based
// StructMapper, for the common case of a plain struct entity type.
func GetStructCollection[T any](e *Engine, name string) (*Collection[T], error) {
	return GetCollection[T](e, name, mapper.NewStructMapper[T]())
}

// Name is the collection's catalog name.
func (c *Collection[T]) Name() string { return c.store.Meta().Name }

// EnsureIndex builds a secondary index over fields. Index
// maintenance always runs against real storage immediately — indexes
// aren't buffered by an open transaction, matching the overlay's scope
// of document reads/writes only.
func (c *Collection[T]) EnsureIndex(name string, fields []string, unique bool) error {
	_, err := c.store.EnsureIndex(index.Definition{Name: name, Fields: fields, Unique: unique})
	return err
}

// Insert assigns v a fresh ObjectID if it doesn't already carry an
// _id, writing the generated id back onto v itself (not just the
// bson.Document built for storage) via the mapper's SetID hook, then
// stores it.
func (c *Collection[T]) Insert(v *T) (bson.Value, error) {
	id, hasID := c.mapper.IDOf(*v)
	if !hasID {
		id = bson.NewObjectID()
		c.mapper.SetID(v, id)
	}

	doc, err := c.mapper.ToDocument(*v)
	if err != nil {
		return nil, err
	}
	doc.Set("_id", id)

	if h, ok := c.engine.txm.Active(); ok {
		h.RecordInsert(c.Name(), doc)
		return id, nil
	}

	if _, err := c.store.Insert(doc); err != nil {
		return nil, err
	}
	return id, nil
}

// InsertMany inserts every value, stopping at the first error; values
// already inserted before the failure remain inserted; batch insert
// outside a transaction carries no all-or-nothing guarantee — wrap the
// call in one to get that. Each vs[i] receives its generated
// id back the same way a direct Insert call would.
func (c *Collection[T]) InsertMany(vs []*T) ([]bson.Value, error) {
	ids := make([]bson.Value, 0, len(vs))
	for _, v := range vs {
		id, err := c.Insert(v)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Update replaces the stored document sharing v's _id. Returns
// ErrNotFound if no such document exists.
func (c *Collection[T]) Update(v T) error {
	newDoc, err := c.mapper.ToDocument(v)
	if err != nil {
		return err
	}
	id, hasID := newDoc.ID()
	if !hasID {
		return fmt.Errorf("%w: value has no _id to update", ErrInvalidArgument)
	}

	if h, ok := c.engine.txm.Active(); ok {
		if _, err := c.resolve(h, id); err != nil {
			return err
		}
		h.RecordUpdate(c.Name(), newDoc)
		return nil
	}

	oldDoc, oldRid, err := c.store.FindByID(id)
	if err != nil {
		return wrapNotFound(err)
	}
	_, err = c.store.Update(oldRid, oldDoc, newDoc)
	return err
}

// Delete removes the document with the given _id.
func (c *Collection[T]) Delete(id bson.Value) error {
	if h, ok := c.engine.txm.Active(); ok {
		if _, err := c.resolve(h, id); err != nil {
			return err
		}
		h.RecordDelete(c.Name(), id)
		return nil
	}

	doc, rid, err := c.store.FindByID(id)
	if err != nil {
		return wrapNotFound(err)
	}
	return c.store.Delete(rid, doc)
}

// FindByID resolves id through the active transaction's overlay first
// (if any), falling back to storage.
func (c *Collection[T]) FindByID(id bson.Value) (T, error) {
	var zero T
	if h, ok := c.engine.txm.Active(); ok {
		doc, err := c.resolve(h, id)
		if err != nil {
			return zero, err
		}
		return c.mapper.FromDocument(doc)
	}
	doc, _, err := c.store.FindByID(id)
	if err != nil {
		return zero, wrapNotFound(err)
	}
	return c.mapper.FromDocument(doc)
}

// resolve looks id up through h's overlay for this collection, falling
// back to storage when the transaction hasn't touched it.
func (c *Collection[T]) resolve(h *txn.Handle, id bson.Value) (*bson.Document, error) {
	if ov := h.Overlay(c.Name()); ov != nil {
		if doc, deleted, touched := ov.Lookup(id); touched {
			if deleted {
				return nil, ErrNotFound
			}
			return doc, nil
		}
	}
	doc, _, err := c.store.FindByID(id)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return doc, nil
}

// Find plans and executes predicate against the collection, honoring
// any active transaction's overlay, and decodes every matching document
// into T. The engine's configured Timeout is applied;
// use FindContext to observe the timeout error instead of a truncated
// sequence.
func (c *Collection[T]) Find(predicate query.Expr) iter.Seq[T] {
	return func(yield func(T) bool) {
		ctx := context.Background()
		if c.engine.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.engine.timeout)
			defer cancel()
		}
		for v, err := range c.FindContext(ctx, predicate) {
			if err != nil {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// FindContext is Find with caller-controlled cancellation: the sequence
// ends with a single (zero, ctx.Err()) element if ctx expires
// mid-iteration, leaving storage untouched.
func (c *Collection[T]) FindContext(ctx context.Context, predicate query.Expr) iter.Seq2[T, error] {
	plan := query.Plan(c.Name(), predicate, c.indexDefs())
	overlay := c.overlayFor()
	return func(yield func(T, error) bool) {
		var zero T
		for doc := range query.Execute(plan, c.store, overlay) {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}
			c.engine.metrics.IncScanRows(plan.Strategy.String(), 1)
			v, err := c.mapper.FromDocument(doc)
			if err != nil {
				continue
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// FindAllRaw streams every live row's undecoded BSON bytes, bypassing
// both the mapper and the query
// planner — for callers doing their own bulk scan or export.
func (c *Collection[T]) FindAllRaw() iter.Seq2[index.RecordID, []byte] {
	return c.store.ScanRaw()
}

// Count evaluates predicate the same way Find does and reports how
// many documents matched, without materializing T for any of them.
func (c *Collection[T]) Count(predicate query.Expr) int {
	plan := query.Plan(c.Name(), predicate, c.indexDefs())
	overlay := c.overlayFor()
	n := 0
	for range query.Execute(plan, c.store, overlay) {
		n++
	}
	c.engine.metrics.IncScanRows(plan.Strategy.String(), n)
	return n
}

// Explain returns the execution plan predicate would be run under,
// without running it — the planner surfaced for inspection.
func (c *Collection[T]) Explain(predicate query.Expr) *query.ExecutionPlan {
	return query.Plan(c.Name(), predicate, c.indexDefs())
}

func (c *Collection[T]) indexDefs() []index.Definition {
	indexes := c.store.Indexes()
	defs := make([]index.Definition, 0, len(indexes))
	for _, idx := range indexes {
		defs = append(defs, idx.Definition)
	}
	return defs
}

// overlayFor returns the active transaction's overlay for this
// collection as a query.Overlay, or nil if no transaction is active or
// it hasn't touched this collection yet.
func (c *Collection[T]) overlayFor() query.Overlay {
	h, ok := c.engine.txm.Active()
	if !ok {
		return nil
	}
	ov := h.Overlay(c.Name())
	if ov == nil {
		return nil
	}
	return ov
}

// EnsureDurability requests concern from the underlying engine
// directly, without requiring an open transaction — for callers doing
// untransacted writes who still want to block until they're durable.
func (c *Collection[T]) EnsureDurability(ctx context.Context, concern storage.WriteConcern) error {
	return c.engine.ensureDurability(ctx, concern)
}

package query

import (
	"iter"

	"github.com/tinydb-go/tinydb/bson"
	"github.com/tinydb-go/tinydb/index"
)

// DataSource is the subset of catalog.Collection the executor needs.
// Defined here (rather than importing catalog directly) only to keep
// the dependency direction one-way; catalog.Collection satisfies it
// as-is.
type DataSource interface {
	FindByID(id bson.Value) (*bson.Document, index.RecordID, error)
	Index(name string) (*index.Index, bool)
	Get(rid index.RecordID) (*bson.Document, error)
	Scan() iter.Seq2[index.RecordID, *bson.Document]
	ScanRaw() iter.Seq2[index.RecordID, []byte]
}

// Overlay is the view of a single transaction's uncommitted writes, as
// seen by a concurrent read within the same engine instance. A nil
// Overlay means "no active transaction":
// every row is read straight from the collection.
type Overlay interface {
	// Lookup reports whether id has been touched by the transaction.
	// touched is false if the transaction never wrote this id, in which
	// case doc and deleted are meaningless. touched is true and deleted
	// is true if the transaction deleted id. touched is true and
	// deleted is false if doc is the transaction's pending value for id
	// (insert or update).
	Lookup(id bson.Value) (doc *bson.Document, deleted bool, touched bool)
	// Inserted returns documents the transaction inserted, for the
	// full-scan strategy to surface rows that don't exist on disk yet.
	Inserted() iter.Seq[*bson.Document]
}

// Execute runs plan against source, applying overlay if non-nil, and
// yields every matching document. The returned sequence
// stops early if the consumer's yield function returns false.
func Execute(plan *ExecutionPlan, source DataSource, overlay Overlay) iter.Seq[*bson.Document] {
	switch plan.Strategy {
	case StrategyPrimaryKeyLookup:
		return executePrimaryKeyLookup(plan, source, overlay)
	case StrategyIndexSeek:
		return executeIndexSeek(plan, source, overlay)
	case StrategyIndexScan:
		return executeIndexScan(plan, source, overlay)
	default:
		return executeFullScan(plan, source, overlay)
	}
}

// executePrimaryKeyLookup resolves the single
// equality key straight off the primary index, honors any pending
// overlay write for that id, then applies the full predicate as a
// residual filter (the key equality was already exact, but the plan's
// Predicate may carry additional conjuncts beyond the PK comparison).
func executePrimaryKeyLookup(plan *ExecutionPlan, source DataSource, overlay Overlay) iter.Seq[*bson.Document] {
	return func(yield func(*bson.Document) bool) {
		id := plan.ScanKeys[0].Value
		doc, ok := resolveByID(id, source, overlay)
		if !ok || doc == nil {
			return
		}
		if Evaluate(plan.Predicate, doc) {
			yield(doc)
		}
	}
}

// resolveByID returns the overlay's pending value for id if the
// transaction touched it (nil, false if it deleted it), otherwise
// falls back to the collection's stored value.
func resolveByID(id bson.Value, source DataSource, overlay Overlay) (*bson.Document, bool) {
	if overlay != nil {
		if doc, deleted, touched := overlay.Lookup(id); touched {
			if deleted {
				return nil, false
			}
			return doc, true
		}
	}
	doc, _, err := source.FindByID(id)
	if err != nil {
		return nil, false
	}
	return doc, true
}

// executeIndexSeek is an exact composite-key
// lookup on a unique index, resolved through the overlay per record.
func executeIndexSeek(plan *ExecutionPlan, source DataSource, overlay Overlay) iter.Seq[*bson.Document] {
	return func(yield func(*bson.Document) bool) {
		idx, ok := source.Index(plan.IndexName)
		if !ok {
			return
		}
		values := make([]bson.Value, len(plan.ScanKeys))
		for i, k := range plan.ScanKeys {
			values[i] = k.Value
		}
		rids, err := idx.Lookup(values...)
		if err != nil {
			return
		}
		for _, rid := range rids {
			if !yieldResolved(rid, plan, source, overlay, yield) {
				return
			}
		}
	}
}

// executeIndexScan is the range-seek variant: build
// an inclusive [min, max] composite bound from ScanKeys (equalities
// narrow both bounds, the first range operator narrows only the bound
// it constrains, remaining positions are padded with MinValue/MaxValue
// so a composite prefix still matches), walk the index's leaf chain,
// then apply the full predicate as a residual filter since the index
// only proves the scanned fields are in range, not the rest of the
// predicate.
func executeIndexScan(plan *ExecutionPlan, source DataSource, overlay Overlay) iter.Seq[*bson.Document] {
	return func(yield func(*bson.Document) bool) {
		idx, ok := source.Index(plan.IndexName)
		if !ok {
			return
		}
		min, max := buildRangeBounds(plan.ScanKeys, len(idx.Fields))
		rids, err := idx.RangeScan(min, max)
		if err != nil {
			return
		}
		for _, rid := range rids {
			if !yieldResolved(rid, plan, source, overlay, yield) {
				return
			}
		}
	}
}

func yieldResolved(rid index.RecordID, plan *ExecutionPlan, source DataSource, overlay Overlay, yield func(*bson.Document) bool) bool {
	doc, err := source.Get(rid)
	if err != nil {
		return true
	}
	id, hasID := doc.ID()
	if hasID && overlay != nil {
		if overridden, deleted, touched := overlay.Lookup(id); touched {
			if deleted {
				return true
			}
			doc = overridden
		}
	}
	if doc == nil || !Evaluate(plan.Predicate, doc) {
		return true
	}
	return yield(doc)
}

// buildRangeBounds constructs the [min, max] IndexKey pair for an
// index with arity fieldCount from a prefix of equality/range scan
// keys.
func buildRangeBounds(keys []ScanKey, fieldCount int) (index.IndexKey, index.IndexKey) {
	minValues := make([]bson.Value, fieldCount)
	maxValues := make([]bson.Value, fieldCount)
	for i := range minValues {
		minValues[i] = index.MinValue
		maxValues[i] = index.MaxValue
	}
	for i, k := range keys {
		if i >= fieldCount {
			break
		}
		switch k.Op {
		case OpEq:
			minValues[i] = k.Value
			maxValues[i] = k.Value
		case OpGt, OpGe:
			minValues[i] = k.Value
			for j := i + 1; j < fieldCount; j++ {
				maxValues[j] = index.MaxValue
			}
			return index.NewKey(minValues...), index.NewKey(maxValues...)
		case OpLt, OpLe:
			maxValues[i] = k.Value
			for j := i + 1; j < fieldCount; j++ {
				minValues[j] = index.MinValue
			}
			return index.NewKey(minValues...), index.NewKey(maxValues...)
		default:
			return index.NewKey(minValues...), index.NewKey(maxValues...)
		}
	}
	return index.NewKey(minValues...), index.NewKey(maxValues...)
}

// executeFullScan streams every live row,
// applies whatever root-level equality/range conjuncts were pushed
// down directly against the raw document bytes (no allocation beyond
// the read buffer itself), falling back to the typed evaluator only
// for documents the byte-level check can't decide or fields it
// doesn't cover; finally merges in the overlay's pending writes and
// fresh inserts.
func executeFullScan(plan *ExecutionPlan, source DataSource, overlay Overlay) iter.Seq[*bson.Document] {
	return func(yield func(*bson.Document) bool) {
		touchedIDs := make(map[string]bool)
		for _, raw := range source.ScanRaw() {
			requiresPostFilter := !plan.FullyPushed
			if plan.FullyPushed {
				matched, decided := evalPushdown(raw, plan.Pushdown)
				if decided && !matched {
					continue
				}
				if !decided {
					requiresPostFilter = true
				}
			}
			doc, err := bson.Decode(raw)
			if err != nil {
				continue
			}
			id, hasID := doc.ID()
			if hasID && overlay != nil {
				if overridden, deleted, touched := overlay.Lookup(id); touched {
					touchedIDs[idKey(id)] = true
					if deleted {
						continue
					}
					doc = overridden
					requiresPostFilter = true
				}
			}
			if requiresPostFilter && !Evaluate(plan.Predicate, doc) {
				continue
			}
			if !yield(doc) {
				return
			}
		}
		if overlay == nil {
			return
		}
		for doc := range overlay.Inserted() {
			if id, ok := doc.ID(); ok && touchedIDs[idKey(id)] {
				continue
			}
			if Evaluate(plan.Predicate, doc) {
				if !yield(doc) {
					return
				}
			}
		}
	}
}

// evalPushdown evaluates every pushed-down conjunct against raw
// document bytes via the binary evaluator. decided is false if any
// conjunct's field is missing or its stored type isn't one the binary
// evaluator covers, in which case the caller must fall back to the
// typed, fully-decoded evaluator for that document.
func evalPushdown(raw []byte, conjuncts []FieldCmp) (matched bool, decided bool) {
	for _, c := range conjuncts {
		el, found, err := bson.FieldSpan(raw, c.Field)
		if err != nil {
			return false, false
		}
		if !found {
			return CompareOp(nil, c.Op, c.Value), false
		}
		ok, handled := TryEvaluateBinary(raw, el, c.Op, c.Value)
		if !handled {
			return false, false
		}
		if !ok {
			return false, true
		}
	}
	return true, true
}

// idKey turns an _id value into a comparable map key for dedup against
// overlay inserts; encoding is the same byte form used by index keys,
// so distinct BSON values never collide.
func idKey(id bson.Value) string {
	b, err := bson.EncodeKeyValue(id)
	if err != nil {
		return ""
	}
	return string(b)
}

package index

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tinydb-go/tinydb/bson"
	"github.com/tinydb-go/tinydb/storage"
)

// ErrDuplicateKey is returned by Insert on a unique index when the key
// already has an entry.
var ErrDuplicateKey = errors.New("index: duplicate key violates unique constraint")

// Definition describes one secondary index: which fields it covers, in
// order, whether duplicate keys are rejected, and how many entries it
// currently holds (the planner tie-breaks equally-scored candidates on
// entry count). EntryCount
// is maintained by Insert/Delete as documents are added and removed.
type Definition struct {
	Name       string
	Fields     []string
	Unique     bool
	EntryCount int
}

// Index wraps a BTree with field-extraction and uniqueness semantics.
type Index struct {
	Definition
	tree *BTree
}

// Create allocates a new empty index rooted on a fresh page.
func Create(pm *storage.PageManager, def Definition) (*Index, error) {
	tree, err := NewBTree(pm)
	if err != nil {
		return nil, err
	}
	return &Index{Definition: def, tree: tree}, nil
}

// Open attaches to an index whose tree already exists at rootPageID.
func Open(pm *storage.PageManager, def Definition, rootPageID uint32) *Index {
	return &Index{Definition: def, tree: OpenBTree(pm, rootPageID)}
}

// RootPageID returns the tree's current root, to persist in the
// catalog (the root can change across splits).
func (idx *Index) RootPageID() uint32 { return idx.tree.RootPageID }

// keyFor extracts this index's fields from doc, in declared order. A
// missing field contributes bson.Null — consistent with query
// predicate evaluation's missing-field semantics.
func (idx *Index) keyFor(doc *bson.Document) IndexKey {
	values := make([]bson.Value, len(idx.Fields))
	for i, f := range idx.Fields {
		v, ok := doc.GetNested(strings.Split(f, "."))
		if !ok {
			v = nil
		}
		values[i] = v
	}
	return IndexKey{Values: values}
}

// Insert adds doc's entry. On a unique index, returns ErrDuplicateKey
// if the computed key already has an entry.
func (idx *Index) Insert(doc *bson.Document, rid RecordID) error {
	key := idx.keyFor(doc)
	if idx.Unique {
		existing, err := idx.tree.Lookup(key)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: index %q", ErrDuplicateKey, idx.Name)
		}
	}
	if err := idx.tree.Insert(key, rid); err != nil {
		return err
	}
	idx.EntryCount++
	return nil
}

// Delete removes doc's entry (looked up by recomputing its key, since
// indexes don't store full documents).
func (idx *Index) Delete(doc *bson.Document, rid RecordID) error {
	key := idx.keyFor(doc)
	if err := idx.tree.Remove(key, rid); err != nil {
		return err
	}
	if idx.EntryCount > 0 {
		idx.EntryCount--
	}
	return nil
}

// Update moves doc's entry from oldDoc's key to newDoc's key when the
// indexed fields actually changed; a no-op rebuild otherwise.
func (idx *Index) Update(oldDoc, newDoc *bson.Document, rid RecordID) error {
	oldKey, newKey := idx.keyFor(oldDoc), idx.keyFor(newDoc)
	if oldKey.Compare(newKey) == 0 {
		return nil
	}
	if idx.Unique {
		existing, err := idx.tree.Lookup(newKey)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: index %q", ErrDuplicateKey, idx.Name)
		}
	}
	if err := idx.tree.Remove(oldKey, rid); err != nil {
		return err
	}
	return idx.tree.Insert(newKey, rid)
}

// Lookup returns every RecordID whose key exactly matches values (one
// per indexed field, in declaration order).
func (idx *Index) Lookup(values ...bson.Value) ([]RecordID, error) {
	return idx.tree.Lookup(IndexKey{Values: values})
}

// RangeScan returns every RecordID whose key lies within [min, max].
// Use MinValue/MaxValue to leave either bound open.
func (idx *Index) RangeScan(min, max IndexKey) ([]RecordID, error) {
	return idx.tree.RangeScan(min, max)
}

// All returns every (key, RecordID) pair in sorted order, for full
// index scans. Compaction does not use it; it rebuilds from a data scan.
func (idx *Index) All() ([]struct {
	Key      IndexKey
	RecordID RecordID
}, error) {
	return idx.tree.All()
}

// Package catalog tracks the set of collections and their indexes: the
// per-collection data page chain, the primary _id index, and any
// secondary indexes, persisted as a small document chained from the
// database header.
package catalog

import (
	"fmt"
	"sort"

	"github.com/tinydb-go/tinydb/bson"
	"github.com/tinydb-go/tinydb/index"
	"github.com/tinydb-go/tinydb/storage"
)

// IndexMeta pairs an index's declaration with its tree's current root
// page — the root can move as the tree splits, so it is rewritten
// every time the catalog is persisted.
type IndexMeta struct {
	Definition index.Definition
	RootPageID uint32
}

// CollectionMeta is everything the catalog remembers about one
// collection between opens.
type CollectionMeta struct {
	Name            string
	FirstDataPageID uint32
	LastDataPageID  uint32
	PrimaryIndex    IndexMeta
	Indexes         []IndexMeta
}

// Catalog is the database-wide directory of collections. It persists
// itself as a single chained blob (reusing the large-document chain
// mechanism, since the catalog is just another variable-length byte
// sequence) whose root page id lives in the database header.
type Catalog struct {
	pm          *storage.PageManager
	lds         *storage.LargeDocStore
	collections map[string]*CollectionMeta
}

// Open loads the catalog rooted at the database header's catalog root,
// or returns an empty catalog if none has been created yet.
func Open(pm *storage.PageManager) (*Catalog, error) {
	c := &Catalog{
		pm:          pm,
		lds:         storage.NewLargeDocStore(pm),
		collections: make(map[string]*CollectionMeta),
	}
	root := pm.Header().CatalogRootID
	if root == 0 {
		return c, nil
	}
	raw, err := c.lds.Load(root)
	if err != nil {
		return nil, err
	}
	doc, err := bson.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	for _, name := range doc.Keys() {
		v, _ := doc.Get(name)
		entry, ok := v.(*bson.Document)
		if !ok {
			continue
		}
		meta, err := decodeCollectionMeta(name, entry)
		if err != nil {
			return nil, err
		}
		c.collections[name] = meta
	}
	return c, nil
}

// Names returns every known collection name, sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.collections))
	for name := range c.collections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Get returns a collection's metadata, if it exists.
func (c *Catalog) Get(name string) (*CollectionMeta, bool) {
	m, ok := c.collections[name]
	return m, ok
}

// Put inserts or overwrites a collection's metadata and persists the
// catalog immediately — structural changes (new collection, new
// index, root page moves) are rare enough to afford a synchronous
// rewrite.
func (c *Catalog) Put(meta *CollectionMeta) error {
	c.collections[meta.Name] = meta
	return c.persist()
}

// Drop removes a collection's metadata entry (the caller is
// responsible for freeing its data/index pages first).
func (c *Catalog) Drop(name string) error {
	delete(c.collections, name)
	return c.persist()
}

func (c *Catalog) persist() error {
	doc := bson.NewDocument()
	for _, name := range c.Names() {
		doc.Set(name, encodeCollectionMeta(c.collections[name]))
	}
	raw, err := bson.Encode(doc)
	if err != nil {
		return fmt.Errorf("catalog: encode: %w", err)
	}
	oldRoot := c.pm.Header().CatalogRootID
	newRoot, err := c.lds.Store(raw)
	if err != nil {
		return err
	}
	if err := c.pm.SetCatalogRoot(newRoot); err != nil {
		return err
	}
	if oldRoot != 0 {
		if err := c.lds.Free(oldRoot); err != nil {
			return err
		}
	}
	return nil
}

func encodeIndexMeta(im IndexMeta) *bson.Document {
	d := bson.NewDocument()
	d.Set("name", im.Definition.Name)
	fields := make([]bson.Value, len(im.Definition.Fields))
	for i, f := range im.Definition.Fields {
		fields[i] = f
	}
	d.Set("fields", bson.NewArray(fields...))
	d.Set("unique", im.Definition.Unique)
	d.Set("root", int64(im.RootPageID))
	d.Set("entries", int64(im.Definition.EntryCount))
	return d
}

func decodeIndexMeta(d *bson.Document) (IndexMeta, error) {
	nameV, _ := d.Get("name")
	name, _ := nameV.(string)
	fieldsV, _ := d.Get("fields")
	arr, ok := fieldsV.(*bson.Array)
	if !ok {
		return IndexMeta{}, fmt.Errorf("catalog: index %q has malformed fields", name)
	}
	fields := make([]string, arr.Len())
	for i, v := range arr.Values() {
		s, _ := v.(string)
		fields[i] = s
	}
	uniqueV, _ := d.Get("unique")
	unique, _ := uniqueV.(bool)
	rootV, _ := d.Get("root")
	root, _ := rootV.(int64)
	entriesV, _ := d.Get("entries")
	entries, _ := entriesV.(int64)
	return IndexMeta{
		Definition: index.Definition{Name: name, Fields: fields, Unique: unique, EntryCount: int(entries)},
		RootPageID: uint32(root),
	}, nil
}

func encodeCollectionMeta(m *CollectionMeta) *bson.Document {
	d := bson.NewDocument()
	d.Set("first_page", int64(m.FirstDataPageID))
	d.Set("last_page", int64(m.LastDataPageID))
	d.Set("primary_index", encodeIndexMeta(m.PrimaryIndex))
	idxDocs := make([]bson.Value, len(m.Indexes))
	for i, im := range m.Indexes {
		idxDocs[i] = encodeIndexMeta(im)
	}
	d.Set("indexes", bson.NewArray(idxDocs...))
	return d
}

func decodeCollectionMeta(name string, d *bson.Document) (*CollectionMeta, error) {
	firstV, _ := d.Get("first_page")
	first, _ := firstV.(int64)
	lastV, _ := d.Get("last_page")
	last, _ := lastV.(int64)

	primaryV, _ := d.Get("primary_index")
	primaryDoc, ok := primaryV.(*bson.Document)
	if !ok {
		return nil, fmt.Errorf("catalog: collection %q missing primary index", name)
	}
	primary, err := decodeIndexMeta(primaryDoc)
	if err != nil {
		return nil, err
	}

	idxV, _ := d.Get("indexes")
	var indexes []IndexMeta
	if arr, ok := idxV.(*bson.Array); ok {
		for _, v := range arr.Values() {
			entry, ok := v.(*bson.Document)
			if !ok {
				continue
			}
			im, err := decodeIndexMeta(entry)
			if err != nil {
				return nil, err
			}
			indexes = append(indexes, im)
		}
	}

	return &CollectionMeta{
		Name:            name,
		FirstDataPageID: uint32(first),
		LastDataPageID:  uint32(last),
		PrimaryIndex:    primary,
		Indexes:         indexes,
	}, nil
}

package catalog

import (
	"encoding/binary"
	"errors"
	"iter"

	"github.com/tinydb-go/tinydb/bson"
	"github.com/tinydb-go/tinydb/index"
	"github.com/tinydb-go/tinydb/storage"
	"github.com/tinydb-go/tinydb/telemetry"
)

// ErrNotFound is returned when a RecordID or _id lookup resolves to a
// tombstoned or never-written row.
var ErrNotFound = errors.New("catalog: record not found")

// Row tags (the first byte Append writes for every stored item).
const (
	rowTagInline    = byte(0) // payload is the document's raw BSON encoding
	rowTagLargeRef  = byte(1) // payload is a 4-byte LargeDocIndex page id
	rowTagTombstone = byte(2) // payload is ignored; slot is dead space
)

// Collection is the physical storage for one collection: an
// append-only chain of Data pages holding tagged rows, plus the
// primary _id index and any secondary indexes over it.
type Collection struct {
	pm        *storage.PageManager
	cat       *Catalog
	meta      *CollectionMeta
	lds       *storage.LargeDocStore
	primary   *index.Index
	secondary map[string]*index.Index
	logger    telemetry.Logger
}

// SetLogger replaces the collection's logger (a no-op logger by
// default); scan-time decode failures are logged and skipped, never
// surfaced as query errors.
func (c *Collection) SetLogger(l telemetry.Logger) { c.logger = l }

// Create allocates a new, empty collection: one Data page and a unique
// primary index over _id, registered in the catalog.
func Create(pm *storage.PageManager, cat *Catalog, name string) (*Collection, error) {
	if _, exists := cat.Get(name); exists {
		return nil, errors.New("catalog: collection already exists: " + name)
	}
	page, err := pm.NewPage(storage.PageTypeData)
	if err != nil {
		return nil, err
	}
	if err := pm.SavePage(page, false); err != nil {
		return nil, err
	}
	primaryDef := index.Definition{Name: "_id", Fields: []string{"_id"}, Unique: true}
	primaryTree, err := index.Create(pm, primaryDef)
	if err != nil {
		return nil, err
	}
	meta := &CollectionMeta{
		Name:            name,
		FirstDataPageID: page.PageID(),
		LastDataPageID:  page.PageID(),
		PrimaryIndex:    IndexMeta{Definition: primaryDef, RootPageID: primaryTree.RootPageID()},
	}
	if err := cat.Put(meta); err != nil {
		return nil, err
	}
	return OpenCollection(pm, cat, meta), nil
}

// OpenCollection attaches to an already-registered collection.
func OpenCollection(pm *storage.PageManager, cat *Catalog, meta *CollectionMeta) *Collection {
	c := &Collection{
		pm:        pm,
		cat:       cat,
		meta:      meta,
		lds:       storage.NewLargeDocStore(pm),
		secondary: make(map[string]*index.Index, len(meta.Indexes)),
		logger:    telemetry.NewNop(),
	}
	c.primary = index.Open(pm, meta.PrimaryIndex.Definition, meta.PrimaryIndex.RootPageID)
	for _, im := range meta.Indexes {
		c.secondary[im.Definition.Name] = index.Open(pm, im.Definition, im.RootPageID)
	}
	return c
}

// Meta returns the collection's catalog metadata.
func (c *Collection) Meta() *CollectionMeta { return c.meta }

// EnsureIndex builds (or returns the existing) secondary index over
// def.Fields, backfilling it from every live document already stored.
func (c *Collection) EnsureIndex(def index.Definition) (*index.Index, error) {
	if idx, ok := c.secondary[def.Name]; ok {
		return idx, nil
	}
	idx, err := index.Create(c.pm, def)
	if err != nil {
		return nil, err
	}
	for rid, doc := range c.Scan() {
		if err := idx.Insert(doc, rid); err != nil {
			return nil, err
		}
	}
	c.secondary[def.Name] = idx
	c.meta.Indexes = append(c.meta.Indexes, IndexMeta{Definition: idx.Definition, RootPageID: idx.RootPageID()})
	if err := c.cat.Put(c.meta); err != nil {
		return nil, err
	}
	return idx, nil
}

// Index returns a named secondary index, if one exists.
func (c *Collection) Index(name string) (*index.Index, bool) {
	idx, ok := c.secondary[name]
	return idx, ok
}

// Indexes returns every secondary index, keyed by name.
func (c *Collection) Indexes() map[string]*index.Index { return c.secondary }

// Primary returns the unique _id index.
func (c *Collection) Primary() *index.Index { return c.primary }

// Insert appends doc as a new row and maintains every index.
func (c *Collection) Insert(doc *bson.Document) (index.RecordID, error) {
	rid, err := c.insertRow(doc)
	if err != nil {
		return index.RecordID{}, err
	}
	if err := c.primary.Insert(doc, rid); err != nil {
		_ = c.removeRow(rid)
		return index.RecordID{}, err
	}
	for _, idx := range c.secondary {
		if err := idx.Insert(doc, rid); err != nil {
			return index.RecordID{}, err
		}
	}
	return rid, c.syncIndexRoots()
}

// syncIndexRoots re-persists the catalog entry when a tree split moved
// any index's root page since the last write; without this, a reopen
// would attach to a stale root. Entry counts ride along on the same
// write rather than forcing one per insert.
func (c *Collection) syncIndexRoots() error {
	changed := false
	if c.meta.PrimaryIndex.RootPageID != c.primary.RootPageID() {
		changed = true
	}
	for _, im := range c.meta.Indexes {
		if idx, ok := c.secondary[im.Definition.Name]; ok && im.RootPageID != idx.RootPageID() {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	c.meta.PrimaryIndex.RootPageID = c.primary.RootPageID()
	c.meta.PrimaryIndex.Definition.EntryCount = c.primary.EntryCount
	for i := range c.meta.Indexes {
		if idx, ok := c.secondary[c.meta.Indexes[i].Definition.Name]; ok {
			c.meta.Indexes[i].RootPageID = idx.RootPageID()
			c.meta.Indexes[i].Definition.EntryCount = idx.EntryCount
		}
	}
	return c.cat.Put(c.meta)
}

// Get resolves a RecordID to its document.
func (c *Collection) Get(rid index.RecordID) (*bson.Document, error) {
	page, err := c.pm.GetPage(rid.PageID, true)
	if err != nil {
		return nil, err
	}
	item := page.ReadItemAt(int(rid.Offset))
	return c.decodeRow(item)
}

// FindByID resolves a document by its _id field using the primary
// index.
func (c *Collection) FindByID(id bson.Value) (*bson.Document, index.RecordID, error) {
	rids, err := c.primary.Lookup(id)
	if err != nil {
		return nil, index.RecordID{}, err
	}
	if len(rids) == 0 {
		return nil, index.RecordID{}, ErrNotFound
	}
	doc, err := c.Get(rids[0])
	return doc, rids[0], err
}

// Delete tombstones rid's row, frees any large-document chain it
// referenced, and removes it from every index. doc must be the
// document previously read from rid (indexes key off field values,
// not raw bytes).
func (c *Collection) Delete(rid index.RecordID, doc *bson.Document) error {
	if err := c.removeRow(rid); err != nil {
		return err
	}
	if err := c.primary.Delete(doc, rid); err != nil {
		return err
	}
	for _, idx := range c.secondary {
		if err := idx.Delete(doc, rid); err != nil {
			return err
		}
	}
	return c.syncIndexRoots()
}

// Update replaces oldDoc/oldRid with newDoc, in place when the new
// encoding occupies exactly the old slot (slot walking depends on the
// per-item length prefix, so a smaller image still needs a fresh row),
// else as a fresh append plus a tombstone, rekeying every index either
// way.
func (c *Collection) Update(oldRid index.RecordID, oldDoc, newDoc *bson.Document) (index.RecordID, error) {
	if rid, done, err := c.updateInPlace(oldRid, oldDoc, newDoc); done || err != nil {
		return rid, err
	}
	newRid, err := c.insertRow(newDoc)
	if err != nil {
		return index.RecordID{}, err
	}
	if err := c.removeRow(oldRid); err != nil {
		return index.RecordID{}, err
	}
	if err := c.primary.Delete(oldDoc, oldRid); err != nil {
		return index.RecordID{}, err
	}
	if err := c.primary.Insert(newDoc, newRid); err != nil {
		return index.RecordID{}, err
	}
	for _, idx := range c.secondary {
		if err := idx.Delete(oldDoc, oldRid); err != nil {
			return index.RecordID{}, err
		}
		if err := idx.Insert(newDoc, newRid); err != nil {
			return index.RecordID{}, err
		}
	}
	return newRid, c.syncIndexRoots()
}

// updateInPlace overwrites oldRid's slot when newDoc's inline encoding
// is exactly the stored item's size. done is false when the shapes
// don't allow it and the caller must fall back to append+tombstone.
func (c *Collection) updateInPlace(oldRid index.RecordID, oldDoc, newDoc *bson.Document) (index.RecordID, bool, error) {
	raw, err := bson.Encode(newDoc)
	if err != nil {
		return index.RecordID{}, false, err
	}
	if err := bson.ValidateSize(raw); err != nil {
		return index.RecordID{}, false, err
	}
	if len(raw) > c.lds.Threshold() {
		return index.RecordID{}, false, nil
	}
	page, err := c.pm.GetPage(oldRid.PageID, true)
	if err != nil {
		return index.RecordID{}, false, err
	}
	item := page.ReadItemAt(int(oldRid.Offset))
	if item[0] != rowTagInline || len(item) != 1+len(raw) {
		return index.RecordID{}, false, nil
	}
	content := make([]byte, 1+len(raw))
	content[0] = rowTagInline
	copy(content[1:], raw)
	page.OverwriteItemAt(int(oldRid.Offset), content)
	if err := c.pm.SavePage(page, false); err != nil {
		return index.RecordID{}, false, err
	}
	if err := c.primary.Update(oldDoc, newDoc, oldRid); err != nil {
		return index.RecordID{}, false, err
	}
	for _, idx := range c.secondary {
		if err := idx.Update(oldDoc, newDoc, oldRid); err != nil {
			return index.RecordID{}, false, err
		}
	}
	return oldRid, true, c.syncIndexRoots()
}

// Scan yields every live (RecordID, Document) pair in storage order —
// the full-scan execution strategy's data source.
func (c *Collection) Scan() iter.Seq2[index.RecordID, *bson.Document] {
	return func(yield func(index.RecordID, *bson.Document) bool) {
		pageID := c.meta.FirstDataPageID
		for pageID != 0 {
			page, err := c.pm.GetPage(pageID, true)
			if err != nil {
				return
			}
			used := page.Capacity() - int(page.FreeBytes())
			offset := 0
			for offset < used {
				item := page.ReadItemAt(offset)
				consumed := 4 + len(item)
				if item[0] != rowTagTombstone {
					doc, err := c.decodeRow(item)
					if err != nil {
						c.logger.Warn("skipping undecodable row", map[string]interface{}{
							"collection": c.meta.Name, "page": pageID, "offset": offset, "error": err.Error(),
						})
					} else if !yield(index.RecordID{PageID: pageID, Offset: uint32(offset)}, doc) {
						return
					}
				}
				offset += consumed
			}
			pageID = page.NextPageID()
		}
	}
}

// ScanRaw yields every live row's encoded BSON bytes without
// materializing a Document — the data source for the full-scan
// strategy's byte-level predicate pushdown.
// Large-document rows are resolved to their full encoded form, same as
// Scan, since the span reader needs one contiguous buffer either way.
func (c *Collection) ScanRaw() iter.Seq2[index.RecordID, []byte] {
	return func(yield func(index.RecordID, []byte) bool) {
		pageID := c.meta.FirstDataPageID
		for pageID != 0 {
			page, err := c.pm.GetPage(pageID, true)
			if err != nil {
				return
			}
			used := page.Capacity() - int(page.FreeBytes())
			offset := 0
			for offset < used {
				item := page.ReadItemAt(offset)
				consumed := 4 + len(item)
				if item[0] != rowTagTombstone {
					raw, err := c.rawRow(item)
					if err != nil {
						c.logger.Warn("skipping unreadable row", map[string]interface{}{
							"collection": c.meta.Name, "page": pageID, "offset": offset, "error": err.Error(),
						})
					} else if !yield(index.RecordID{PageID: pageID, Offset: uint32(offset)}, raw) {
						return
					}
				}
				offset += consumed
			}
			pageID = page.NextPageID()
		}
	}
}

func (c *Collection) rawRow(item []byte) ([]byte, error) {
	switch item[0] {
	case rowTagTombstone:
		return nil, ErrNotFound
	case rowTagInline:
		return item[1:], nil
	case rowTagLargeRef:
		idxPageID := binary.LittleEndian.Uint32(item[1:5])
		return c.lds.Load(idxPageID)
	default:
		return nil, errors.New("catalog: unknown row tag")
	}
}

func (c *Collection) insertRow(doc *bson.Document) (index.RecordID, error) {
	raw, err := bson.Encode(doc)
	if err != nil {
		return index.RecordID{}, err
	}
	if err := bson.ValidateSize(raw); err != nil {
		return index.RecordID{}, err
	}

	var content []byte
	if len(raw) <= c.lds.Threshold() {
		content = make([]byte, 1+len(raw))
		content[0] = rowTagInline
		copy(content[1:], raw)
	} else {
		idxPageID, err := c.lds.Store(raw)
		if err != nil {
			return index.RecordID{}, err
		}
		content = make([]byte, 5)
		content[0] = rowTagLargeRef
		binary.LittleEndian.PutUint32(content[1:], idxPageID)
	}
	return c.appendRow(content)
}

func (c *Collection) appendRow(content []byte) (index.RecordID, error) {
	page, err := c.pm.GetPage(c.meta.LastDataPageID, true)
	if err != nil {
		return index.RecordID{}, err
	}
	needed := 4 + len(content)
	if int(page.FreeBytes()) < needed {
		newPage, err := c.pm.NewPage(storage.PageTypeData)
		if err != nil {
			return index.RecordID{}, err
		}
		page.SetNextPageID(newPage.PageID())
		if err := c.pm.SavePage(page, false); err != nil {
			return index.RecordID{}, err
		}
		c.meta.LastDataPageID = newPage.PageID()
		if err := c.cat.Put(c.meta); err != nil {
			return index.RecordID{}, err
		}
		page = newPage
	}
	offset := page.NextAppendOffset()
	if !page.Append(content) {
		return index.RecordID{}, errors.New("catalog: document too large for an empty page")
	}
	if err := c.pm.SavePage(page, false); err != nil {
		return index.RecordID{}, err
	}
	return index.RecordID{PageID: page.PageID(), Offset: uint32(offset)}, nil
}

func (c *Collection) removeRow(rid index.RecordID) error {
	page, err := c.pm.GetPage(rid.PageID, true)
	if err != nil {
		return err
	}
	item := page.ReadItemAt(int(rid.Offset))
	if item[0] == rowTagLargeRef {
		idxPageID := binary.LittleEndian.Uint32(item[1:5])
		if err := c.lds.Free(idxPageID); err != nil {
			return err
		}
	}
	tomb := make([]byte, len(item))
	tomb[0] = rowTagTombstone
	page.OverwriteItemAt(int(rid.Offset), tomb)
	return c.pm.SavePage(page, false)
}

func (c *Collection) decodeRow(item []byte) (*bson.Document, error) {
	switch item[0] {
	case rowTagTombstone:
		return nil, ErrNotFound
	case rowTagInline:
		return bson.Decode(item[1:])
	case rowTagLargeRef:
		idxPageID := binary.LittleEndian.Uint32(item[1:5])
		raw, err := c.lds.Load(idxPageID)
		if err != nil {
			return nil, err
		}
		return bson.Decode(raw)
	default:
		return nil, errors.New("catalog: unknown row tag")
	}
}

// Compact rewrites the collection's data pages, dropping tombstoned
// rows, and rebuilds every index from scratch — the explicit
// CompactCollection operation, an explicit call rather than a
// background job.
func (c *Collection) Compact() error {
	var live []*bson.Document
	for _, doc := range c.Scan() {
		live = append(live, doc)
	}

	newPage, err := c.pm.NewPage(storage.PageTypeData)
	if err != nil {
		return err
	}
	oldFirst, oldLast := c.meta.FirstDataPageID, c.meta.LastDataPageID
	c.meta.FirstDataPageID = newPage.PageID()
	c.meta.LastDataPageID = newPage.PageID()
	if err := c.pm.SavePage(newPage, false); err != nil {
		return err
	}

	newPrimaryDef := c.primary.Definition
	newPrimary, err := index.Create(c.pm, newPrimaryDef)
	if err != nil {
		return err
	}
	newSecondary := make(map[string]*index.Index, len(c.secondary))
	for name, idx := range c.secondary {
		nidx, err := index.Create(c.pm, idx.Definition)
		if err != nil {
			return err
		}
		newSecondary[name] = nidx
	}

	for _, doc := range live {
		rid, err := c.insertRow(doc)
		if err != nil {
			return err
		}
		if err := newPrimary.Insert(doc, rid); err != nil {
			return err
		}
		for _, idx := range newSecondary {
			if err := idx.Insert(doc, rid); err != nil {
				return err
			}
		}
	}

	if err := c.freeChain(oldFirst); err != nil {
		return err
	}
	_ = oldLast

	c.primary = newPrimary
	c.secondary = newSecondary
	c.meta.PrimaryIndex = IndexMeta{Definition: newPrimary.Definition, RootPageID: newPrimary.RootPageID()}
	c.meta.Indexes = c.meta.Indexes[:0]
	for name, idx := range newSecondary {
		c.meta.Indexes = append(c.meta.Indexes, IndexMeta{Definition: idx.Definition, RootPageID: idx.RootPageID()})
		_ = name
	}
	return c.cat.Put(c.meta)
}

func (c *Collection) freeChain(firstPageID uint32) error {
	id := firstPageID
	for id != 0 {
		page, err := c.pm.GetPage(id, true)
		if err != nil {
			return err
		}
		used := page.Capacity() - int(page.FreeBytes())
		offset := 0
		for offset < used {
			item := page.ReadItemAt(offset)
			if item[0] == rowTagLargeRef {
				idxPageID := binary.LittleEndian.Uint32(item[1:5])
				if err := c.lds.Free(idxPageID); err != nil {
					return err
				}
			}
			offset += 4 + len(item)
		}
		next := page.NextPageID()
		if err := c.pm.FreePage(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}

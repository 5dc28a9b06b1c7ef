package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/tinydb-go/tinydb/telemetry"
)

// WriteConcern selects how durable a commit must be before it
// returns.
type WriteConcern int

const (
	WriteConcernNone WriteConcern = iota
	WriteConcernJournaled
	WriteConcernSynced
)

// PageManager owns the page cache, the allocation lock, and
// next_page_id. Pages it returns are shared with callers
// via Pin/Unpin; a pinned page is never evicted.
type PageManager struct {
	allocMu sync.Mutex // serializes free-list updates and page allocation

	disk     *DiskStream
	wal      *WAL // nil when journaling is disabled
	cache    *pageCache
	pageSize uint32
	readOnly bool

	header *DatabaseHeader

	logger  telemetry.Logger
	metrics *telemetry.Metrics
}

// pageOffset computes the byte offset of page_id within the data file.
// Page ids start at 1; page 1 is the database header.
func pageOffset(id uint32, pageSize uint32) int64 {
	return int64(id-1) * int64(pageSize)
}

// OpenPageManager opens an existing database file (loading and
// validating the header) or initializes a new one if the file is
// empty.
func OpenPageManager(disk *DiskStream, wal *WAL, pageSize uint32, cacheSize int, readOnly bool, logger telemetry.Logger, metrics *telemetry.Metrics) (*PageManager, error) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	pm := &PageManager{
		disk:     disk,
		wal:      wal,
		pageSize: pageSize,
		readOnly: readOnly,
		logger:   logger,
		metrics:  metrics,
	}
	pm.cache = newPageCache(cacheSize, pm.flushVictim)

	size, err := disk.Size()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		if err := pm.initHeader(); err != nil {
			return nil, err
		}
	} else {
		if err := pm.loadHeader(); err != nil {
			return nil, err
		}
	}
	return pm, nil
}

func (pm *PageManager) initHeader() error {
	hdrPage := NewPage(1, pm.pageSize, PageTypeHeader)
	pm.header = &DatabaseHeader{
		PageSize:        pm.pageSize,
		TotalPages:      1,
		FirstFreePageID: 0,
		CatalogRootID:   0,
	}
	pm.header.EncodeInto(hdrPage)
	hdrPage.UpdateChecksum(nowTicks())
	if err := pm.disk.SetLength(int64(pm.pageSize)); err != nil {
		return err
	}
	return pm.writePageRaw(hdrPage)
}

func (pm *PageManager) loadHeader() error {
	raw, err := pm.disk.ReadPage(0, int(pm.pageSize))
	if err != nil {
		return err
	}
	hdrPage := &Page{ID: 1, Size: pm.pageSize, Data: raw}
	h, err := DecodeHeader(hdrPage)
	if err != nil {
		return err
	}
	pm.pageSize = h.PageSize
	pm.header = h

	size, err := pm.disk.Size()
	if err != nil {
		return err
	}
	expected := int64(h.TotalPages) * int64(h.PageSize)
	if size != expected {
		return errCorrupted(fmt.Sprintf("file length %d does not match total_pages*page_size %d", size, expected))
	}
	if h.FirstFreePageID == 0 {
		if err := pm.rebuildFreeListIfNeeded(); err != nil {
			return err
		}
	}
	return nil
}

// rebuildFreeListIfNeeded performs a bounded scan over existing pages
// to relink any Empty pages into the free list, in case the header's
// first_free_page_id pointer was lost.
func (pm *PageManager) rebuildFreeListIfNeeded() error {
	var head uint32
	var prev *Page
	for id := uint32(2); id <= pm.header.TotalPages; id++ {
		p, err := pm.GetPage(id, false)
		if err != nil {
			continue
		}
		if p.Type() != PageTypeEmpty {
			continue
		}
		if head == 0 {
			head = id
		}
		if prev != nil {
			prev.SetNextPageID(id)
			prev.UpdateChecksum(nowTicks())
			if err := pm.AppendWAL(prev); err != nil {
				return err
			}
			if err := pm.writePageRaw(prev); err != nil {
				return err
			}
		}
		prev = p
	}
	if prev != nil {
		prev.SetNextPageID(0)
		prev.UpdateChecksum(nowTicks())
		if err := pm.AppendWAL(prev); err != nil {
			return err
		}
		if err := pm.writePageRaw(prev); err != nil {
			return err
		}
	}
	pm.header.FirstFreePageID = head
	return pm.persistHeader()
}

// persistHeader writes the in-memory header to page 1, logging its
// after-image to the WAL first exactly like
// SavePage does for every other page — the header page is no
// exception, since every free-list pointer update flows through here.
func (pm *PageManager) persistHeader() error {
	hdrPage := NewPage(1, pm.pageSize, PageTypeHeader)
	pm.header.EncodeInto(hdrPage)
	hdrPage.UpdateChecksum(nowTicks())
	if err := pm.AppendWAL(hdrPage); err != nil {
		return err
	}
	return pm.writePageRaw(hdrPage)
}

// Header returns the current in-memory database header snapshot.
func (pm *PageManager) Header() DatabaseHeader { return *pm.header }

// SetCatalogRoot persists the collection catalog's root page id.
func (pm *PageManager) SetCatalogRoot(id uint32) error {
	pm.header.CatalogRootID = id
	return pm.persistHeader()
}

// SecurityMetadata returns the opaque salt||hash||flag blob.
func (pm *PageManager) SecurityMetadata() [SecurityMetadataSize]byte {
	return pm.header.Security
}

// SetSecurityMetadata stores the opaque blob returned by the password
// module; the page manager never interprets it.
func (pm *PageManager) SetSecurityMetadata(blob [SecurityMetadataSize]byte) error {
	pm.header.Security = blob
	return pm.persistHeader()
}

// ClearSecurityMetadata zero-fills the security slot.
func (pm *PageManager) ClearSecurityMetadata() error {
	pm.header.Security = [SecurityMetadataSize]byte{}
	return pm.persistHeader()
}

// GetPage fetches a page, optionally bypassing the cache.
func (pm *PageManager) GetPage(id uint32, useCache bool) (*Page, error) {
	if useCache {
		if p, ok := pm.cache.get(id); ok {
			return p, nil
		}
	}
	raw, err := pm.disk.ReadPage(pageOffset(id, pm.pageSize), int(pm.pageSize))
	if err != nil {
		return nil, err
	}
	p := &Page{ID: id, Size: pm.pageSize, Data: raw}
	if !p.VerifyIntegrity() {
		return nil, errCorrupted(fmt.Sprintf("checksum mismatch on page %d", id))
	}
	p.ClearDirty()
	if useCache {
		if err := pm.cache.put(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// GetPageAsync runs GetPage on a goroutine, honoring ctx cancellation.
func (pm *PageManager) GetPageAsync(ctx context.Context, id uint32, useCache bool) <-chan pageResult {
	out := make(chan pageResult, 1)
	worker := make(chan pageResult, 1)
	go func() {
		p, err := pm.GetPage(id, useCache)
		worker <- pageResult{page: p, err: err}
	}()
	go func() {
		select {
		case r := <-worker:
			out <- r
		case <-ctx.Done():
			out <- pageResult{err: ctx.Err()}
		}
	}()
	return out
}

type pageResult struct {
	page *Page
	err  error
}

// NewPage allocates a fresh page of the requested type: pops the
// free-list head if non-empty, else grows the file by one page and
// increments total_pages.
func (pm *PageManager) NewPage(ptype PageType) (*Page, error) {
	if pm.readOnly {
		return nil, ErrReadOnly
	}
	pm.allocMu.Lock()
	defer pm.allocMu.Unlock()

	if pm.header.FirstFreePageID != 0 {
		id := pm.header.FirstFreePageID
		old, err := pm.GetPage(id, false)
		if err != nil {
			return nil, err
		}
		pm.header.FirstFreePageID = old.NextPageID()
		if err := pm.persistHeader(); err != nil {
			return nil, err
		}

		p := NewPage(id, pm.pageSize, ptype)
		p.SetCreatedAtTicks(nowTicks())
		if err := pm.cache.put(p); err != nil {
			return nil, err
		}
		return p, nil
	}

	newID := pm.header.TotalPages + 1
	if err := pm.disk.SetLength(int64(newID) * int64(pm.pageSize)); err != nil {
		return nil, err
	}
	pm.header.TotalPages = newID
	if err := pm.persistHeader(); err != nil {
		return nil, err
	}

	p := NewPage(newID, pm.pageSize, ptype)
	p.SetCreatedAtTicks(nowTicks())
	if err := pm.cache.put(p); err != nil {
		return nil, err
	}
	return p, nil
}

// SavePage marks the page dirty in cache; it is written to disk either
// immediately (forceFlush) or later by FlushDirty/the flush scheduler.
// Every call logs the page's after-image to the WAL first
// (WAL-before-data): the record only needs to exist in the log file
// before the data write, not be fsynced yet — EnsureDurability is what
// turns that into an actual durability guarantee.
func (pm *PageManager) SavePage(p *Page, forceFlush bool) error {
	if pm.readOnly {
		return ErrReadOnly
	}
	p.UpdateChecksum(nowTicks())
	if err := pm.AppendWAL(p); err != nil {
		return err
	}
	if err := pm.cache.put(p); err != nil {
		return err
	}
	if forceFlush {
		return pm.writePageRaw(p)
	}
	return nil
}

// FreePage clears a page's payload, marks it Empty, and prepends it to
// the free list.
func (pm *PageManager) FreePage(id uint32) error {
	if pm.readOnly {
		return ErrReadOnly
	}
	pm.allocMu.Lock()
	defer pm.allocMu.Unlock()

	p, err := pm.GetPage(id, false)
	if err != nil {
		return err
	}
	p.Reset(0)
	p.SetType(PageTypeEmpty)
	p.SetNextPageID(pm.header.FirstFreePageID)
	p.UpdateChecksum(nowTicks())
	if err := pm.AppendWAL(p); err != nil {
		return err
	}
	if err := pm.writePageRaw(p); err != nil {
		return err
	}
	pm.cache.invalidate(id)
	pm.header.FirstFreePageID = id
	return pm.persistHeader()
}

// FlushDirty writes every dirty cached page to the data file.
func (pm *PageManager) FlushDirty() error {
	pm.cache.mu.Lock()
	var dirty []*Page
	for node := pm.cache.head; node != nil; node = node.next {
		if node.page.IsDirty() {
			dirty = append(dirty, node.page)
		}
	}
	pm.cache.mu.Unlock()

	for _, p := range dirty {
		if err := pm.writePageRaw(p); err != nil {
			return err
		}
	}
	if pm.metrics != nil {
		pm.metrics.SetDirtyPages(0)
		pm.metrics.SetCacheHitRatio(pm.cache.hitRate())
	}
	return nil
}

// HasDirty reports whether any cached page still needs flushing.
func (pm *PageManager) HasDirty() bool {
	pm.cache.mu.Lock()
	defer pm.cache.mu.Unlock()
	for node := pm.cache.head; node != nil; node = node.next {
		if node.page.IsDirty() {
			return true
		}
	}
	return false
}

// ClearCache empties the page cache, flushing dirty unpinned pages
// first; pages still pinned are kept regardless (eviction-while-pinned
// is always forbidden).
func (pm *PageManager) ClearCache() error {
	return pm.cache.clear()
}

// RestorePage overwrites the data file at the page's offset with bytes
// and invalidates the cache entry — the WAL replay apply callback.
// Idempotent.
func (pm *PageManager) RestorePage(id uint32, data []byte) error {
	if err := pm.disk.WritePage(pageOffset(id, pm.pageSize), data); err != nil {
		return err
	}
	pm.cache.invalidate(id)
	return nil
}

// AppendWAL snapshots a dirty page into the write-ahead log ahead of
// it being flushed to the data file.
func (pm *PageManager) AppendWAL(p *Page) error {
	if pm.wal == nil {
		return nil
	}
	return pm.wal.Append(p.PageID(), p.Data)
}

// WAL exposes the underlying log for the flush scheduler / txn manager.
func (pm *PageManager) WAL() *WAL { return pm.wal }

// PageSize returns the configured page size.
func (pm *PageManager) PageSize() uint32 { return pm.pageSize }

// CacheStats exposes LRU hit/miss counters for telemetry.
func (pm *PageManager) CacheStats() (hits, misses uint64, size, capacity int) {
	return pm.cache.stats()
}

func (pm *PageManager) writePageRaw(p *Page) error {
	if err := pm.disk.WritePage(pageOffset(p.PageID(), pm.pageSize), p.Data); err != nil {
		return err
	}
	p.ClearDirty()
	return nil
}

// flushVictim is the pageCache's eviction hook: a dirty page about to
// be evicted is written to disk first.
func (pm *PageManager) flushVictim(p *Page) error {
	return pm.writePageRaw(p)
}

// Close flushes dirty pages and closes the disk stream and WAL.
func (pm *PageManager) Close() error {
	if !pm.readOnly {
		if err := pm.FlushDirty(); err != nil {
			return err
		}
	}
	if pm.wal != nil {
		if err := pm.wal.Close(); err != nil {
			return err
		}
	}
	return pm.disk.Close()
}

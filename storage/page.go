// Package storage implements TinyDb's paged single-file format: the
// disk stream, the fixed-size page and its header, the page manager's
// LRU cache, the write-ahead log, the flush scheduler, and large-
// document chaining.
package storage

import (
	"encoding/binary"
	"sync/atomic"
)

// DefaultPageSize is used when Options.PageSize is zero.
const DefaultPageSize = 8192

// PageHeaderSize is the fixed 49-byte header every page carries
//: page_type(1) page_id(4) prev_page_id(4) next_page_id(4)
// free_bytes(2) item_count(2) version(4) checksum(4)
// created_at_ticks(8) modified_at_ticks(8) lsn(8).
const PageHeaderSize = 1 + 4 + 4 + 4 + 2 + 2 + 4 + 4 + 8 + 8 + 8

const (
	hdrOffType       = 0
	hdrOffPageID     = 1
	hdrOffPrevPageID = 5
	hdrOffNextPageID = 9
	hdrOffFreeBytes  = 13
	hdrOffItemCount  = 15
	hdrOffVersion    = 17
	hdrOffChecksum   = 21
	hdrOffCreatedAt  = 25
	hdrOffModifiedAt = 33
	hdrOffLSN        = 41
)

// PageType identifies the role of a page.
type PageType byte

const (
	PageTypeEmpty         PageType = 0
	PageTypeHeader        PageType = 1
	PageTypeCollection    PageType = 2
	PageTypeData          PageType = 3
	PageTypeIndex         PageType = 4
	PageTypeJournal       PageType = 5
	PageTypeLargeDocIndex PageType = 6
	PageTypeLargeDocData  PageType = 7
)

// Page is a fixed-size in-memory buffer with a 49-byte header followed
// by payload. Mutating methods mark it dirty; callers pin/unpin it
// through the PageManager to control cache eviction.
type Page struct {
	ID       uint32
	Size     uint32
	Data     []byte // full page bytes, header included
	dirty    bool
	pinCount int32
}

// NewPage allocates a zeroed page of the given size and type.
func NewPage(id uint32, size uint32, ptype PageType) *Page {
	if size <= uint32(PageHeaderSize) {
		size = DefaultPageSize
	}
	p := &Page{ID: id, Size: size, Data: make([]byte, size)}
	p.Data[hdrOffType] = byte(ptype)
	binary.LittleEndian.PutUint32(p.Data[hdrOffPageID:], id)
	p.SetFreeBytes(uint16(int(size) - PageHeaderSize))
	p.dirty = true
	return p
}

func (p *Page) Type() PageType { return PageType(p.Data[hdrOffType]) }
func (p *Page) SetType(t PageType) {
	p.Data[hdrOffType] = byte(t)
	p.dirty = true
}

func (p *Page) PageID() uint32 { return binary.LittleEndian.Uint32(p.Data[hdrOffPageID:]) }

func (p *Page) PrevPageID() uint32 { return binary.LittleEndian.Uint32(p.Data[hdrOffPrevPageID:]) }
func (p *Page) SetPrevPageID(id uint32) {
	binary.LittleEndian.PutUint32(p.Data[hdrOffPrevPageID:], id)
	p.dirty = true
}

func (p *Page) NextPageID() uint32 { return binary.LittleEndian.Uint32(p.Data[hdrOffNextPageID:]) }
func (p *Page) SetNextPageID(id uint32) {
	binary.LittleEndian.PutUint32(p.Data[hdrOffNextPageID:], id)
	p.dirty = true
}

func (p *Page) FreeBytes() uint16 { return binary.LittleEndian.Uint16(p.Data[hdrOffFreeBytes:]) }
func (p *Page) SetFreeBytes(n uint16) {
	binary.LittleEndian.PutUint16(p.Data[hdrOffFreeBytes:], n)
}

func (p *Page) ItemCount() uint16 { return binary.LittleEndian.Uint16(p.Data[hdrOffItemCount:]) }
func (p *Page) SetItemCount(n uint16) {
	binary.LittleEndian.PutUint16(p.Data[hdrOffItemCount:], n)
}

func (p *Page) Version() uint32 { return binary.LittleEndian.Uint32(p.Data[hdrOffVersion:]) }
func (p *Page) SetVersion(v uint32) {
	binary.LittleEndian.PutUint32(p.Data[hdrOffVersion:], v)
}

func (p *Page) Checksum() uint32 { return binary.LittleEndian.Uint32(p.Data[hdrOffChecksum:]) }

func (p *Page) CreatedAtTicks() int64 {
	return int64(binary.LittleEndian.Uint64(p.Data[hdrOffCreatedAt:]))
}
func (p *Page) SetCreatedAtTicks(t int64) {
	binary.LittleEndian.PutUint64(p.Data[hdrOffCreatedAt:], uint64(t))
}

func (p *Page) ModifiedAtTicks() int64 {
	return int64(binary.LittleEndian.Uint64(p.Data[hdrOffModifiedAt:]))
}
func (p *Page) touchModified(t int64) {
	binary.LittleEndian.PutUint64(p.Data[hdrOffModifiedAt:], uint64(t))
}

func (p *Page) LSN() uint64 { return binary.LittleEndian.Uint64(p.Data[hdrOffLSN:]) }

// SetLSN enforces the monotonic-non-decreasing-per-page invariant;
// a caller attempting to regress the LSN is a bug, so this
// simply clamps rather than erroring — pages are never handed a lower
// LSN by correctly-sequenced code paths.
func (p *Page) SetLSN(lsn uint64) {
	if lsn < p.LSN() {
		lsn = p.LSN()
	}
	binary.LittleEndian.PutUint64(p.Data[hdrOffLSN:], lsn)
	p.dirty = true
}

// Payload returns the mutable region after the header.
func (p *Page) Payload() []byte { return p.Data[PageHeaderSize:] }

// Capacity is the payload's total usable size.
func (p *Page) Capacity() int { return len(p.Data) - PageHeaderSize }

// IsDirty reports whether the page has unflushed changes.
func (p *Page) IsDirty() bool { return p.dirty }

// ClearDirty marks the page clean (called by the page manager after a
// successful flush).
func (p *Page) ClearDirty() { p.dirty = false }

// Pin/Unpin implement the reference-count protocol; eviction is
// forbidden while PinCount() > 0. pin_count never goes
// negative.
func (p *Page) Pin() { atomic.AddInt32(&p.pinCount, 1) }
func (p *Page) Unpin() {
	for {
		n := atomic.LoadInt32(&p.pinCount)
		if n <= 0 {
			return
		}
		if atomic.CompareAndSwapInt32(&p.pinCount, n, n-1) {
			return
		}
	}
}
func (p *Page) PinCount() int32 { return atomic.LoadInt32(&p.pinCount) }

// Reset zeroes the payload and leaves `reserved` bytes pre-claimed at
// the front (used when re-purposing a freed page).
func (p *Page) Reset(reserved int) {
	payload := p.Payload()
	for i := range payload {
		payload[i] = 0
	}
	p.SetItemCount(0)
	p.SetFreeBytes(uint16(p.Capacity() - reserved))
	p.dirty = true
}

// SetContent replaces the payload with a single item: a 4-byte
// little-endian length prefix followed by content.
func (p *Page) SetContent(content []byte) bool {
	if 4+len(content) > p.Capacity() {
		return false
	}
	payload := p.Payload()
	binary.LittleEndian.PutUint32(payload[0:4], uint32(len(content)))
	copy(payload[4:], content)
	p.SetItemCount(1)
	p.SetFreeBytes(uint16(p.Capacity() - 4 - len(content)))
	p.dirty = true
	return true
}

// Append writes a 4-byte length-prefixed item into the first free slot
// of the payload, tracked by FreeBytes/ItemCount. Fails when
// FreeBytes() < 4 + len(content).
func (p *Page) Append(content []byte) bool {
	needed := 4 + len(content)
	if int(p.FreeBytes()) < needed {
		return false
	}
	offset := p.Capacity() - int(p.FreeBytes())
	payload := p.Payload()
	binary.LittleEndian.PutUint32(payload[offset:], uint32(len(content)))
	copy(payload[offset+4:], content)
	p.SetFreeBytes(p.FreeBytes() - uint16(needed))
	p.SetItemCount(p.ItemCount() + 1)
	p.dirty = true
	return true
}

// NextAppendOffset returns the payload offset the next Append call
// will write to — callers that need to record a pointer to an
// about-to-be-appended item (e.g. a RecordID) read this first.
func (p *Page) NextAppendOffset() int { return p.Capacity() - int(p.FreeBytes()) }

// ReadBytes returns a copy of `length` payload bytes starting at offset.
func (p *Page) ReadBytes(offset, length int) []byte {
	out := make([]byte, length)
	copy(out, p.Payload()[offset:offset+length])
	return out
}

// ReadItemAt returns a length-prefixed item previously written by
// Append or SetContent at the given payload offset.
func (p *Page) ReadItemAt(offset int) []byte {
	payload := p.Payload()
	length := binary.LittleEndian.Uint32(payload[offset:])
	return p.ReadBytes(offset+4, int(length))
}

// OverwriteItemAt replaces the content of a length-prefixed item
// in place; content must be the same length as the original (used to
// flip a row's tag byte when tombstoning, not to resize it).
func (p *Page) OverwriteItemAt(offset int, content []byte) {
	payload := p.Payload()
	length := binary.LittleEndian.Uint32(payload[offset:])
	if int(length) != len(content) {
		panic("storage: OverwriteItemAt content length mismatch")
	}
	copy(payload[offset+4:], content)
	p.dirty = true
}

// WriteData writes raw bytes into the payload at offset.
func (p *Page) WriteData(offset int, data []byte) {
	copy(p.Payload()[offset:], data)
	p.dirty = true
}

// UpdateChecksum zeroes the checksum field, computes the additive
// checksum over the whole page, and writes it back.
func (p *Page) UpdateChecksum(nowTicks int64) {
	binary.LittleEndian.PutUint32(p.Data[hdrOffChecksum:], 0)
	p.touchModified(nowTicks)
	sum := computeChecksum(p.Data)
	binary.LittleEndian.PutUint32(p.Data[hdrOffChecksum:], sum)
}

// VerifyIntegrity checks header sanity plus the additive checksum.
func (p *Page) VerifyIntegrity() bool {
	if p.PageID() == 0 && p.Type() != PageTypeEmpty {
		// page_id >= 1 for any live page; page 0 is
		// never addressed by this format (the header lives at page 1).
		return false
	}
	if int(p.FreeBytes()) > p.Capacity() {
		return false
	}
	stored := p.Checksum()
	clone := make([]byte, len(p.Data))
	copy(clone, p.Data)
	binary.LittleEndian.PutUint32(clone[hdrOffChecksum:], 0)
	return computeChecksum(clone) == stored
}

// computeChecksum is an additive sum over the page with the checksum
// field excluded.
func computeChecksum(data []byte) uint32 {
	var sum uint32
	for i, b := range data {
		if i >= hdrOffChecksum && i < hdrOffChecksum+4 {
			continue
		}
		sum += uint32(b)
	}
	return sum
}

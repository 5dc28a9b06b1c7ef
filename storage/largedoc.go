package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/s2"
)

// Large documents (encoded forms too big to fit a single page's
// payload) are stored out of line: one LargeDocIndex page followed by
// a chain of LargeDocData pages. Each collection row then
// stores only the index page id in place of the inline document.
//
// Index-page payload: sentinel(i32)=-1,
// total_len(i32), page_count(i32), first_data_page(u32). TinyDb layers
// s2 compression over the chained bytes to shrink large documents on
// disk; the four leading fields describe whatever is actually chained
// (here, the compressed form), so the pre-compression length is
// appended as a fifth field immediately after first_data_page.
//
// Data-page payload: page_number(i32),
// next_page_id(u32), then a chunk. The chunk is written the same
// length-prefixed way every other payload item in this package is
// written (Page.Append, Page.SetContent): a 4-byte chunk length
// followed by the chunk bytes — hence the capacity formula's "-8-4"
// (8 for page_number+next_page_id, 4 for the chunk's length prefix).
const (
	ldIndexOffSentinel      = 0
	ldIndexOffTotalLen      = 4
	ldIndexOffPageCount     = 8
	ldIndexOffFirstDataPage = 12
	ldIndexOffOriginalLen   = 16
	ldIndexHeaderSize       = 20

	ldSentinel = -1

	ldDataOffPageNumber = 0
	ldDataOffNextPageID = 4
	ldDataOffChunkLen   = 8
	ldDataOffChunkStart = 12
)

// LargeDocStore chains pages for documents that don't fit inline.
type LargeDocStore struct {
	pm *PageManager
}

// NewLargeDocStore wraps pm.
func NewLargeDocStore(pm *PageManager) *LargeDocStore {
	return &LargeDocStore{pm: pm}
}

// Threshold returns the largest encoded document size that still fits
// inline in a single page's payload, given the configured page size.
func (s *LargeDocStore) Threshold() int {
	return int(s.pm.PageSize()) - PageHeaderSize - 4
}

// Store compresses raw (an encoded BSON document) and writes it across
// a LargeDocIndex page plus a chain of LargeDocData pages, returning
// the index page's id for the collection row to reference.
func (s *LargeDocStore) Store(raw []byte) (uint32, error) {
	compressed := s2.Encode(nil, raw)

	idxPage, err := s.pm.NewPage(PageTypeLargeDocIndex)
	if err != nil {
		return 0, err
	}

	chunkCap := s.chunkCapacity()
	var firstDataID uint32
	var prev *Page
	pageNumber := 0

	for off := 0; off < len(compressed); off += chunkCap {
		end := off + chunkCap
		if end > len(compressed) {
			end = len(compressed)
		}
		dataPage, err := s.pm.NewPage(PageTypeLargeDocData)
		if err != nil {
			return 0, err
		}
		if err := writeDataPage(dataPage, pageNumber, compressed[off:end]); err != nil {
			return 0, err
		}
		if prev == nil {
			firstDataID = dataPage.PageID()
		} else {
			setDataNextPageID(prev, dataPage.PageID())
			if err := s.pm.SavePage(prev, false); err != nil {
				return 0, err
			}
		}
		if err := s.pm.SavePage(dataPage, false); err != nil {
			return 0, err
		}
		prev = dataPage
		pageNumber++
	}
	if prev != nil {
		setDataNextPageID(prev, 0)
		if err := s.pm.SavePage(prev, false); err != nil {
			return 0, err
		}
	}

	payload := idxPage.Payload()
	sentinelVal := int32(ldSentinel)
	binary.LittleEndian.PutUint32(payload[ldIndexOffSentinel:], uint32(sentinelVal))
	binary.LittleEndian.PutUint32(payload[ldIndexOffTotalLen:], uint32(len(compressed)))
	binary.LittleEndian.PutUint32(payload[ldIndexOffPageCount:], uint32(pageNumber))
	binary.LittleEndian.PutUint32(payload[ldIndexOffFirstDataPage:], firstDataID)
	binary.LittleEndian.PutUint32(payload[ldIndexOffOriginalLen:], uint32(len(raw)))
	if err := s.pm.SavePage(idxPage, false); err != nil {
		return 0, err
	}
	return idxPage.PageID(), nil
}

// writeDataPage stores page_number, an initial next_page_id of 0, and
// chunk as a length-prefixed item.
func writeDataPage(p *Page, pageNumber int, chunk []byte) error {
	payload := p.Payload()
	if ldDataOffChunkStart+len(chunk) > len(payload) {
		return fmt.Errorf("storage: large document chunk exceeds page capacity")
	}
	binary.LittleEndian.PutUint32(payload[ldDataOffPageNumber:], uint32(pageNumber))
	binary.LittleEndian.PutUint32(payload[ldDataOffNextPageID:], 0)
	binary.LittleEndian.PutUint32(payload[ldDataOffChunkLen:], uint32(len(chunk)))
	copy(payload[ldDataOffChunkStart:], chunk)
	p.dirty = true
	return nil
}

func setDataNextPageID(p *Page, next uint32) {
	binary.LittleEndian.PutUint32(p.Payload()[ldDataOffNextPageID:], next)
	p.dirty = true
}

func dataPageNumber(p *Page) int {
	return int(binary.LittleEndian.Uint32(p.Payload()[ldDataOffPageNumber:]))
}

func dataNextPageID(p *Page) uint32 {
	return binary.LittleEndian.Uint32(p.Payload()[ldDataOffNextPageID:])
}

func dataChunk(p *Page) []byte {
	payload := p.Payload()
	length := binary.LittleEndian.Uint32(payload[ldDataOffChunkLen:])
	return payload[ldDataOffChunkStart : ldDataOffChunkStart+length]
}

// Load walks the chain rooted at indexPageID and returns the original
// (decompressed) document bytes.
func (s *LargeDocStore) Load(indexPageID uint32) ([]byte, error) {
	idxPage, err := s.pm.GetPage(indexPageID, true)
	if err != nil {
		return nil, err
	}
	payload := idxPage.Payload()
	sentinel := int32(binary.LittleEndian.Uint32(payload[ldIndexOffSentinel:]))
	if sentinel != ldSentinel {
		return nil, errCorrupted(fmt.Sprintf("large document %d: bad sentinel %d", indexPageID, sentinel))
	}
	totalLen := binary.LittleEndian.Uint32(payload[ldIndexOffTotalLen:])
	pageCount := binary.LittleEndian.Uint32(payload[ldIndexOffPageCount:])
	firstDataID := binary.LittleEndian.Uint32(payload[ldIndexOffFirstDataPage:])
	originalLen := binary.LittleEndian.Uint32(payload[ldIndexOffOriginalLen:])

	compressed := make([]byte, 0, totalLen)
	var n uint32
	for id := firstDataID; id != 0; n++ {
		p, err := s.pm.GetPage(id, true)
		if err != nil {
			return nil, err
		}
		if uint32(dataPageNumber(p)) != n {
			return nil, errCorrupted(fmt.Sprintf("large document %d: page_number %d at chain position %d", indexPageID, dataPageNumber(p), n))
		}
		compressed = append(compressed, dataChunk(p)...)
		id = dataNextPageID(p)
	}
	if n != pageCount {
		return nil, errCorrupted(fmt.Sprintf("large document %d: expected %d chained pages, found %d", indexPageID, pageCount, n))
	}
	if uint32(len(compressed)) != totalLen {
		return nil, errCorrupted(fmt.Sprintf("large document %d: expected %d chained bytes, chain held %d", indexPageID, totalLen, len(compressed)))
	}

	raw := make([]byte, originalLen)
	if _, err := s2.Decode(raw, compressed); err != nil {
		return nil, errCorrupted(fmt.Sprintf("large document %d: %s", indexPageID, err))
	}
	return raw, nil
}

// Free releases the index page and every data page in its chain back
// to the free list.
func (s *LargeDocStore) Free(indexPageID uint32) error {
	idxPage, err := s.pm.GetPage(indexPageID, true)
	if err != nil {
		return err
	}
	payload := idxPage.Payload()
	firstDataID := binary.LittleEndian.Uint32(payload[ldIndexOffFirstDataPage:])

	for id := firstDataID; id != 0; {
		p, err := s.pm.GetPage(id, true)
		if err != nil {
			return err
		}
		next := dataNextPageID(p)
		if err := s.pm.FreePage(id); err != nil {
			return err
		}
		id = next
	}
	return s.pm.FreePage(indexPageID)
}

func (s *LargeDocStore) chunkCapacity() int {
	return int(s.pm.PageSize()) - PageHeaderSize - 8 - 4
}

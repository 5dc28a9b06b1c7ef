package storage

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestLargeDocStoreRoundTripAcrossMultiplePages(t *testing.T) {
	pm := newTestPageManager(t)
	lds := NewLargeDocStore(pm)

	// Several times the chunk capacity, so the chain spans multiple
	// LargeDocData pages.
	// Random bytes, so s2 cannot shrink the payload below that size.
	payload := make([]byte, lds.chunkCapacity()*4)
	rand.New(rand.NewSource(1)).Read(payload)

	idxPageID, err := lds.Store(payload)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	loaded, err := lds.Load(idxPageID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(loaded, payload) {
		t.Fatalf("round-tripped bytes do not match: got %d bytes, want %d", len(loaded), len(payload))
	}
}

func TestLargeDocStoreFreeReleasesEntireChain(t *testing.T) {
	pm := newTestPageManager(t)
	lds := NewLargeDocStore(pm)
	payload := bytes.Repeat([]byte("z"), lds.chunkCapacity()*3)

	idxPageID, err := lds.Store(payload)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := lds.Free(idxPageID); err != nil {
		t.Fatalf("Free: %v", err)
	}

	// The freed index page (and its whole data chain) must be back on
	// the free list and reusable by a later allocation.
	reused, err := pm.NewPage(PageTypeData)
	if err != nil {
		t.Fatalf("NewPage after free: %v", err)
	}
	if reused.PageID() != idxPageID {
		t.Fatalf("expected the freed index page %d to be reused first, got %d", idxPageID, reused.PageID())
	}
}

func TestLargeDocStoreThresholdMatchesPageCapacity(t *testing.T) {
	pm := newTestPageManager(t)
	lds := NewLargeDocStore(pm)
	want := int(pm.PageSize()) - PageHeaderSize - 4
	if lds.Threshold() != want {
		t.Fatalf("expected threshold %d, got %d", want, lds.Threshold())
	}
}

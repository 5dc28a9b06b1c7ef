package storage

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestDiskStreamWriteThenReadRoundTrip(t *testing.T) {
	ds := OpenDiskStream(NewMemFile())
	payload := []byte("hello disk stream")
	if err := ds.WritePage(100, payload); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	got, err := ds.ReadPage(100, len(payload))
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("expected %q, got %q", payload, got)
	}
}

func TestDiskStreamReadBeyondEOFZeroFills(t *testing.T) {
	ds := OpenDiskStream(NewMemFile())
	if err := ds.WritePage(0, []byte("abc")); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	got, err := ds.ReadPage(0, 10)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(got[:3], []byte("abc")) {
		t.Fatalf("expected leading bytes 'abc', got %q", got[:3])
	}
	for i, b := range got[3:] {
		if b != 0 {
			t.Fatalf("expected zero-fill past EOF at index %d, got %d", i+3, b)
		}
	}
}

func TestDiskStreamSetLengthAndSize(t *testing.T) {
	ds := OpenDiskStream(NewMemFile())
	if err := ds.SetLength(4096); err != nil {
		t.Fatalf("SetLength: %v", err)
	}
	size, err := ds.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 4096 {
		t.Fatalf("expected size 4096, got %d", size)
	}
}

func TestDiskStreamReadPageAsyncHonorsCancellation(t *testing.T) {
	ds := OpenDiskStream(NewMemFile())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The worker and the already-cancelled context are both ready
	// immediately, so only promptness is guaranteed, not which side
	// of watchCtx's select wins.
	select {
	case <-ds.ReadPageAsync(ctx, 0, 16):
	case <-time.After(time.Second):
		t.Fatalf("expected ReadPageAsync to return promptly after cancellation")
	}
}

func TestDiskStreamWritePageAsyncSucceeds(t *testing.T) {
	ds := OpenDiskStream(NewMemFile())
	res := <-ds.WritePageAsync(context.Background(), 0, []byte("async"))
	if res.err != nil {
		t.Fatalf("WritePageAsync: %v", res.err)
	}
	got, err := ds.ReadPage(0, 5)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if string(got) != "async" {
		t.Fatalf("expected 'async', got %q", got)
	}
}

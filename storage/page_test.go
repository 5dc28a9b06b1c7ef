package storage

import "testing"

func TestPageAppendAndReadItem(t *testing.T) {
	p := NewPage(1, DefaultPageSize, PageTypeData)
	off := p.NextAppendOffset()
	if !p.Append([]byte("hello")) {
		t.Fatal("expected append to succeed")
	}
	got := p.ReadItemAt(off)
	if string(got) != "hello" {
		t.Errorf("expected hello, got %q", got)
	}
	if p.ItemCount() != 1 {
		t.Errorf("expected item count 1, got %d", p.ItemCount())
	}
}

func TestPageAppendFailsWhenFull(t *testing.T) {
	p := NewPage(1, uint32(PageHeaderSize+8), PageTypeData)
	if !p.Append([]byte("ab")) {
		t.Fatal("expected first small append to fit")
	}
	if p.Append([]byte("this is way too long to fit")) {
		t.Error("expected oversized append to fail")
	}
}

func TestPageOverwriteItemRequiresSameLength(t *testing.T) {
	p := NewPage(1, DefaultPageSize, PageTypeData)
	off := p.NextAppendOffset()
	p.Append([]byte("abc"))

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on length mismatch")
		}
	}()
	p.OverwriteItemAt(off, []byte("ab"))
}

func TestPageOverwriteItemSameLength(t *testing.T) {
	p := NewPage(1, DefaultPageSize, PageTypeData)
	off := p.NextAppendOffset()
	p.Append([]byte("abc"))
	p.OverwriteItemAt(off, []byte("xyz"))
	if got := p.ReadItemAt(off); string(got) != "xyz" {
		t.Errorf("expected xyz, got %q", got)
	}
}

func TestPageChecksumDetectsCorruption(t *testing.T) {
	p := NewPage(1, DefaultPageSize, PageTypeData)
	p.Append([]byte("payload"))
	p.UpdateChecksum(0)
	if !p.VerifyIntegrity() {
		t.Fatal("expected freshly checksummed page to verify")
	}
	p.Data[PageHeaderSize] ^= 0xFF
	if p.VerifyIntegrity() {
		t.Error("expected corrupted payload to fail integrity check")
	}
}

func TestPagePinPreventsZeroFloor(t *testing.T) {
	p := NewPage(1, DefaultPageSize, PageTypeData)
	if p.PinCount() != 0 {
		t.Fatalf("expected fresh page unpinned, got %d", p.PinCount())
	}
	p.Unpin() // must not go negative
	if p.PinCount() != 0 {
		t.Errorf("expected pin count to floor at 0, got %d", p.PinCount())
	}
	p.Pin()
	p.Pin()
	if p.PinCount() != 2 {
		t.Fatalf("expected pin count 2, got %d", p.PinCount())
	}
	p.Unpin()
	if p.PinCount() != 1 {
		t.Errorf("expected pin count 1 after one unpin, got %d", p.PinCount())
	}
}

func TestPageSetLSNNeverRegresses(t *testing.T) {
	p := NewPage(1, DefaultPageSize, PageTypeData)
	p.SetLSN(10)
	p.SetLSN(3)
	if p.LSN() != 10 {
		t.Errorf("expected LSN to stay at 10, got %d", p.LSN())
	}
	p.SetLSN(20)
	if p.LSN() != 20 {
		t.Errorf("expected LSN to advance to 20, got %d", p.LSN())
	}
}

func TestPageResetClearsPayload(t *testing.T) {
	p := NewPage(1, DefaultPageSize, PageTypeData)
	p.Append([]byte("data"))
	p.Reset(0)
	if p.ItemCount() != 0 {
		t.Errorf("expected item count 0 after reset, got %d", p.ItemCount())
	}
	if int(p.FreeBytes()) != p.Capacity() {
		t.Errorf("expected full capacity free after reset, got %d of %d", p.FreeBytes(), p.Capacity())
	}
}

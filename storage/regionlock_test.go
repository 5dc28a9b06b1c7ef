package storage

import (
	"sync"
	"testing"
	"time"
)

func TestRegionLockAllowsNonOverlappingRegions(t *testing.T) {
	rl := NewRegionLock()
	done := make(chan struct{})
	h1 := rl.LockRegion(0, 10)
	go func() {
		h2 := rl.LockRegion(10, 10) // [10,20) doesn't overlap [0,10)
		rl.UnlockRegion(h2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected non-overlapping region to lock without blocking")
	}
	rl.UnlockRegion(h1)
}

func TestRegionLockBlocksOverlappingRegionUntilReleased(t *testing.T) {
	rl := NewRegionLock()
	h1 := rl.LockRegion(0, 10)

	acquired := make(chan RegionHandle)
	go func() {
		acquired <- rl.LockRegion(5, 10) // [5,15) overlaps [0,10)
	}()

	select {
	case <-acquired:
		t.Fatalf("expected overlapping region to block while the first is held")
	case <-time.After(50 * time.Millisecond):
	}

	rl.UnlockRegion(h1)
	select {
	case h2 := <-acquired:
		rl.UnlockRegion(h2)
	case <-time.After(time.Second):
		t.Fatalf("expected overlapping region to acquire after release")
	}
}

func TestRegionLockManyDisjointRegionsDoNotSerialize(t *testing.T) {
	rl := NewRegionLock()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int64) {
			defer wg.Done()
			h := rl.LockRegion(i*100, 100)
			rl.UnlockRegion(h)
		}(int64(i))
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected disjoint region locks to all complete promptly")
	}
}

package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// File abstracts the underlying storage target so the disk stream can
// sit on a real *os.File or, for ephemeral/test engines, MemFile.
type File interface {
	ReadAt(b []byte, off int64) (int, error)
	WriteAt(b []byte, off int64) (int, error)
	Sync() error
	Close() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
}

// DiskStream serializes all positional I/O on a single file through
// an internal mutex, so a seek+read or seek+write pair is atomic per
// call, and exposes process-internal region locking.
type DiskStream struct {
	mu     sync.Mutex
	file   File
	region *RegionLock
}

// OpenDiskStream wraps an already-open File.
func OpenDiskStream(f File) *DiskStream {
	return &DiskStream{file: f, region: NewRegionLock()}
}

// ReadPage reads length bytes at offset.
func (d *DiskStream) ReadPage(offset int64, length int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, length)
	n, err := d.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("storage: read at %d: %w", offset, err)
	}
	if n < length {
		// short read beyond current EOF; caller treats the rest as
		// zero-filled (used when growing the file for a fresh page).
		for i := n; i < length; i++ {
			buf[i] = 0
		}
	}
	return buf, nil
}

// WritePage writes bytes at offset.
func (d *DiskStream) WritePage(offset int64, bytes []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.file.WriteAt(bytes, offset); err != nil {
		return fmt.Errorf("storage: write at %d: %w", offset, err)
	}
	return nil
}

// Flush fsyncs the file when requested.
func (d *DiskStream) Flush(fsync bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !fsync {
		return nil
	}
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	return nil
}

// SetLength extends or truncates the underlying file.
func (d *DiskStream) SetLength(n int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.file.Truncate(n); err != nil {
		return fmt.Errorf("storage: set length %d: %w", n, err)
	}
	return nil
}

// Size returns the current file length.
func (d *DiskStream) Size() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, err := d.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close closes the underlying file.
func (d *DiskStream) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}

// LockRegion/UnlockRegion delegate to the process-internal RegionLock.
func (d *DiskStream) LockRegion(offset, length int64) RegionHandle {
	return d.region.LockRegion(offset, length)
}
func (d *DiskStream) UnlockRegion(h RegionHandle) { d.region.UnlockRegion(h) }

// asyncResult is the payload of an async read/write/flush.
type asyncResult struct {
	data []byte
	err  error
}

// ReadPageAsync performs ReadPage on a goroutine, honoring ctx
// cancellation. Disk I/O itself is not interruptible mid-syscall;
// cancellation only stops the caller from waiting on it.
func (d *DiskStream) ReadPageAsync(ctx context.Context, offset int64, length int) <-chan asyncResult {
	out := make(chan asyncResult, 1)
	go func() {
		data, err := d.ReadPage(offset, length)
		out <- asyncResult{data: data, err: err}
	}()
	return watchCtx(ctx, out)
}

// WritePageAsync performs WritePage on a goroutine.
func (d *DiskStream) WritePageAsync(ctx context.Context, offset int64, bytes []byte) <-chan asyncResult {
	out := make(chan asyncResult, 1)
	go func() {
		err := d.WritePage(offset, bytes)
		out <- asyncResult{err: err}
	}()
	return watchCtx(ctx, out)
}

// watchCtx returns a channel that forwards the worker's result, or an
// earlier context.Canceled/DeadlineExceeded error if ctx fires first.
// The worker goroutine is never killed mid-flight; a late result is
// simply dropped by the buffered channel.
func watchCtx(ctx context.Context, worker <-chan asyncResult) <-chan asyncResult {
	out := make(chan asyncResult, 1)
	go func() {
		select {
		case r := <-worker:
			out <- r
		case <-ctx.Done():
			out <- asyncResult{err: ctx.Err()}
		}
	}()
	return out
}

// nowTicks returns the current time as .NET-style 100ns ticks since
// the Unix epoch, matching the created_at/modified_at page header
// fields' unit; the format only needs every writer to agree on it.
func nowTicks() int64 {
	return time.Now().UnixNano() / 100
}

package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// WALRecordType tags a WAL entry. PagePut is the only record type: a
// full page image snapshotted before the page is flushed to the data
// file.
type WALRecordType byte

const WALPagePut WALRecordType = 1

// walRecordHeaderSize is type(1) + page_id(4) + length(4) + crc32(4).
const walRecordHeaderSize = 1 + 4 + 4 + 4

// WALRecord is one page-image entry in the write-ahead log.
type WALRecord struct {
	Type   WALRecordType
	PageID uint32
	Data   []byte
}

// WAL is the append-only, CRC-protected record log backing durability.
// The file is a bare concatenation of records with no global header.
type WAL struct {
	mu   sync.Mutex
	file File
	path string
}

// OpenWAL wraps the already-open WAL file f; path (already resolved by
// the caller through Options.WALNameFormat) is kept for reference.
func OpenWAL(path string, f File) (*WAL, error) {
	return &WAL{file: f, path: path}, nil
}

// Append writes one page-put record at the end of the log. Does not
// fsync; callers batch fsyncs through FlushScheduler.
func (w *WAL) Append(pageID uint32, pageImage []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("wal: stat: %w", err)
	}
	offset := info.Size()

	buf := make([]byte, walRecordHeaderSize+len(pageImage))
	buf[0] = byte(WALPagePut)
	binary.LittleEndian.PutUint32(buf[1:5], pageID)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(len(pageImage)))
	copy(buf[walRecordHeaderSize:], pageImage)
	crc := crc32.ChecksumIEEE(buf[0 : walRecordHeaderSize-4])
	crc = crc32.Update(crc, crc32.IEEETable, pageImage)
	binary.LittleEndian.PutUint32(buf[9:13], crc)

	if _, err := w.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("wal: append at %d: %w", offset, err)
	}
	return nil
}

// Sync fsyncs the WAL file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return nil
}

// Truncate empties the WAL (called only after the data file is
// durable; truncate-after-sync is the recovery contract).
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	return w.file.Sync()
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Delete removes the WAL file entirely (used when enable_journaling
// is false at startup).
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// ReplayResult reports what recovery found.
type ReplayResult struct {
	RecordsApplied int
	BytesValid     int64 // offset to which the WAL is well-formed; truncate here
}

// Replay scans the WAL from offset 0, applying each well-formed
// PagePut record via apply(pageID, data), and stops at the first bad
// type byte, bad length, incomplete tail, or CRC mismatch — reporting
// in BytesValid the end of the last good record, for the caller to
// truncate to. apply must be
// idempotent; it is expected to call PageManager.RestorePage.
func Replay(f File, apply func(pageID uint32, data []byte) error) (ReplayResult, error) {
	var result ReplayResult
	offset := int64(0)
	hdr := make([]byte, walRecordHeaderSize)

	for {
		n, err := f.ReadAt(hdr, offset)
		if err != nil && err != io.EOF {
			return result, fmt.Errorf("wal: read header at %d: %w", offset, err)
		}
		if n < walRecordHeaderSize {
			break
		}
		recType := WALRecordType(hdr[0])
		if recType != WALPagePut {
			break
		}
		pageID := binary.LittleEndian.Uint32(hdr[1:5])
		length := binary.LittleEndian.Uint32(hdr[5:9])
		storedCRC := binary.LittleEndian.Uint32(hdr[9:13])

		data := make([]byte, length)
		n, err = f.ReadAt(data, offset+walRecordHeaderSize)
		if err != nil && err != io.EOF {
			return result, fmt.Errorf("wal: read data at %d: %w", offset, err)
		}
		if uint32(n) < length {
			break // incomplete tail: crash mid-write
		}

		crc := crc32.ChecksumIEEE(hdr[0 : walRecordHeaderSize-4])
		crc = crc32.Update(crc, crc32.IEEETable, data)
		if crc != storedCRC {
			break // corrupted tail record
		}

		if err := apply(pageID, data); err != nil {
			return result, fmt.Errorf("wal: apply page %d: %w", pageID, err)
		}

		result.RecordsApplied++
		offset += walRecordHeaderSize + int64(length)
		result.BytesValid = offset
	}

	return result, nil
}

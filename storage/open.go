package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tinydb-go/tinydb/telemetry"
)

// WALNameFor resolves a wal_name_format string ("{name}-wal.{ext}" by
// default) against a database path, splitting its final path
// component into name/ext.
func WALNameFor(dbPath, format string) string {
	dir, base := splitDir(dbPath)
	ext := ""
	name := base
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		name, ext = base[:i], base[i+1:]
	}
	if format == "" {
		format = "{name}-wal.{ext}"
	}
	return dir + strings.NewReplacer("{name}", name, "{ext}", ext).Replace(format)
}

func splitDir(path string) (dir, base string) {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i+1], path[i+1:]
	}
	return "", path
}

// Database bundles the open OS handles and the page manager for one
// TinyDb file: the unit Engine.Open creates and Engine.Close tears
// down.
type Database struct {
	PM    *PageManager
	Flush *FlushScheduler

	lock     *fileLock
	readOnly bool
}

// OpenOptions configures Open; zero values fall back to the documented
// defaults.
type OpenOptions struct {
	PageSize      uint32
	CacheSize     int
	EnableJournal bool
	WALNameFormat string
	FlushInterval time.Duration // <= 0 disables the background ticker
	ReadOnly      bool
	Logger        telemetry.Logger
	Metrics       *telemetry.Metrics
}

// Open acquires the advisory process lock on path, opens (or creates)
// the data file and its WAL, replays any WAL left from an unclean
// shutdown, and returns a ready PageManager plus flush scheduler.
func Open(path string, opts OpenOptions) (*Database, error) {
	lock, err := lockFile(path, opts.ReadOnly)
	if err != nil {
		return nil, err
	}

	walPath := WALNameFor(path, opts.WALNameFormat)
	if !opts.EnableJournal {
		if err := Delete(walPath); err != nil {
			lock.unlock()
			return nil, fmt.Errorf("storage: removing wal: %w", err)
		}
	}

	flags := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flags = os.O_RDONLY
	}
	dataOSFile, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		lock.unlock()
		return nil, fmt.Errorf("storage: open data file: %w", err)
	}
	disk := OpenDiskStream(dataOSFile)

	var wal *WAL
	var walOSFile *os.File
	if opts.EnableJournal {
		walOSFile, err = os.OpenFile(walPath, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			dataOSFile.Close()
			lock.unlock()
			return nil, fmt.Errorf("storage: open wal: %w", err)
		}
		wal, err = OpenWAL(walPath, walOSFile)
		if err != nil {
			walOSFile.Close()
			dataOSFile.Close()
			lock.unlock()
			return nil, err
		}
	}

	pm, err := OpenPageManager(disk, wal, opts.PageSize, opts.CacheSize, opts.ReadOnly, opts.Logger, opts.Metrics)
	if err != nil {
		if walOSFile != nil {
			walOSFile.Close()
		}
		dataOSFile.Close()
		lock.unlock()
		return nil, err
	}

	if wal != nil && !opts.ReadOnly {
		if err := recoverFromWAL(pm, walOSFile); err != nil {
			return nil, err
		}
	}

	flush := NewFlushScheduler(pm, opts.FlushInterval, opts.Logger, opts.Metrics)
	flush.Start()

	return &Database{PM: pm, Flush: flush, lock: lock, readOnly: opts.ReadOnly}, nil
}

// recoverFromWAL replays every well-formed record onto the data file
// and truncates the log to its last good record. A bad type byte, bad
// length, incomplete tail, or CRC mismatch stops replay silently —
// corruption inside the WAL is never surfaced as an error.
func recoverFromWAL(pm *PageManager, walFile File) error {
	result, err := Replay(walFile, pm.RestorePage)
	if err != nil {
		return err
	}
	if result.RecordsApplied == 0 {
		return nil
	}
	pm.logger.Info("replayed write-ahead log", map[string]interface{}{
		"records": result.RecordsApplied, "bytes": result.BytesValid,
	})
	if err := walFile.Truncate(result.BytesValid); err != nil {
		return err
	}
	// Replay may have restored a newer image of page 1; re-read it so
	// the in-memory header matches what's now on disk.
	return pm.loadHeader()
}

// Close stops the flush scheduler, flushes and fsyncs everything
// outstanding, then releases the OS file handles and advisory lock.
// PageManager.Close handles the final FlushDirty plus closing the
// data file and WAL.
func (db *Database) Close() error {
	db.Flush.Stop()
	if !db.readOnly {
		if err := db.Flush.EnsureDurability(context.Background(), WriteConcernSynced); err != nil {
			return err
		}
	}
	if err := db.PM.Close(); err != nil {
		return err
	}
	if db.lock != nil {
		return db.lock.unlock()
	}
	return nil
}

package tinydb

import (
	"time"

	"github.com/tinydb-go/tinydb/storage"
	"github.com/tinydb-go/tinydb/telemetry"
)

// Options configures Open.
type Options struct {
	// Password, if set, is verified against stored metadata on an
	// existing database, or used to derive and store metadata when
	// creating a new one.
	Password string

	// PageSize is fixed at creation time and immutable afterward; a
	// zero value falls back to storage.DefaultPageSize. Ignored when
	// opening an existing database (the file's own header wins).
	PageSize uint32

	// CacheSize caps the number of pages held in the in-memory LRU
	// cache. Zero falls back to 1000.
	CacheSize int

	// EnableJournaling turns the WAL on (default true). Disabling it
	// deletes any WAL file left over from a previous run at startup.
	EnableJournaling *bool

	// WriteConcernDefault is the durability level transactions commit
	// with when the caller doesn't request one explicitly.
	WriteConcernDefault storage.WriteConcern

	// Timeout bounds how long a single Find query may run before its
	// sequence ends; zero means no timeout.
	Timeout time.Duration

	// WALNameFormat overrides the WAL filename template; must contain
	// "{name}" and "{ext}" placeholders. Empty uses "{name}-wal.{ext}".
	WALNameFormat string

	// FlushInterval is the background flusher's tick period; zero
	// disables the periodic flush (EnsureDurability is still available
	// on demand).
	FlushInterval time.Duration

	// ReadOnly opens the database refusing all mutating operations.
	ReadOnly bool

	// Logger receives background/best-effort events (WAL replay
	// truncation, background flush failures, scan-time decode skips). Nil discards
	// everything.
	Logger *telemetry.Logger

	// Metrics, if set, receives the engine's cache/durability gauges.
	// Nil disables metrics collection entirely.
	Metrics *telemetry.Metrics
}

func (o Options) logger() telemetry.Logger {
	if o.Logger == nil {
		return telemetry.NewNop()
	}
	return *o.Logger
}

func (o Options) journalingEnabled() bool {
	if o.EnableJournaling == nil {
		return true
	}
	return *o.EnableJournaling
}

func (o Options) cacheSize() int {
	if o.CacheSize <= 0 {
		return 1000
	}
	return o.CacheSize
}

// EnableJournaling is a convenience constructor for Options.EnableJournaling
// since Go has no optional-bool literal syntax.
func EnableJournaling(v bool) *bool { return &v }

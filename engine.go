// Package tinydb is an embedded, single-file document database: a
// paged store with WAL-backed durability, BSON documents, B-tree
// secondary indexes, and a cost-based query planner. Engine is the
// package's entry point.
package tinydb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tinydb-go/tinydb/catalog"
	"github.com/tinydb-go/tinydb/security"
	"github.com/tinydb-go/tinydb/storage"
	"github.com/tinydb-go/tinydb/telemetry"
	"github.com/tinydb-go/tinydb/txn"
)

// Engine is one open database. mu guards the engine's own state (the
// closed flag, the open-collection map, the catalog listing and the
// header's security metadata); the transaction lifecycle is serialized
// by the transaction manager's own lock. Collection reads and writes,
// and CompactCollection's rewrite, take neither lock.
type Engine struct {
	mu sync.Mutex

	db  *storage.Database
	cat *catalog.Catalog
	txm *txn.Manager

	collections map[string]*catalog.Collection

	writeConcern storage.WriteConcern
	timeout      time.Duration
	logger       telemetry.Logger
	metrics      *telemetry.Metrics

	closed bool
}

// Open opens the database file at path, creating it if absent. See
// Options for the recognized configuration knobs.
func Open(path string, opts Options) (*Engine, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrInvalidArgument)
	}

	logger := opts.logger()
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout", ErrInvalidArgument)
	}

	db, err := storage.Open(path, storage.OpenOptions{
		PageSize:      opts.PageSize,
		CacheSize:     opts.cacheSize(),
		EnableJournal: opts.journalingEnabled(),
		WALNameFormat: opts.WALNameFormat,
		FlushInterval: opts.FlushInterval,
		ReadOnly:      opts.ReadOnly,
		Logger:        logger,
		Metrics:       opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}

	if err := applyPassword(db.PM, opts.Password, opts.ReadOnly); err != nil {
		db.Close()
		return nil, err
	}

	cat, err := catalog.Open(db.PM)
	if err != nil {
		db.Close()
		return nil, err
	}

	e := &Engine{
		db:           db,
		cat:          cat,
		txm:          txn.NewManager(),
		collections:  make(map[string]*catalog.Collection),
		writeConcern: opts.WriteConcernDefault,
		timeout:      opts.Timeout,
		logger:       logger,
		metrics:      opts.Metrics,
	}
	return e, nil
}

// applyPassword implements the password option's contract: verify
// against stored metadata if the database already has a password, set
// it fresh if this is the first open with one, refuse opening a
// protected database with none supplied.
func applyPassword(pm *storage.PageManager, password string, readOnly bool) error {
	blob := security.Metadata(pm.SecurityMetadata())
	protected := security.IsProtected(blob)

	switch {
	case protected && password == "":
		return fmt.Errorf("%w: database is password-protected", ErrUnauthorized)
	case protected:
		if err := security.Verify(blob, password); err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil
	case password != "" && readOnly:
		return fmt.Errorf("%w: cannot set a password on a read-only open", ErrInvalidArgument)
	case password != "":
		derived, err := security.Derive(password)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
		return pm.SetSecurityMetadata([49]byte(derived))
	default:
		return nil
	}
}

// Close flushes and releases the database file. Afterwards, calls that
// open a collection (GetCollection, GetStructCollection,
// CompactCollection, and a Commit that applies writes) return
// ErrDisposed; the other Engine methods, and Collection values obtained
// before Close, do not check for it.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

// CollectionNames lists every collection the catalog currently tracks.
func (e *Engine) CollectionNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cat.Names()
}

// CompactCollection rewrites name's data pages, dropping tombstoned
// rows, and rebuilds every index from scratch. Callers must not hold
// an active transaction on this engine while compacting, since
// compaction bypasses the overlay and rewrites storage directly.
func (e *Engine) CompactCollection(name string) error {
	// Checked before touching the engine mutex: Commit holds the
	// transaction manager's lock while it re-enters the engine, so the
	// two locks must never be taken in the opposite order here.
	if _, active := e.txm.Active(); active {
		return fmt.Errorf("%w: cannot compact while a transaction is active", ErrInvalidArgument)
	}
	store, err := e.ensureCollection(name)
	if err != nil {
		return err
	}
	return store.Compact()
}

// GetSecurityMetadata returns the opaque salt||hash||flag blob stored
// in the database header.
func (e *Engine) GetSecurityMetadata() [storage.SecurityMetadataSize]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.PM.SecurityMetadata()
}

// SetSecurityMetadata overwrites the stored blob verbatim; the engine
// never interprets it.
func (e *Engine) SetSecurityMetadata(blob [storage.SecurityMetadataSize]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.PM.SetSecurityMetadata(blob)
}

// ClearSecurityMetadata removes password protection.
func (e *Engine) ClearSecurityMetadata() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.PM.ClearSecurityMetadata()
}

// ensureCollection returns the open catalog.Collection for name,
// creating and registering a new one the first time it's requested
// (there is no separate create step — a fresh name simply starts
// empty).
func (e *Engine) ensureCollection(name string) (*catalog.Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty collection name", ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrDisposed
	}
	if c, ok := e.collections[name]; ok {
		return c, nil
	}
	if meta, ok := e.cat.Get(name); ok {
		c := catalog.OpenCollection(e.db.PM, e.cat, meta)
		c.SetLogger(e.logger)
		e.collections[name] = c
		return c, nil
	}
	c, err := catalog.Create(e.db.PM, e.cat, name)
	if err != nil {
		return nil, err
	}
	c.SetLogger(e.logger)
	e.collections[name] = c
	return c, nil
}

// ensureDurability requests concern from the flush scheduler; zero
// value (WriteConcernNone) falls back to the engine's configured
// default.
func (e *Engine) ensureDurability(ctx context.Context, concern storage.WriteConcern) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if concern == storage.WriteConcernNone {
		concern = e.writeConcern
	}
	return e.db.Flush.EnsureDurability(ctx, concern)
}

// Transaction is a handle to one open transaction on an Engine.
// Obtain one via BeginTransaction; operations performed through
// a *Collection[T] created with this Engine are buffered in the
// transaction's per-collection overlay until Commit.
type Transaction struct {
	engine  *Engine
	handle  *txn.Handle
	concern storage.WriteConcern
}

// BeginTransaction starts a new transaction with concern as its
// eventual commit durability (WriteConcernNone uses the engine's
// configured default). Returns an error if a transaction is already
// active — nested transactions are rejected.
func (e *Engine) BeginTransaction(concern storage.WriteConcern) (*Transaction, error) {
	if concern == storage.WriteConcernNone {
		concern = e.writeConcern
	}
	h, err := e.txm.Begin(concern)
	if err != nil {
		return nil, err
	}
	return &Transaction{engine: e, handle: h, concern: concern}, nil
}

// Commit applies every buffered write through the real collections,
// each through its normal index-maintaining path, then requests
// durability at the transaction's write concern. A failure partway
// still ends the transaction: there is
// nothing left to retry since the buffered overlay is consumed as it
// commits.
func (tx *Transaction) Commit(ctx context.Context) error {
	err := tx.engine.txm.Commit(tx.handle, func(name string, ov *txn.Overlay) error {
		store, err := tx.engine.ensureCollection(name)
		if err != nil {
			return err
		}
		return applyOverlay(store, ov)
	})
	if err != nil {
		return err
	}
	return tx.engine.ensureDurability(ctx, tx.concern)
}

// Rollback discards every buffered write; no storage was ever
// touched.
func (tx *Transaction) Rollback() error {
	return tx.engine.txm.Rollback(tx.handle)
}

// applyOverlay replays one collection's buffered writes against its
// real storage, choosing Insert vs Update by whether the id already
// exists on disk.
func applyOverlay(store *catalog.Collection, ov *txn.Overlay) error {
	for _, w := range ov.Writes() {
		existingDoc, existingRid, err := store.FindByID(w.ID)
		exists := err == nil
		if w.Doc == nil {
			if exists {
				if err := store.Delete(existingRid, existingDoc); err != nil {
					return err
				}
			}
			continue
		}
		if exists {
			if _, err := store.Update(existingRid, existingDoc, w.Doc); err != nil {
				return err
			}
		} else {
			if _, err := store.Insert(w.Doc); err != nil {
				return err
			}
		}
	}
	return nil
}

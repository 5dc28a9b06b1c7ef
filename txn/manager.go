package txn

import (
	"fmt"
	"sync"

	"github.com/tinydb-go/tinydb/bson"
	"github.com/tinydb-go/tinydb/storage"
)

// ErrAlreadyActive is returned by Begin when the engine instance
// already has an open transaction; nested begin is rejected.
var ErrAlreadyActive = fmt.Errorf("txn: a transaction is already active on this engine")

// ErrNotActive is returned by Commit/Rollback when handed a handle
// that isn't the manager's current transaction (already committed,
// already rolled back, or from a different Manager).
var ErrNotActive = fmt.Errorf("txn: handle is not the active transaction")

// Handle is a single transaction: one overlay per collection it
// touched, plus the write concern its eventual commit will use. The
// zero value is not usable; obtain one from Manager.Begin.
type Handle struct {
	mgr      *Manager
	concern  storage.WriteConcern
	overlays map[string]*Overlay
}

// Overlay returns the collection's overlay, for handing to the query
// executor as query.Overlay. Returns nil if the transaction hasn't
// touched that collection yet — callers should treat a nil overlay
// exactly like "no active transaction" for that scan.
func (h *Handle) Overlay(collection string) *Overlay {
	return h.overlays[collection]
}

// WriteConcern is the durability level Commit will request from the
// storage layer.
func (h *Handle) WriteConcern() storage.WriteConcern { return h.concern }

func (h *Handle) overlayFor(collection string) *Overlay {
	ov, ok := h.overlays[collection]
	if !ok {
		ov = NewOverlay()
		h.overlays[collection] = ov
	}
	return ov
}

// RecordInsert buffers an insert against collection. doc must already
// carry the _id the caller intends to persist.
func (h *Handle) RecordInsert(collection string, doc *bson.Document) {
	h.overlayFor(collection).RecordWrite(doc)
}

// RecordUpdate buffers an update against collection, replacing
// whatever the overlay currently holds for newDoc's _id.
func (h *Handle) RecordUpdate(collection string, newDoc *bson.Document) {
	h.overlayFor(collection).RecordWrite(newDoc)
}

// RecordDelete buffers a delete against collection.
func (h *Handle) RecordDelete(collection string, id bson.Value) {
	h.overlayFor(collection).RecordDelete(id)
}

// Collections returns the names of every collection this transaction
// has touched, for Manager.Commit's replay pass.
func (h *Handle) Collections() []string {
	names := make([]string, 0, len(h.overlays))
	for name := range h.overlays {
		names = append(names, name)
	}
	return names
}

// Manager enforces the single-active-transaction rule: one engine
// instance, one open transaction at a time, serialized by mu.
type Manager struct {
	mu     sync.Mutex
	active *Handle
}

// NewManager returns a transaction manager with no active transaction.
func NewManager() *Manager {
	return &Manager{}
}

// Begin starts a new transaction with concern as its eventual commit
// durability. Returns ErrAlreadyActive if one is already open.
func (m *Manager) Begin(concern storage.WriteConcern) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, ErrAlreadyActive
	}
	h := &Handle{mgr: m, concern: concern, overlays: make(map[string]*Overlay)}
	m.active = h
	return h, nil
}

// Active reports the manager's current transaction, if any.
func (m *Manager) Active() (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != nil
}

// Apply replays one collection's buffered writes against the real
// store; Commit calls it once per touched collection while holding the
// manager locked, so the actual page mutations and WAL appends happen
// serialized with any other transaction lifecycle call.
type Apply func(collection string, ov *Overlay) error

// Commit applies every touched collection's overlay via apply, in an
// unspecified but per-collection-independent order (documents never
// span collections, so cross-collection ordering isn't observable),
// then clears the active slot regardless of apply's outcome — a
// failed commit still ends the transaction rather than leaving it
// retriable, since the overlay that produced the failure is gone
// either way.
func (m *Manager) Commit(h *Handle, apply Apply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != h {
		return ErrNotActive
	}
	m.active = nil
	for name, ov := range h.overlays {
		if ov.Empty() {
			continue
		}
		if err := apply(name, ov); err != nil {
			return fmt.Errorf("txn: commit %q: %w", name, err)
		}
	}
	return nil
}

// Rollback discards h's overlay without touching storage — no WAL
// records exist to undo since writes only ever reached the overlay.
func (m *Manager) Rollback(h *Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != h {
		return ErrNotActive
	}
	m.active = nil
	return nil
}

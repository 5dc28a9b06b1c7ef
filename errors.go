package tinydb

import (
	"errors"
	"fmt"

	"github.com/tinydb-go/tinydb/catalog"
	"github.com/tinydb-go/tinydb/index"
	"github.com/tinydb-go/tinydb/security"
	"github.com/tinydb-go/tinydb/storage"
)

// The error kinds the engine distinguishes. Where a
// lower package already defines the underlying sentinel (storage,
// catalog, index, security), these wrap it with errors.Is support
// rather than introducing a second, unrelated sentinel.
var (
	// ErrIoError wraps an underlying read/write/fsync failure.
	ErrIoError = errors.New("tinydb: io error")
	// ErrNotFound names a missing collection, document, or index.
	ErrNotFound = errors.New("tinydb: not found")
	// ErrConflict is a unique-index violation on insert/update.
	ErrConflict = index.ErrDuplicateKey
	// ErrUnauthorized is a failed password verification at open.
	ErrUnauthorized = security.ErrWrongPassword
	// ErrUnsupported marks a predicate the optimizer could not plan and
	// had to fall back to a full scan for.
	ErrUnsupported = errors.New("tinydb: unsupported predicate")
	// ErrInvalidArgument is a null/empty name or out-of-range size,
	// surfaced eagerly rather than on first use.
	ErrInvalidArgument = errors.New("tinydb: invalid argument")
	// ErrDisposed marks an operation attempted after Close.
	ErrDisposed = errors.New("tinydb: engine is closed")
)

// IsCorrupted reports whether err is (or wraps) a storage-level
// checksum/magic/header corruption.
func IsCorrupted(err error) bool {
	var ce *storage.ErrCorrupted
	return errors.As(err, &ce)
}

// wrapNotFound maps the lower layers' own not-found sentinels onto
// ErrNotFound so callers can use a single errors.Is(err, ErrNotFound)
// regardless of which package produced it.
func wrapNotFound(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

package storage

import (
	"errors"
	"fmt"
)

// ErrCorrupted signals a checksum mismatch, bad magic, or an impossible
// header field. WAL replay truncation is the one corruption that is
// not surfaced, and does not use this error.
type ErrCorrupted struct{ reason string }

func (e *ErrCorrupted) Error() string { return fmt.Sprintf("storage: corrupted: %s", e.reason) }

func errCorrupted(reason string) error { return &ErrCorrupted{reason: reason} }

// ErrReadOnly is returned by any mutating PageManager call when the
// database was opened read-only.
var ErrReadOnly = errors.New("storage: database opened read-only")

//go:build js || wasip1

package storage

// fileLock is a no-op on js/wasm (in-memory only, no file system): a
// wasm host is always single-process, so there is nothing for TinyDb's
// read-only-vs-exclusive lock mode to guard against.
type fileLock struct{}

// lockFile is a no-op on js/wasm; readOnly is accepted only to keep
// the signature uniform across build targets.
func lockFile(_ string, _ bool) (*fileLock, error) {
	return &fileLock{}, nil
}

// unlock is a no-op on js/wasm.
func (fl *fileLock) unlock() error {
	return nil
}

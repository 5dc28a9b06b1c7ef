// Package security derives and verifies the opaque password-protection
// blob the storage layer carries but never interprets:
// salt[16] || key_hash[32] || flag(1), where flag is 1 once a password
// has been set and 0 for an unprotected database.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	hashSize   = 32
	blobSize   = saltSize + hashSize + 1
	iterations = 100_000
)

// ErrWrongPassword is returned by Verify when the derived hash does not
// match the stored one.
var ErrWrongPassword = errors.New("security: incorrect password")

// ErrNotProtected is returned by Verify against an unprotected database.
var ErrNotProtected = errors.New("security: database has no password set")

// Metadata is the fixed-size blob stored verbatim in the database
// header (storage.SecurityMetadataSize bytes).
type Metadata [blobSize]byte

// Derive generates a fresh salt and key hash for password, producing
// the blob to hand to storage.PageManager.SetSecurityMetadata.
func Derive(password string) (Metadata, error) {
	var m Metadata
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return m, fmt.Errorf("security: generating salt: %w", err)
	}
	hash := deriveHash(password, salt)
	copy(m[0:saltSize], salt)
	copy(m[saltSize:saltSize+hashSize], hash)
	m[blobSize-1] = 1
	return m, nil
}

// Verify checks password against a previously derived blob using a
// constant-time comparison.
func Verify(blob Metadata, password string) error {
	if blob[blobSize-1] == 0 {
		return ErrNotProtected
	}
	salt := blob[0:saltSize]
	want := blob[saltSize : saltSize+hashSize]
	got := deriveHash(password, salt)
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return ErrWrongPassword
	}
	return nil
}

// IsProtected reports whether blob marks the database as
// password-protected.
func IsProtected(blob Metadata) bool {
	return blob[blobSize-1] == 1
}

func deriveHash(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, hashSize, sha256.New)
}

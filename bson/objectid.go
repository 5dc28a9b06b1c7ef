package bson

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ObjectID is the 12-byte document identifier: a 4-byte big-endian
// seconds timestamp, a 5-byte process/machine nonce, and a 3-byte
// big-endian monotonic counter. Bytes compare lexicographically in
// generation order.
type ObjectID [12]byte

var processNonce = deriveProcessNonce()
var objectIDCounter uint32

// deriveProcessNonce takes the low 5 bytes of a freshly generated UUID
// as the process-unique component, instead of reading crypto/rand on
// every call.
func deriveProcessNonce() [5]byte {
	var nonce [5]byte
	u := uuid.New()
	copy(nonce[:], u[len(u)-5:])
	return nonce
}

// NewObjectID generates a new, monotonically-ordered-within-process ObjectID.
func NewObjectID() ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], processNonce[:])
	c := atomic.AddUint32(&objectIDCounter, 1) & 0x00FFFFFF
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}

// Timestamp returns the embedded creation time.
func (id ObjectID) Timestamp() time.Time {
	sec := binary.BigEndian.Uint32(id[0:4])
	return time.Unix(int64(sec), 0).UTC()
}

func (id ObjectID) String() string {
	return hex.EncodeToString(id[:])
}

// Compare returns -1, 0, or 1 comparing two ObjectIDs byte-for-byte.
func (id ObjectID) Compare(other ObjectID) int {
	for i := range id {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ObjectIDFromHex parses a 24-character hex string into an ObjectID.
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("bson: invalid ObjectID hex %q: %w", s, err)
	}
	if len(b) != 12 {
		return id, fmt.Errorf("bson: ObjectID must be 12 bytes, got %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}
